package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Archiver keeps debugging artifacts such as page snapshots and run logs.
type Archiver interface {
	Archive(ctx context.Context, key string, data io.Reader, contentType string) error
}

// DirArchiver writes artifacts under a local directory, key paths preserved.
type DirArchiver struct {
	root string
}

func NewDirArchiver(root string) *DirArchiver {
	return &DirArchiver{root: root}
}

func (a *DirArchiver) Archive(ctx context.Context, key string, data io.Reader, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Rooting the key before cleaning keeps it inside a.root.
	path := filepath.Join(a.root, filepath.Clean("/"+key))

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create archive file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, data); err != nil {
		return fmt.Errorf("write archive file: %w", err)
	}
	return nil
}
