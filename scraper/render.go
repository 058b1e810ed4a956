package scraper

import (
	"context"
	"time"
)

// Renderer loads inventory pages in a browser and hands back their live state.
type Renderer interface {
	Open(ctx context.Context, url string) (Page, error)
	Close() error
}

// Page is one rendered document. Lookup resolves a dotted path under window
// (for example "DDC.InvData.inventory") into plain maps, slices and scalars;
// a path that does not exist resolves to nil without error.
type Page interface {
	URL() string
	Lookup(path string) (any, error)
	WaitFor(path string, timeout time.Duration) error
	HTML() (string, error)
	Close() error
}
