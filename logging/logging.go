package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/phuslu/log"
)

const (
	maxLogSize    = 10 * 1024 * 1024 // 10MB
	maxLogBackups = 3
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Setup points the default logger at stderr and, when logPath is set, at a
// size-rotated file as well. The returned closer flushes that file.
func Setup(logPath, level string) (io.Closer, error) {
	console := &log.ConsoleWriter{Writer: os.Stderr}

	var writer log.Writer = console
	var closer io.Closer = nopCloser{}

	if logPath != "" {
		if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		file := &log.FileWriter{
			Filename:   logPath,
			MaxSize:    maxLogSize,
			MaxBackups: maxLogBackups,
			LocalTime:  true,
		}
		writer = &log.MultiEntryWriter{console, file}
		closer = file
	}

	log.DefaultLogger = log.Logger{
		Level:      log.ParseLevel(level),
		Caller:     1,
		TimeFormat: "2006-01-02 15:04:05",
		Writer:     writer,
	}
	return closer, nil
}

// JobLogPath is where a job's run process writes its output.
func JobLogPath(dir string, jobID int64) string {
	return filepath.Join(dir, fmt.Sprintf("scraper-%d.log", jobID))
}
