package scraper

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingIdentifier    = errors.New("vehicle entry has no VIN")
	ErrStructuralExtraction = errors.New("no vehicle list found in page state")
	ErrNoSupportedDealers   = errors.New("no supported dealers found")
)

// StructuralError reports a target whose page state held no vehicle list at any
// known location. Snapshot is the rendered HTML when it could be captured.
type StructuralError struct {
	Dealer   string
	URL      string
	Paths    []string
	Snapshot string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("%s: %v at %s (tried %s)", e.Dealer, ErrStructuralExtraction, e.URL, strings.Join(e.Paths, ", "))
}

func (e *StructuralError) Unwrap() error {
	return ErrStructuralExtraction
}

func structuralError(dealer string, page Page, paths []string) *StructuralError {
	se := &StructuralError{Dealer: dealer, URL: page.URL(), Paths: paths}
	if html, err := page.HTML(); err == nil {
		se.Snapshot = html
	}
	return se
}
