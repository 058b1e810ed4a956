package config

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"dealer_scraper/models"
)

var ErrMissingColumn = errors.New("missing column")

// DealerSource supplies the dealer list a run works from.
type DealerSource interface {
	LoadDealers() ([]models.Dealer, error)
}

// CSVDealerSource reads a CSV with a header row containing Dealer, City,
// Website and Phone columns, in any order.
type CSVDealerSource struct {
	Path string
}

func (s CSVDealerSource) LoadDealers() ([]models.Dealer, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dealers, err := ReadDealers(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.Path, err)
	}
	return dealers, nil
}

func ReadDealers(r io.Reader) ([]models.Dealer, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, err
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	nameCol, ok := cols["dealer"]
	if !ok {
		return nil, fmt.Errorf("%w: Dealer", ErrMissingColumn)
	}

	field := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var dealers []models.Dealer
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if nameCol >= len(rec) || strings.TrimSpace(rec[nameCol]) == "" {
			continue
		}
		dealers = append(dealers, models.Dealer{
			Name:    field(rec, "dealer"),
			City:    field(rec, "city"),
			Website: field(rec, "website"),
			Phone:   field(rec, "phone"),
		})
	}
	return dealers, nil
}
