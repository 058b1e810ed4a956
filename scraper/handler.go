package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/phuslu/log"

	"dealer_scraper/models"
)

const DefaultFilterYear = "2026"

// Adapter knows where one dealer platform keeps its inventory and how to read it.
type Adapter interface {
	Platform() string
	Scrape(ctx context.Context, target models.DealerTarget, filter Filter) ([]models.Vehicle, error)
}

// vehicleParser turns one raw entry into a canonical vehicle.
type vehicleParser interface {
	ParseVehicle(raw map[string]any, lc ListingContext) (*models.Vehicle, error)
}

// ListingContext is the static context every entry on a page shares.
type ListingContext struct {
	Dealer    string
	SourceURL string
}

type AdapterConfig struct {
	StateTimeout time.Duration
	MaxPages     int
	// PageDelay runs between consecutive pages of one target.
	PageDelay func()
}

func (c AdapterConfig) withDefaults() AdapterConfig {
	if c.StateTimeout <= 0 {
		c.StateTimeout = 15 * time.Second
	}
	if c.MaxPages <= 0 {
		c.MaxPages = 10
	}
	if c.PageDelay == nil {
		c.PageDelay = func() { humanDelay(3000, 6000) }
	}
	return c
}

// Filter narrows a target's inventory to one model (and year).
type Filter struct {
	Model string
	Year  string
}

// NewFilter applies the year only alongside a model, defaulting it when omitted.
func NewFilter(model, year string) Filter {
	if model == "" {
		return Filter{}
	}
	if year == "" {
		year = DefaultFilterYear
	}
	return Filter{Model: model, Year: year}
}

func (f Filter) IsZero() bool {
	return f.Model == "" && f.Year == ""
}

func NewAdapter(platform string, renderer Renderer, cfg AdapterConfig) (Adapter, error) {
	switch platform {
	case models.PlatformDealerCom:
		return NewDealerComAdapter(renderer, cfg), nil
	case models.PlatformRoadster:
		return NewRoadsterAdapter(renderer, cfg), nil
	default:
		return nil, fmt.Errorf("unknown platform: %s", platform)
	}
}

// NewAdapters builds one adapter per supported platform, keyed by platform.
func NewAdapters(renderer Renderer, cfg AdapterConfig) map[string]Adapter {
	adapters := make(map[string]Adapter)
	for _, platform := range []string{models.PlatformDealerCom, models.PlatformRoadster} {
		a, err := NewAdapter(platform, renderer, cfg)
		if err != nil {
			continue
		}
		adapters[platform] = a
	}
	return adapters
}

// locateListing returns the first path whose value is a non-empty list.
func locateListing(page Page, paths []string) ([]any, string, bool) {
	for _, path := range paths {
		v, err := page.Lookup(path)
		if err != nil {
			log.Debug().Err(err).Str("path", path).Msg("State lookup failed")
			continue
		}
		if list, ok := v.([]any); ok && len(list) > 0 {
			return list, path, true
		}
	}
	return nil, "", false
}

func parseEntries(p vehicleParser, entries []any, lc ListingContext) []models.Vehicle {
	vehicles := make([]models.Vehicle, 0, len(entries))
	for i, entry := range entries {
		raw, ok := entry.(map[string]any)
		if !ok {
			log.Warn().Str("dealer", lc.Dealer).Int("index", i).Msg("Skipping non-object vehicle entry")
			continue
		}
		v, err := p.ParseVehicle(raw, lc)
		if err != nil {
			if errors.Is(err, ErrMissingIdentifier) {
				log.Warn().Str("dealer", lc.Dealer).Int("index", i).Msg("Skipping vehicle without VIN")
			} else {
				log.Error().Err(err).Str("dealer", lc.Dealer).Int("index", i).Msg("Failed to parse vehicle")
			}
			continue
		}
		vehicles = append(vehicles, *v)
	}
	return vehicles
}
