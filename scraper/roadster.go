package scraper

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/phuslu/log"

	"dealer_scraper/models"
	"dealer_scraper/normalize"
)

const (
	roadsterTag       = "Roadster"
	roadsterStatePath = "pageData"
)

var roadsterListingPaths = []string{
	"pageData.search.vehicles",
	"pageData.search.new_inventory",
	"pageData.search.results",
	"pageData.vehicles",
	"pageData.results",
}

var roadsterRules = vehicleRules{
	vin:      fieldRule[string]{aliases: []string{"vin", "VIN"}, present: normalize.Truthy, convert: identifier},
	title:    textRule(normalize.Truthy, "title", "name"),
	year:     fieldRule[int]{aliases: []string{"year"}, present: normalize.Present, convert: normalize.Year},
	make:     textRule(normalize.Truthy, "make"),
	model:    textRule(normalize.Truthy, "model", "submodel"),
	trim:     textRule(normalize.Truthy, "trim", "series"),
	price:    fieldRule[float64]{aliases: []string{"price", "asking_price", "dealer_starting_price"}, present: normalize.Truthy, convert: normalize.Price},
	msrp:     fieldRule[float64]{aliases: []string{"calc_msrp", "msrp", "original_price"}, present: normalize.Truthy, convert: normalize.Price},
	extColor: fieldRule[string]{aliases: []string{"exterior_color", "ext_color"}, present: normalize.Truthy, convert: normalize.Color},
	intColor: fieldRule[string]{aliases: []string{"interior_color", "int_color"}, present: normalize.Truthy, convert: normalize.Color},
	odometer: fieldRule[int]{aliases: []string{"mileage", "odometer"}, present: normalize.Truthy, convert: normalize.Odometer},
	options:  fieldRule[string]{aliases: []string{"options", "packages"}, present: normalize.Truthy, convert: normalize.Options},
}

var roadsterDetailURL = textRule(normalize.Truthy, "url", "detail_url")

// RoadsterAdapter reads inventory from the window.pageData object Roadster storefronts expose.
type RoadsterAdapter struct {
	renderer Renderer
	cfg      AdapterConfig
}

func NewRoadsterAdapter(renderer Renderer, cfg AdapterConfig) *RoadsterAdapter {
	return &RoadsterAdapter{renderer: renderer, cfg: cfg.withDefaults()}
}

func (a *RoadsterAdapter) Platform() string {
	return models.PlatformRoadster
}

func (a *RoadsterAdapter) Scrape(ctx context.Context, target models.DealerTarget, filter Filter) ([]models.Vehicle, error) {
	pageURL := RoadsterURL(target.InventoryURL, filter)

	page, err := a.renderer.Open(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", pageURL, err)
	}
	defer page.Close()

	if err := page.WaitFor(roadsterStatePath, a.cfg.StateTimeout); err != nil {
		log.Warn().Str("dealer", target.Name).Dur("timeout", a.cfg.StateTimeout).Msg("Timeout waiting for pageData")
	}

	state, err := page.Lookup(roadsterStatePath)
	if _, isMap := state.(map[string]any); err != nil || !isMap {
		return nil, structuralError(target.Name, page, roadsterListingPaths)
	}

	entries, path, ok := locateListing(page, roadsterListingPaths)
	if !ok {
		return nil, structuralError(target.Name, page, roadsterListingPaths)
	}
	log.Info().Str("dealer", target.Name).Str("path", path).Int("entries", len(entries)).Msg("Found vehicles")

	return parseEntries(a, entries, ListingContext{Dealer: target.Name, SourceURL: page.URL()}), nil
}

func (a *RoadsterAdapter) ParseVehicle(raw map[string]any, lc ListingContext) (*models.Vehicle, error) {
	vin, ok := roadsterRules.vin.resolve(raw)
	if !ok {
		return nil, ErrMissingIdentifier
	}

	v := &models.Vehicle{
		VIN:            vin,
		Dealer:         lc.Dealer,
		DealerPlatform: roadsterTag,
	}
	roadsterRules.apply(raw, v)

	if v.Make == nil {
		v.Make = models.StrPtr(models.DefaultMake)
	}
	if v.Title == nil && v.Year != nil && v.Model != nil {
		title := normalize.Title(v.Year, *v.Make, *v.Model, models.StrValue(v.Trim))
		v.Title = &title
	}

	detail, _ := roadsterDetailURL.resolve(raw)
	v.SourceURL = resolveDetailURL(detail, lc.SourceURL)
	return v, nil
}

// resolveDetailURL joins a relative detail link onto the listing URL. Anything
// else, including an already absolute link, falls back to the listing URL.
func resolveDetailURL(detail, source string) string {
	if detail == "" || strings.HasPrefix(detail, "http") {
		return source
	}
	base, err := url.Parse(source)
	if err != nil {
		return source
	}
	ref, err := url.Parse(detail)
	if err != nil {
		return source
	}
	return base.ResolveReference(ref).String()
}

// RoadsterURL appends Roadster's facet filters for model and year.
func RoadsterURL(base string, filter Filter) string {
	var params []string
	if filter.Model != "" {
		params = append(params, "f=submodel:"+url.QueryEscape(filter.Model))
	}
	if filter.Year != "" {
		params = append(params, "f=year:"+url.QueryEscape(filter.Year))
	}
	if len(params) == 0 {
		return base
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + strings.Join(params, "&")
}
