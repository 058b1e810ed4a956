package scraper

import (
	"context"
	"fmt"
	"net/url"

	"github.com/phuslu/log"

	"dealer_scraper/models"
	"dealer_scraper/normalize"
)

const (
	dealerComTag       = "Dealer.com"
	dealerComPageSize  = 18
	dealerComStatePath = "DDC.InvData.inventory"
)

// Primary location first, then the alternates seen across Dealer.com themes.
var dealerComListingPaths = []string{
	"DDC.InvData.inventory.inventory",
	"DDC.inventory",
	"inventory",
	"_DDC.InvData.inventory",
	"ddc.InvData.inventory",
	"DDC.inventoryData",
	"DDC.InvData.vehicles",
}

var dealerComRules = vehicleRules{
	vin:   fieldRule[string]{aliases: []string{"vin", "VIN"}, present: normalize.Truthy, convert: identifier},
	title: textRule(normalize.Truthy, "title", "vehicleTitle"),
	year:  fieldRule[int]{aliases: []string{"year", "Year"}, present: normalize.Truthy, convert: normalize.Year},
	make:  textRule(normalize.Truthy, "make", "Make"),
	model: textRule(normalize.Truthy, "model", "Model"),
	trim:  textRule(normalize.Truthy, "trim", "Trim", "series"),
	price: fieldRule[float64]{
		aliases: []string{"price", "sellingPrice", "internetPrice"},
		present: normalize.Present,
		convert: normalize.Price,
		retry:   true,
	},
	msrp: fieldRule[float64]{
		aliases: []string{"msrp", "MSRP", "listPrice"},
		present: normalize.Present,
		convert: normalize.Price,
		retry:   true,
	},
	extColor: fieldRule[string]{aliases: []string{"extColor", "exteriorColor", "ext_color"}, present: normalize.Truthy, convert: normalize.Color},
	intColor: fieldRule[string]{aliases: []string{"intColor", "interiorColor", "int_color"}, present: normalize.Truthy, convert: normalize.Color},
	odometer: fieldRule[int]{aliases: []string{"odometer", "mileage", "miles"}, present: normalize.Truthy, convert: normalize.Odometer},
	options:  fieldRule[string]{aliases: []string{"options", "packageCodes"}, present: normalize.Truthy, convert: normalize.Options},
}

// DealerComAdapter reads inventory from the DDC state object Dealer.com sites embed.
type DealerComAdapter struct {
	renderer Renderer
	cfg      AdapterConfig
}

func NewDealerComAdapter(renderer Renderer, cfg AdapterConfig) *DealerComAdapter {
	return &DealerComAdapter{renderer: renderer, cfg: cfg.withDefaults()}
}

func (a *DealerComAdapter) Platform() string {
	return models.PlatformDealerCom
}

func (a *DealerComAdapter) Scrape(ctx context.Context, target models.DealerTarget, filter Filter) ([]models.Vehicle, error) {
	var all []models.Vehicle
	pageURL := DealerComURL(target.InventoryURL, filter)

	for pageNum := 1; pageURL != ""; pageNum++ {
		if err := ctx.Err(); err != nil {
			return all, err
		}
		if pageNum > a.cfg.MaxPages {
			log.Warn().Str("dealer", target.Name).Int("max_pages", a.cfg.MaxPages).Msg("Page limit reached")
			break
		}

		vehicles, next, err := a.scrapePage(ctx, target.Name, pageURL)
		if err != nil {
			if pageNum == 1 {
				return nil, err
			}
			log.Warn().Err(err).Str("dealer", target.Name).Int("page", pageNum).Msg("Stopping pagination")
			break
		}

		all = append(all, vehicles...)
		log.Info().Str("dealer", target.Name).Int("page", pageNum).Int("vehicles", len(vehicles)).Int("total", len(all)).Msg("Page scraped")

		pageURL = next
		if pageURL != "" {
			a.cfg.PageDelay()
		}
	}

	return all, nil
}

func (a *DealerComAdapter) scrapePage(ctx context.Context, dealer, pageURL string) ([]models.Vehicle, string, error) {
	page, err := a.renderer.Open(ctx, pageURL)
	if err != nil {
		return nil, "", fmt.Errorf("render %s: %w", pageURL, err)
	}
	defer page.Close()

	if err := page.WaitFor(dealerComStatePath, a.cfg.StateTimeout); err != nil {
		log.Warn().Str("dealer", dealer).Dur("timeout", a.cfg.StateTimeout).Msg("Timeout waiting for inventory state, trying fallback locations")
	}

	entries, path, ok := locateListing(page, dealerComListingPaths)
	if !ok {
		return nil, "", structuralError(dealer, page, dealerComListingPaths)
	}
	if path != dealerComListingPaths[0] {
		log.Info().Str("dealer", dealer).Str("path", path).Msg("Found vehicles at alternate location")
	}

	vehicles := parseEntries(a, entries, ListingContext{Dealer: dealer, SourceURL: page.URL()})

	next := ""
	if len(entries) >= dealerComPageSize {
		next = nextPageLink(page)
	}
	return vehicles, next, nil
}

func (a *DealerComAdapter) ParseVehicle(raw map[string]any, lc ListingContext) (*models.Vehicle, error) {
	vin, ok := dealerComRules.vin.resolve(raw)
	if !ok {
		return nil, ErrMissingIdentifier
	}

	v := &models.Vehicle{
		VIN:            vin,
		Dealer:         lc.Dealer,
		DealerPlatform: dealerComTag,
		SourceURL:      lc.SourceURL,
	}
	dealerComRules.apply(raw, v)

	if v.Make == nil {
		v.Make = models.StrPtr(models.DefaultMake)
	}
	// A defaulted make alone is not a title.
	if v.Title == nil && (v.Year != nil || v.Model != nil) {
		title := normalize.Title(v.Year, *v.Make, models.StrValue(v.Model), models.StrValue(v.Trim))
		v.Title = &title
	}
	return v, nil
}

// DealerComURL adds the model/year filter and the in-stock status to an inventory URL.
func DealerComURL(base string, filter Filter) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	if filter.Year != "" {
		q.Set("year", filter.Year)
	}
	if filter.Model != "" {
		q.Set("model", filter.Model)
	}
	q.Set("status", "1-1")
	u.RawQuery = q.Encode()
	return u.String()
}
