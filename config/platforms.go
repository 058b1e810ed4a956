package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"dealer_scraper/models"
)

// PlatformEntry says which platform a dealer runs and where its inventory lives.
type PlatformEntry struct {
	Platform     string `yaml:"platform"`
	InventoryURL string `yaml:"inventory_url"`
}

// PlatformTable maps dealer names to platform entries. It is immutable once
// built; the zero value is an empty table.
type PlatformTable struct {
	entries map[string]PlatformEntry
}

func NewPlatformTable(entries map[string]PlatformEntry) PlatformTable {
	copied := make(map[string]PlatformEntry, len(entries))
	for name, e := range entries {
		copied[strings.TrimSpace(name)] = e
	}
	return PlatformTable{entries: copied}
}

func (t PlatformTable) Lookup(name string) (PlatformEntry, bool) {
	e, ok := t.entries[strings.TrimSpace(name)]
	return e, ok
}

func (t PlatformTable) Len() int {
	return len(t.entries)
}

func (t PlatformTable) Names() []string {
	names := make([]string, 0, len(t.entries))
	for name := range t.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type platformFile struct {
	Dealers []struct {
		Name         string `yaml:"name"`
		Platform     string `yaml:"platform" validate:"required"`
		InventoryURL string `yaml:"inventory_url" validate:"omitempty,url"`
	} `yaml:"dealers" validate:"dive"`
}

// LoadPlatformTable reads a YAML table that replaces the built-in one.
func LoadPlatformTable(path string) (PlatformTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PlatformTable{}, err
	}

	var f platformFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return PlatformTable{}, fmt.Errorf("parse %s: %w", path, err)
	}

	entries := make(map[string]PlatformEntry, len(f.Dealers))
	for i, d := range f.Dealers {
		if strings.TrimSpace(d.Name) == "" {
			return PlatformTable{}, fmt.Errorf("parse %s: dealer %d has no name", path, i)
		}
		entries[d.Name] = PlatformEntry{Platform: d.Platform, InventoryURL: d.InventoryURL}
	}
	if err := validator.New().Struct(f); err != nil {
		return PlatformTable{}, fmt.Errorf("invalid %s: %w", path, err)
	}
	return NewPlatformTable(entries), nil
}

// DefaultPlatformTable covers Northern and Southern California BMW dealers.
func DefaultPlatformTable() PlatformTable {
	entries := map[string]PlatformEntry{
		"BMW of San Francisco": {models.PlatformRoadster, "https://express.bmwsf.com/inventory"},
		"Peter Pan BMW":        {models.PlatformRoadster, "https://online.peterpanbmw.com/inventory"},
	}
	for name, domain := range dealerComSites {
		entries[name] = PlatformEntry{
			Platform:     models.PlatformDealerCom,
			InventoryURL: "https://www." + domain + "/new-inventory/index.htm",
		}
	}
	return NewPlatformTable(entries)
}

var dealerComSites = map[string]string{
	"BMW of Berkeley":      "weatherfordbmw.com",
	"BMW of Mountain View": "bmwofmountainview.com",
	"BMW of Fremont":       "bmwoffremont.com",
	"BMW Concord":          "bmwconcord.com",
	"East Bay BMW":         "eastbaybmw.com",
	"Niello BMW":           "niellobmw.com",
	"BMW of Elk Grove":     "bmwofelkgrove.com",
	"Monterey BMW":         "montereybmw.com",
	"BMW of Beverly Hills": "bmwofbeverlyhills.com",
	"Century West BMW":     "centurywestbmw.com",
	"New Century BMW":      "newcenturybmw.com",
	"Long Beach BMW":       "longbeachbmw.com",
	"Crevier BMW":          "crevierbmw.com",
	"BMW of Riverside":     "bmwriverside.com",
	"BMW of Murrieta":      "bmwofmurrieta.com",
	"BMW of San Diego":     "bmwofsandiego.com",
	"BMW of Encinitas":     "bmwencinitas.com",
	"Shelly BMW":           "shellybmw.com",
	"Bob Smith BMW":        "bobsmithbmw.com",
	"Rusnak BMW":           "rusnakbmw.com",
	"BMW of Palm Springs":  "bmwofpalmsprings.com",
	"BMW Fresno":           "bmwfresno.com",
	"BMW of Bakersfield":   "bmwofbakersfield.com",
	"BMW of Visalia":       "bmwofvisalia.com",
	"Valencia BMW":         "valenciabmw.com",
}

// ResolveTargets splits dealers into those a supported adapter can scrape and
// those it cannot. Unsupported dealers are not an error.
func ResolveTargets(dealers []models.Dealer, table PlatformTable) (targets []models.DealerTarget, unsupported []models.Dealer) {
	for _, d := range dealers {
		e, ok := table.Lookup(d.Name)
		if !ok || e.InventoryURL == "" || !supportedPlatform(e.Platform) {
			unsupported = append(unsupported, d)
			continue
		}
		targets = append(targets, models.DealerTarget{
			Dealer:       d,
			Platform:     e.Platform,
			InventoryURL: e.InventoryURL,
		})
	}
	return targets, unsupported
}

func supportedPlatform(p string) bool {
	return p == models.PlatformDealerCom || p == models.PlatformRoadster
}
