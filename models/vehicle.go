package models

import "time"

// Vehicle is the canonical, platform-independent record of one inventory listing.
// Pointer fields are optional; nil means the source did not supply a usable value.
type Vehicle struct {
	ID             int64     `json:"id" db:"id"`
	VIN            string    `json:"vin" db:"vin"`
	Dealer         string    `json:"dealer" db:"dealer"`
	Title          *string   `json:"title" db:"title"`
	Year           *int      `json:"year" db:"year"`
	Make           *string   `json:"make" db:"make"`
	Model          *string   `json:"model" db:"model"`
	Trim           *string   `json:"trim" db:"trim"`
	Price          *float64  `json:"price" db:"price"`
	MSRP           *float64  `json:"msrp" db:"msrp"`
	Odometer       *int      `json:"odometer" db:"odometer"`
	ExtColor       *string   `json:"ext_color" db:"ext_color"`
	IntColor       *string   `json:"int_color" db:"int_color"`
	Options        *string   `json:"options" db:"options"`
	DealerPlatform string    `json:"dealer_platform" db:"dealer_platform"`
	SourceURL      string    `json:"source_url" db:"source_url"`
	ScrapedAt      time.Time `json:"scraped_at" db:"scraped_at"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

const (
	DefaultMake  = "BMW"
	DefaultModel = "X3"

	MinModelYear = 1980
	MaxModelYear = 2030
)

// VehicleFilter narrows inventory queries.
type VehicleFilter struct {
	Dealer   string
	Model    string
	MinPrice *float64
	MaxPrice *float64
	Search   string
	Limit    int
}

// InventoryStats summarizes the stored inventory.
type InventoryStats struct {
	TotalVehicles int        `json:"total_vehicles"`
	TotalDealers  int        `json:"total_dealers"`
	LastUpdated   *time.Time `json:"last_updated"`
}

func StrPtr(s string) *string {
	return &s
}

func IntPtr(i int) *int {
	return &i
}

func FloatPtr(f float64) *float64 {
	return &f
}

// StrValue returns the pointed-to string or "" for nil.
func StrValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// IngestResult is the outcome of ingesting one vehicle.
type IngestResult struct {
	ID    int64
	IsNew bool
}
