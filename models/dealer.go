package models

const (
	PlatformDealerCom = "dealercom"
	PlatformRoadster  = "roadster"
)

// Dealer is one row of the externally supplied dealer list.
type Dealer struct {
	Name    string `json:"name"`
	City    string `json:"city"`
	Website string `json:"website"`
	Phone   string `json:"phone"`
}

// DealerTarget is a dealer resolved against the platform table.
type DealerTarget struct {
	Dealer
	Platform     string `json:"platform"`
	InventoryURL string `json:"inventory_url"`
}
