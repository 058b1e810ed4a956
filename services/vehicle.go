package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/phuslu/log"

	"dealer_scraper/models"
	"dealer_scraper/normalize"
	"dealer_scraper/storage"
)

var ErrMissingVIN = errors.New("vehicle has no vin")

// currentModels is the BMW lineup offered as filter choices before any
// inventory has been stored.
var currentModels = []string{
	"2 Series", "3 Series", "4 Series", "5 Series", "7 Series", "8 Series",
	"X1", "X2", "X3", "X4", "X5", "X6", "X7", "XM",
	"M2", "M3", "M4", "M5", "M8", "Z4",
	"i4", "i5", "i7", "iX",
}

// VehicleService is the ingestion stage between adapters and the store.
type VehicleService struct {
	store storage.VehicleStore
}

func NewVehicleService(store storage.VehicleStore) *VehicleService {
	return &VehicleService{store: store}
}

// Ingest persists a parsed vehicle. When year or model is missing but a title
// exists, the title decomposer fills only the fields it actually matched.
// Safe to call repeatedly with the same record.
func (s *VehicleService) Ingest(ctx context.Context, v *models.Vehicle) (*models.IngestResult, error) {
	v.VIN = strings.TrimSpace(v.VIN)
	if v.VIN == "" {
		return nil, ErrMissingVIN
	}

	if v.Title != nil && *v.Title != "" && (v.Year == nil || v.Model == nil) {
		fillFromTitle(v, normalize.DecomposeTitle(*v.Title))
	}

	res, err := s.store.UpsertVehicle(ctx, v)
	if err != nil {
		return nil, fmt.Errorf("upsert %s: %w", v.VIN, err)
	}

	if res.Inserted {
		log.Debug().Str("vin", v.VIN).Str("dealer", v.Dealer).Msg("new vehicle")
	}
	return &models.IngestResult{ID: res.ID, IsNew: res.Inserted}, nil
}

func fillFromTitle(v *models.Vehicle, parts normalize.TitleParts) {
	if v.Year == nil && parts.Year != nil {
		v.Year = parts.Year
	}
	if v.Make == nil && parts.MakeMatched {
		v.Make = models.StrPtr(parts.Make)
	}
	if v.Model == nil && parts.ModelMatched {
		v.Model = models.StrPtr(parts.Model)
	}
	if v.Trim == nil && parts.Trim != nil {
		v.Trim = parts.Trim
	}
}

// List returns stored vehicles, most expensive first.
func (s *VehicleService) List(ctx context.Context, f models.VehicleFilter) ([]models.Vehicle, error) {
	return s.store.ListVehicles(ctx, f)
}

func (s *VehicleService) Stats(ctx context.Context) (*models.InventoryStats, error) {
	return s.store.Stats(ctx)
}

func (s *VehicleService) Dealers(ctx context.Context) ([]string, error) {
	dealers, err := s.store.ListDealers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list dealers: %w", err)
	}
	return dealers, nil
}

// Models merges the stored models with the current lineup, sorted and deduplicated.
func (s *VehicleService) Models(ctx context.Context) ([]string, error) {
	stored, err := s.store.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	all := append(slices.Clone(currentModels), stored...)
	slices.Sort(all)
	return slices.Compact(all), nil
}
