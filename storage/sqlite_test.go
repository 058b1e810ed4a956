package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealer_scraper/models"
	"dealer_scraper/normalize"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "scraper.db"), true)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func x5(vin string) *models.Vehicle {
	return &models.Vehicle{
		VIN:            vin,
		Dealer:         "BMW of Fremont",
		DealerPlatform: "Dealer.com",
		SourceURL:      "https://www.bmwoffremont.com/new-inventory/index.htm?status=1-1",
		Year:           models.IntPtr(2024),
		Make:           models.StrPtr("BMW"),
		Model:          models.StrPtr("X5"),
		Trim:           models.StrPtr("xDrive40i"),
		Price:          models.FloatPtr(85000),
		MSRP:           models.FloatPtr(88150),
		Odometer:       models.IntPtr(10),
		ExtColor:       models.StrPtr("Alpine White"),
		IntColor:       models.StrPtr("Black"),
	}
}

func TestUpsertVehicle_InsertAppliesDefaults(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	res, err := store.UpsertVehicle(ctx, &models.Vehicle{
		VIN:            "WBA00000000000001",
		Dealer:         "Peter Pan BMW",
		DealerPlatform: "Roadster",
		SourceURL:      "https://online.peterpanbmw.com/inventory",
	})
	require.NoError(t, err)
	assert.True(t, res.Inserted)

	got, err := store.GetVehicle(ctx, "WBA00000000000001")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "BMW", *got.Make)
	assert.Equal(t, "X3", *got.Model)
	assert.Equal(t, "BMW X3", *got.Title)
	assert.Nil(t, got.Year)
	assert.Nil(t, got.Price)
	assert.True(t, got.CreatedAt.Equal(got.UpdatedAt))
	assert.True(t, got.CreatedAt.Equal(got.ScrapedAt))
}

func TestUpsertVehicle_Idempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.UpsertVehicle(ctx, x5("5UXCR6C09R9T00001"))
	require.NoError(t, err)
	before, err := store.GetVehicle(ctx, "5UXCR6C09R9T00001")
	require.NoError(t, err)

	second, err := store.UpsertVehicle(ctx, x5("5UXCR6C09R9T00001"))
	require.NoError(t, err)
	assert.False(t, second.Inserted)
	assert.Equal(t, first.ID, second.ID)

	after, err := store.GetVehicle(ctx, "5UXCR6C09R9T00001")
	require.NoError(t, err)

	assert.Equal(t, before.Title, after.Title)
	assert.Equal(t, before.Price, after.Price)
	assert.Equal(t, before.MSRP, after.MSRP)
	assert.Equal(t, before.Odometer, after.Odometer)
	assert.Equal(t, before.ExtColor, after.ExtColor)
	assert.Equal(t, before.Trim, after.Trim)
	assert.True(t, after.UpdatedAt.After(before.UpdatedAt))

	vehicles, err := store.ListVehicles(ctx, models.VehicleFilter{})
	require.NoError(t, err)
	assert.Len(t, vehicles, 1)
}

func TestUpsertVehicle_MergeLaw(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.UpsertVehicle(ctx, x5("5UXCR6C09R9T00002"))
	require.NoError(t, err)
	before, err := store.GetVehicle(ctx, "5UXCR6C09R9T00002")
	require.NoError(t, err)

	_, err = store.UpsertVehicle(ctx, &models.Vehicle{
		VIN:   "5UXCR6C09R9T00002",
		Price: models.FloatPtr(82000),
	})
	require.NoError(t, err)

	after, err := store.GetVehicle(ctx, "5UXCR6C09R9T00002")
	require.NoError(t, err)

	assert.Equal(t, 82000.0, *after.Price)
	assert.Equal(t, "Alpine White", *after.ExtColor)
	assert.Equal(t, "Black", *after.IntColor)
	assert.Equal(t, 2024, *after.Year)
	assert.Equal(t, "X5", *after.Model)
	assert.Equal(t, "xDrive40i", *after.Trim)
	assert.Equal(t, 88150.0, *after.MSRP)
	assert.Equal(t, 10, *after.Odometer)
	assert.Equal(t, before.Title, after.Title)
	assert.Equal(t, before.Dealer, after.Dealer)
	assert.Equal(t, before.SourceURL, after.SourceURL)
	assert.True(t, after.CreatedAt.Equal(before.CreatedAt))
	assert.True(t, after.UpdatedAt.After(before.UpdatedAt))
}

func TestUpsertVehicle_UpdatedAtStrictlyIncreasesWithFrozenClock(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	frozen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return frozen }

	first, err := store.UpsertVehicle(ctx, x5("5UXCR6C09R9T00003"))
	require.NoError(t, err)
	second, err := store.UpsertVehicle(ctx, x5("5UXCR6C09R9T00003"))
	require.NoError(t, err)
	third, err := store.UpsertVehicle(ctx, x5("5UXCR6C09R9T00003"))
	require.NoError(t, err)

	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
	assert.True(t, third.UpdatedAt.After(second.UpdatedAt))

	got, err := store.GetVehicle(ctx, "5UXCR6C09R9T00003")
	require.NoError(t, err)
	assert.True(t, got.CreatedAt.Equal(frozen))
	assert.True(t, got.UpdatedAt.Equal(third.UpdatedAt))
}

func TestUpsertVehicle_OptionsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	encoded, ok := normalize.Options([]any{"Premium Package", "M Sport Package"})
	require.True(t, ok)
	v := x5("5UXCR6C09R9T00004")
	v.Options = &encoded

	_, err := store.UpsertVehicle(ctx, v)
	require.NoError(t, err)

	got, err := store.GetVehicle(ctx, "5UXCR6C09R9T00004")
	require.NoError(t, err)
	require.NotNil(t, got.Options)

	options, err := normalize.DecodeOptions(*got.Options)
	require.NoError(t, err)
	assert.Equal(t, []string{"Premium Package", "M Sport Package"}, options)
}

func TestUpsertVehicle_ConstraintViolationIsConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	v := x5("5UXCR6C09R9T00005")
	v.Year = models.IntPtr(1950)

	_, err := store.UpsertVehicle(ctx, v)
	require.ErrorIs(t, err, ErrPersistenceConflict)

	got, err := store.GetVehicle(ctx, "5UXCR6C09R9T00005")
	require.NoError(t, err)
	assert.Nil(t, got, "failed record is rolled back")

	_, err = store.UpsertVehicle(ctx, x5("5UXCR6C09R9T00006"))
	assert.NoError(t, err, "sibling records are unaffected")
}

func TestGetVehicle_Missing(t *testing.T) {
	store := newTestStore(t)

	got, err := store.GetVehicle(context.Background(), "NOPE")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListVehiclesAndStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cheap := x5("5UXCR6C09R9T00010")
	cheap.Price = models.FloatPtr(62000)
	cheap.Model = models.StrPtr("X3")
	cheap.Title = models.StrPtr("2024 BMW X3 xDrive30i")

	pricey := x5("5UXCR6C09R9T00011")
	pricey.Price = models.FloatPtr(99000)

	other := x5("WBA5R1C07NBP12347")
	other.Dealer = "Peter Pan BMW"
	other.Price = models.FloatPtr(45000)
	other.Model = models.StrPtr("330i")

	for _, v := range []*models.Vehicle{cheap, pricey, other} {
		_, err := store.UpsertVehicle(ctx, v)
		require.NoError(t, err)
	}

	all, err := store.ListVehicles(ctx, models.VehicleFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "5UXCR6C09R9T00011", all[0].VIN, "most expensive first")
	assert.Equal(t, "WBA5R1C07NBP12347", all[2].VIN)

	fremont, err := store.ListVehicles(ctx, models.VehicleFilter{Dealer: "BMW of Fremont", MinPrice: models.FloatPtr(70000)})
	require.NoError(t, err)
	require.Len(t, fremont, 1)
	assert.Equal(t, "5UXCR6C09R9T00011", fremont[0].VIN)

	x3s, err := store.ListVehicles(ctx, models.VehicleFilter{Model: "x3"})
	require.NoError(t, err)
	require.Len(t, x3s, 1)

	search, err := store.ListVehicles(ctx, models.VehicleFilter{Search: "NBP123"})
	require.NoError(t, err)
	require.Len(t, search, 1)
	assert.Equal(t, "WBA5R1C07NBP12347", search[0].VIN)

	limited, err := store.ListVehicles(ctx, models.VehicleFilter{Limit: 2, MaxPrice: models.FloatPtr(100000)})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalVehicles)
	assert.Equal(t, 2, stats.TotalDealers)
	require.NotNil(t, stats.LastUpdated)

	dealers, err := store.ListDealers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"BMW of Fremont", "Peter Pan BMW"}, dealers)

	stored, err := store.ListModels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"330i", "X3", "X5"}, stored)
}

func TestStats_Empty(t *testing.T) {
	store := newTestStore(t)

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalVehicles)
	assert.Nil(t, stats.LastUpdated)

	dealers, err := store.ListDealers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, dealers)
}

func TestJobLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	id, err := store.CreateJob(ctx, &models.ScrapeJob{Platform: "all", Status: models.JobStatusRunning, StartedAt: started})
	require.NoError(t, err)

	job, err := store.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, job.Status)
	assert.Nil(t, job.PID)
	assert.Zero(t, job.VehiclesScraped)
	assert.True(t, job.StartedAt.Equal(started))

	applied, err := store.AttachProcess(ctx, id, 4242)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = store.UpdateJobProgress(ctx, id, 40, 3)
	require.NoError(t, err)
	assert.True(t, applied)

	vehicles, dealers := 55, 4
	applied, err = store.FinishJob(ctx, id, models.JobFinish{
		Status:          models.JobStatusCompleted,
		CompletedAt:     started.Add(time.Hour),
		VehiclesScraped: &vehicles,
		DealersScraped:  &dealers,
	})
	require.NoError(t, err)
	assert.True(t, applied)

	job, err = store.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 4242, *job.PID)
	assert.Equal(t, 55, job.VehiclesScraped)
	assert.Equal(t, 4, job.DealersScraped)
	require.NotNil(t, job.CompletedAt)
	assert.Nil(t, job.ErrorMessage)

	msg := "too late"
	applied, err = store.FinishJob(ctx, id, models.JobFinish{Status: models.JobStatusFailed, ErrorMessage: &msg, CompletedAt: time.Now()})
	require.NoError(t, err)
	assert.False(t, applied, "terminal states are absorbing")

	applied, err = store.UpdateJobProgress(ctx, id, 1, 1)
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = store.AttachProcess(ctx, id, 1)
	require.NoError(t, err)
	assert.False(t, applied)

	job, err = store.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 55, job.VehiclesScraped)
}

func TestFinishJob_FailedKeepsProgress(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.CreateJob(ctx, &models.ScrapeJob{Platform: "roadster", Status: models.JobStatusRunning, StartedAt: time.Now().UTC()})
	require.NoError(t, err)
	_, err = store.UpdateJobProgress(ctx, id, 12, 1)
	require.NoError(t, err)

	msg := "process 99 terminated unexpectedly"
	applied, err := store.FinishJob(ctx, id, models.JobFinish{Status: models.JobStatusFailed, ErrorMessage: &msg, CompletedAt: time.Now().UTC()})
	require.NoError(t, err)
	assert.True(t, applied)

	job, err := store.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, msg, *job.ErrorMessage)
	assert.Equal(t, 12, job.VehiclesScraped)
}

func TestLatestJob(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	latest, err := store.LatestJob(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	_, err = store.CreateJob(ctx, &models.ScrapeJob{Platform: "all", Status: models.JobStatusRunning, StartedAt: base.Add(time.Hour)})
	require.NoError(t, err)
	_, err = store.CreateJob(ctx, &models.ScrapeJob{Platform: "roadster", Status: models.JobStatusRunning, StartedAt: base})
	require.NoError(t, err)

	latest, err = store.LatestJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "all", latest.Platform)

	missing, err := store.GetJob(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAddLog(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id := int64(3)
	require.NoError(t, store.AddLog(ctx, &id, models.LogLevelWarn, "No adapter for platform", "Hometown Motors"))
	require.NoError(t, store.AddLog(ctx, nil, models.LogLevelInfo, "Scraping 2 dealers", ""))

	var count int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM scrape_logs WHERE job_id = ?`, id).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestListLogs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, other := int64(5), int64(6)
	require.NoError(t, store.AddLog(ctx, &id, models.LogLevelInfo, "Scraping 3 dealers", ""))
	require.NoError(t, store.AddLog(ctx, &other, models.LogLevelInfo, "Scraping 1 dealers", ""))
	require.NoError(t, store.AddLog(ctx, &id, models.LogLevelWarn, "Skipping unsupported dealer", "Hometown Motors"))
	require.NoError(t, store.AddLog(ctx, &id, models.LogLevelError, "Dealer failed", "BMW of Fremont"))

	logs, err := store.ListLogs(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, "Scraping 3 dealers", logs[0].Message)
	assert.Empty(t, logs[0].Dealer)
	assert.Equal(t, models.LogLevelWarn, logs[1].Level)
	assert.Equal(t, "Hometown Motors", logs[1].Dealer)
	require.NotNil(t, logs[1].JobID)
	assert.Equal(t, id, *logs[1].JobID)
	assert.False(t, logs[1].Timestamp.IsZero())

	recent, err := store.ListLogs(ctx, id, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "Skipping unsupported dealer", recent[0].Message, "limit keeps the newest entries, oldest first")
	assert.Equal(t, "Dealer failed", recent[1].Message)

	none, err := store.ListLogs(ctx, 999, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
