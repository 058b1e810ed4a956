package scraper

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealer_scraper/config"
	"dealer_scraper/models"
)

type stubAdapter struct {
	platform string
	results  map[string][]models.Vehicle
	errs     map[string]error
	called   []string
}

func (a *stubAdapter) Platform() string { return a.platform }

func (a *stubAdapter) Scrape(ctx context.Context, target models.DealerTarget, filter Filter) ([]models.Vehicle, error) {
	a.called = append(a.called, target.Name)
	if err := a.errs[target.Name]; err != nil {
		return nil, err
	}
	return a.results[target.Name], nil
}

type recordingSink struct {
	seen   map[string]bool
	saved  []string
	failOn string
}

func (s *recordingSink) Ingest(ctx context.Context, v *models.Vehicle) (*models.IngestResult, error) {
	if v.VIN == s.failOn {
		return nil, errors.New("constraint failed")
	}
	if s.seen == nil {
		s.seen = make(map[string]bool)
	}
	isNew := !s.seen[v.VIN]
	s.seen[v.VIN] = true
	s.saved = append(s.saved, v.VIN)
	return &models.IngestResult{IsNew: isNew}, nil
}

type progress struct{ vehicles, dealers int }

type recordingJobs struct {
	progress  []progress
	completed *progress
	failed    string
}

func (j *recordingJobs) Progress(ctx context.Context, id int64, vehicles, dealers int) error {
	j.progress = append(j.progress, progress{vehicles, dealers})
	return nil
}

func (j *recordingJobs) Complete(ctx context.Context, id int64, vehicles, dealers int) error {
	j.completed = &progress{vehicles, dealers}
	return nil
}

func (j *recordingJobs) Fail(ctx context.Context, id int64, message string) error {
	j.failed = message
	return nil
}

type recordingLogs struct {
	entries []string
}

func (l *recordingLogs) AddLog(ctx context.Context, jobID *int64, level models.LogLevel, message, dealer string) error {
	l.entries = append(l.entries, string(level)+"|"+dealer+"|"+message)
	return nil
}

type memoryArchiver struct {
	objects map[string]string
}

func (a *memoryArchiver) Archive(ctx context.Context, key string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if a.objects == nil {
		a.objects = make(map[string]string)
	}
	a.objects[key] = string(b)
	return nil
}

func vehicle(vin string) models.Vehicle {
	return models.Vehicle{VIN: vin, DealerPlatform: "Roadster"}
}

func TestOrchestratorRun(t *testing.T) {
	roadster := &stubAdapter{
		platform: models.PlatformRoadster,
		results: map[string][]models.Vehicle{
			"BMW of San Francisco": {vehicle("WBA00000000000001"), vehicle("WBA00000000000002"), vehicle("WBABAD0000000000X")},
		},
	}
	dealercom := &stubAdapter{
		platform: models.PlatformDealerCom,
		errs: map[string]error{
			"BMW of Fremont": &StructuralError{Dealer: "BMW of Fremont", URL: fremontInventory, Snapshot: "<html>blocked</html>"},
		},
	}
	sink := &recordingSink{failOn: "WBABAD0000000000X"}
	jobs := &recordingJobs{}
	logs := &recordingLogs{}
	archiver := &memoryArchiver{}

	o := NewOrchestrator(config.DefaultPlatformTable(), map[string]Adapter{
		models.PlatformRoadster:  roadster,
		models.PlatformDealerCom: dealercom,
	}, sink, jobs, logs)
	o.SetArchiver(archiver)

	stats, err := o.Run(context.Background(), RunRequest{
		JobID: 7,
		Dealers: []models.Dealer{
			{Name: "BMW of San Francisco"},
			{Name: "BMW of Fremont"},
			{Name: "Hometown Motors"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Vehicles)
	assert.Equal(t, 2, stats.NewVehicles)
	assert.Equal(t, 1, stats.Dealers)
	assert.Equal(t, 1, stats.Unsupported)
	assert.Equal(t, 1, stats.StructuralFailures)
	assert.Equal(t, 1, stats.Errors)

	assert.Equal(t, []string{"WBA00000000000001", "WBA00000000000002"}, sink.saved)
	assert.Equal(t, []progress{{2, 1}, {2, 1}}, jobs.progress)
	require.NotNil(t, jobs.completed)
	assert.Equal(t, progress{2, 1}, *jobs.completed)
	assert.Empty(t, jobs.failed)

	require.Len(t, archiver.objects, 1)
	for key, body := range archiver.objects {
		assert.True(t, strings.HasPrefix(key, "snapshots/7/bmw-of-fremont-"), key)
		assert.True(t, strings.HasSuffix(key, ".html"), key)
		assert.Equal(t, "<html>blocked</html>", body)
	}

	assert.Contains(t, logs.entries, "warn|Hometown Motors|Skipping unsupported dealer")
}

func TestOrchestratorRun_NoSupportedDealers(t *testing.T) {
	jobs := &recordingJobs{}
	o := NewOrchestrator(config.DefaultPlatformTable(), nil, &recordingSink{}, jobs, nil)

	_, err := o.Run(context.Background(), RunRequest{JobID: 1, Dealers: []models.Dealer{{Name: "Hometown Motors"}}})
	require.ErrorIs(t, err, ErrNoSupportedDealers)
	assert.Equal(t, "No supported dealers found", jobs.failed)
	assert.Nil(t, jobs.completed)
}

func TestOrchestratorRun_PlatformWithoutAdapterIsSkipped(t *testing.T) {
	jobs := &recordingJobs{}
	o := NewOrchestrator(config.DefaultPlatformTable(), map[string]Adapter{}, &recordingSink{}, jobs, nil)

	stats, err := o.Run(context.Background(), RunRequest{JobID: 2, Dealers: []models.Dealer{{Name: "BMW Concord"}}})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Dealers)
	require.NotNil(t, jobs.completed)
	assert.Equal(t, progress{0, 0}, *jobs.completed)
}

func TestOrchestratorRun_PlatformFilter(t *testing.T) {
	roadster := &stubAdapter{platform: models.PlatformRoadster}
	dealercom := &stubAdapter{platform: models.PlatformDealerCom}
	o := NewOrchestrator(config.DefaultPlatformTable(), map[string]Adapter{
		models.PlatformRoadster:  roadster,
		models.PlatformDealerCom: dealercom,
	}, &recordingSink{}, &recordingJobs{}, nil)

	_, err := o.Run(context.Background(), RunRequest{
		JobID:    3,
		Dealers:  []models.Dealer{{Name: "BMW Concord"}, {Name: "Peter Pan BMW"}},
		Platform: models.PlatformRoadster,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Peter Pan BMW"}, roadster.called)
	assert.Empty(t, dealercom.called)
}

func TestOrchestratorRun_TableIsInjected(t *testing.T) {
	table := config.NewPlatformTable(map[string]config.PlatformEntry{
		"Hometown Motors": {Platform: models.PlatformRoadster, InventoryURL: "https://shop.hometown.example/inventory"},
	})
	roadster := &stubAdapter{platform: models.PlatformRoadster}
	o := NewOrchestrator(table, map[string]Adapter{models.PlatformRoadster: roadster}, &recordingSink{}, &recordingJobs{}, nil)

	_, err := o.Run(context.Background(), RunRequest{
		JobID:   4,
		Dealers: []models.Dealer{{Name: "Hometown Motors"}, {Name: "Peter Pan BMW"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hometown Motors"}, roadster.called)
}

func TestOrchestratorRun_Cancelled(t *testing.T) {
	roadster := &stubAdapter{platform: models.PlatformRoadster}
	jobs := &recordingJobs{}
	o := NewOrchestrator(config.DefaultPlatformTable(), map[string]Adapter{models.PlatformRoadster: roadster}, &recordingSink{}, jobs, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Run(ctx, RunRequest{JobID: 5, Dealers: []models.Dealer{{Name: "Peter Pan BMW"}}})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, roadster.called)
	assert.Contains(t, jobs.failed, "Run interrupted")
	assert.Nil(t, jobs.completed)
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "bmw-of-san-francisco", slug("BMW of San Francisco"))
	assert.Equal(t, "peter-pan-bmw", slug("  Peter Pan BMW! "))
}
