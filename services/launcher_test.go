package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealer_scraper/models"
	"dealer_scraper/process"
)

type fakeSpawner struct {
	pid  int
	err  error
	got  []process.RunOptions
	hook func(opts process.RunOptions)
}

func (s *fakeSpawner) Spawn(ctx context.Context, opts process.RunOptions) (*process.Handle, error) {
	s.got = append(s.got, opts)
	if s.hook != nil {
		s.hook(opts)
	}
	if s.err != nil {
		return nil, s.err
	}
	return &process.Handle{PID: s.pid, LogPath: "logs/scraper.log"}, nil
}

func TestRunLauncher_Launch(t *testing.T) {
	tracker, _ := newTestTracker(t, 5100)
	spawner := &fakeSpawner{pid: 5100}
	launcher := NewRunLauncher(tracker, spawner)
	ctx := context.Background()

	job, err := launcher.Launch(ctx, models.PlatformRoadster, process.RunOptions{Limit: 3})
	require.NoError(t, err)
	require.NotNil(t, job.PID)
	assert.Equal(t, 5100, *job.PID)

	require.Len(t, spawner.got, 1)
	assert.Equal(t, job.ID, spawner.got[0].JobID)
	assert.Equal(t, models.PlatformRoadster, spawner.got[0].Platform)
	assert.Equal(t, 3, spawner.got[0].Limit)

	stored, err := tracker.Status(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, stored.Status)
	assert.Equal(t, 5100, *stored.PID)
}

func TestRunLauncher_AllPlatformsPassesNoFilter(t *testing.T) {
	tracker, _ := newTestTracker(t, 5200)
	spawner := &fakeSpawner{pid: 5200}

	_, err := NewRunLauncher(tracker, spawner).Launch(context.Background(), "all", process.RunOptions{All: true})
	require.NoError(t, err)
	assert.Empty(t, spawner.got[0].Platform)
}

func TestRunLauncher_SpawnFailureFailsJob(t *testing.T) {
	tracker, _ := newTestTracker(t)
	spawner := &fakeSpawner{err: errors.New("exec: no such file")}
	ctx := context.Background()

	_, err := NewRunLauncher(tracker, spawner).Launch(ctx, "all", process.RunOptions{})
	require.Error(t, err)

	job, err := tracker.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, "Failed to start scraper: exec: no such file", *job.ErrorMessage)
}

func TestRunLauncher_RunFinishedBeforeAttach(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()
	spawner := &fakeSpawner{pid: 5300}
	spawner.hook = func(opts process.RunOptions) {
		require.NoError(t, tracker.Complete(ctx, opts.JobID, 4, 1))
	}

	job, err := NewRunLauncher(tracker, spawner).Launch(ctx, "all", process.RunOptions{})
	require.NoError(t, err)

	stored, err := tracker.Status(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
	assert.Equal(t, 4, stored.VehiclesScraped)
}
