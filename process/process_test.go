package process

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOSProbe(t *testing.T) {
	probe := OSProbe{}

	assert.True(t, probe.IsAlive(os.Getpid()))
	assert.True(t, probe.IsAlive(1), "init is alive even when it is not ours to signal")
	assert.False(t, probe.IsAlive(0))
	assert.False(t, probe.IsAlive(-1))
}

func TestRunOptionsArgs(t *testing.T) {
	tests := []struct {
		name string
		opts RunOptions
		want []string
	}{
		{"minimal", RunOptions{JobID: 3}, []string{"run", "--job-id", "3"}},
		{"limit", RunOptions{JobID: 4, Limit: 5}, []string{"run", "--job-id", "4", "--limit", "5"}},
		{"all wins over limit", RunOptions{JobID: 5, All: true, Limit: 5}, []string{"run", "--job-id", "5", "--all"}},
		{
			"everything",
			RunOptions{JobID: 6, Dealer: "BMW Concord", Model: "X5", Year: "2025", Platform: "Dealer.com", SkipDBInit: true},
			[]string{"run", "--job-id", "6", "--dealer", "BMW Concord", "--model", "X5", "--year", "2025", "--platform", "Dealer.com", "--skip-db-init"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.opts.Args())
		})
	}
}

func TestExecSpawner(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	logDir := filepath.Join(t.TempDir(), "logs")
	spawner := NewExecSpawner(sh, logDir)
	spawner.Dir = t.TempDir()

	// sh treats "run" as a script path and exits with an error on stderr.
	handle, err := spawner.Spawn(context.Background(), RunOptions{JobID: 9})
	require.NoError(t, err)
	assert.Greater(t, handle.PID, 0)
	assert.Equal(t, filepath.Join(logDir, "scraper-9.log"), handle.LogPath)

	require.Eventually(t, func() bool {
		info, err := os.Stat(handle.LogPath)
		return err == nil && info.Size() > 0
	}, 5*time.Second, 20*time.Millisecond, "stderr goes to the job log")

	require.Eventually(t, func() bool {
		return !OSProbe{}.IsAlive(handle.PID)
	}, 5*time.Second, 20*time.Millisecond, "exited child is reaped")
}

func TestExecSpawner_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewExecSpawner("/bin/true", t.TempDir()).Spawn(ctx, RunOptions{JobID: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecSpawner_MissingExecutable(t *testing.T) {
	_, err := NewExecSpawner(filepath.Join(t.TempDir(), "missing"), t.TempDir()).Spawn(context.Background(), RunOptions{JobID: 2})
	assert.Error(t, err)
}
