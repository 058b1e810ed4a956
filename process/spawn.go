// Package process launches run processes and observes whether they still exist.
// It deliberately offers no way to stop or signal a process it started.
package process

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"

	"dealer_scraper/logging"
)

// RunOptions are the arguments accepted by the run subcommand.
type RunOptions struct {
	JobID      int64
	Limit      int
	All        bool
	Dealer     string
	Model      string
	Year       string
	Platform   string
	SkipDBInit bool
}

func (o RunOptions) Args() []string {
	args := []string{"run", "--job-id", strconv.FormatInt(o.JobID, 10)}
	if o.All {
		args = append(args, "--all")
	} else if o.Limit > 0 {
		args = append(args, "--limit", strconv.Itoa(o.Limit))
	}
	if o.Dealer != "" {
		args = append(args, "--dealer", o.Dealer)
	}
	if o.Model != "" {
		args = append(args, "--model", o.Model)
	}
	if o.Year != "" {
		args = append(args, "--year", o.Year)
	}
	if o.Platform != "" {
		args = append(args, "--platform", o.Platform)
	}
	if o.SkipDBInit {
		args = append(args, "--skip-db-init")
	}
	return args
}

// Handle is a weak reference to a spawned run.
type Handle struct {
	PID     int
	LogPath string
}

type Spawner interface {
	Spawn(ctx context.Context, opts RunOptions) (*Handle, error)
}

// ExecSpawner starts the run subcommand of an executable in its own session,
// with stdout and stderr going to the job's log file.
type ExecSpawner struct {
	Executable string
	Dir        string
	LogDir     string
}

func NewExecSpawner(executable, logDir string) *ExecSpawner {
	return &ExecSpawner{Executable: executable, LogDir: logDir}
}

func (s *ExecSpawner) Spawn(ctx context.Context, opts RunOptions) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logPath := logging.JobLogPath(s.LogDir, opts.JobID)
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	// Not CommandContext: the run must outlive whoever launched it.
	cmd := exec.Command(s.Executable, opts.Args()...)
	cmd.Dir = s.Dir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", s.Executable, err)
	}

	// Reap the child when it exits so a finished run never lingers as a zombie
	// that would still answer the liveness probe.
	go cmd.Wait()

	return &Handle{PID: cmd.Process.Pid, LogPath: logPath}, nil
}
