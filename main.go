package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/phuslu/log"

	"dealer_scraper/config"
	"dealer_scraper/logging"
	"dealer_scraper/process"
	"dealer_scraper/scheduler"
	"dealer_scraper/services"
	"dealer_scraper/storage"
)

const usage = `usage: dealer_scraper <command> [flags]

commands:
  run       scrape dealers in this process
  start     launch a run in the background and print its job
  status    print a job's status (checks that its process is alive)
  vehicles  print stored vehicles
  daemon    launch runs on a schedule
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "run":
		err = runCommand(args)
	case "start":
		err = startCommand(args)
	case "status":
		err = statusCommand(args)
	case "vehicles":
		err = vehiclesCommand(args)
	case "daemon":
		err = daemonCommand(args)
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func daemonCommand(args []string) error {
	fs := newFlagSet("daemon")
	runFlags := addRunFlags(fs)
	fs.Parse(args)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logFile, err := logging.Setup(filepath.Join(cfg.LogDir, "daemon.log"), cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logFile.Close()

	log.Info().Str("db", maskConnectionString(cfg.DatabaseURL)).Int("dealers_known", cfg.Platforms.Len()).Msg("Starting dealer_scraper daemon")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	launcher, tracker, err := newLauncher(cfg, store)
	if err != nil {
		return err
	}

	opts := runFlags.options(cfg)
	// The daemon already initialized the schema.
	opts.SkipDBInit = true

	sched := scheduler.New(cfg.Scheduler, launcher, tracker, runFlags.platformName(), opts)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	log.Info().Msg("Daemon running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("Shutting down...")
	sched.Stop()
	return nil
}

func newLauncher(cfg *config.Config, store storage.Store) (*services.RunLauncher, *services.JobTracker, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, nil, fmt.Errorf("locate executable: %w", err)
	}
	tracker := services.NewJobTracker(store, process.OSProbe{})
	spawner := process.NewExecSpawner(exe, cfg.LogDir)
	return services.NewRunLauncher(tracker, spawner), tracker, nil
}

func jsonEncoder(w io.Writer) *json.Encoder {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc
}

func printJSON(v any) error {
	return jsonEncoder(os.Stdout).Encode(v)
}

// maskConnectionString masks password in connection string for logging
func maskConnectionString(connStr string) string {
	// Simple mask - find :// and mask until @
	start := 0
	for i := 0; i < len(connStr)-3; i++ {
		if connStr[i:i+3] == "://" {
			start = i + 3
			break
		}
	}
	if start == 0 {
		return connStr
	}

	// Find : after user
	colonIdx := -1
	atIdx := -1
	for i := start; i < len(connStr); i++ {
		if connStr[i] == ':' && colonIdx == -1 {
			colonIdx = i
		}
		if connStr[i] == '@' {
			atIdx = i
			break
		}
	}

	if colonIdx > 0 && atIdx > colonIdx {
		return connStr[:colonIdx+1] + "****" + connStr[atIdx:]
	}
	return connStr
}
