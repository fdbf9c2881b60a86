package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tomasbasham/cli-runtime/iooption"
	"github.com/tomasbasham/cli-runtime/templates"

	"github.com/pumpkinperf/pumpkin/internal/artifact"
	"github.com/pumpkinperf/pumpkin/internal/browser"
	"github.com/pumpkinperf/pumpkin/internal/config"
	"github.com/pumpkinperf/pumpkin/internal/coordinator"
	"github.com/pumpkinperf/pumpkin/internal/ingest"
	"github.com/pumpkinperf/pumpkin/internal/logging"
	"github.com/pumpkinperf/pumpkin/internal/scheduler"
	"github.com/pumpkinperf/pumpkin/internal/store"
	"github.com/pumpkinperf/pumpkin/internal/urllist"
)

// RunOptions holds the parsed flags and resolved dependencies for
// `pumpkin run`.
type RunOptions struct {
	URLListPath string
	Workers     int
	Notes       string

	iooption.IOStreams
}

var (
	runLong = templates.LongDesc(`
		Drive a headless browser across every URL in a newline-delimited
		file, persisting a measurement and artifacts for each one.`)

	runExample = templates.Examples(`
		# Run urls.txt with 4 concurrent workers
		pumpkin run urls.txt --workers 4`)
)

// errRunIncomplete signals a process exit code of 1 for any scheduler
// outcome other than allPassed (spec.md: "0 on allPassed, 1 on any other
// completion"). The run itself still finalized normally; this is not a
// tool failure, so it carries no cause and nothing else treats it as one.
var errRunIncomplete = errors.New("run completed with failing or missing tests")

// NewRunOptions provides an initialised RunOptions instance.
func NewRunOptions(streams iooption.IOStreams) *RunOptions {
	return &RunOptions{
		IOStreams: streams,
	}
}

// NewRunCommand creates the `run` command.
func NewRunCommand(o *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "run [URL-LIST-FILE]",
		DisableFlagsInUseLine: true,
		Short:                 "Measure every URL in a list file",
		Long:                  runLong,
		Example:               runExample,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(); err != nil {
				return err
			}
			return o.Run()
		},
	}

	cmd.Flags().IntVarP(&o.Workers, "workers", "w", 4, "Number of concurrent measurement workers")
	cmd.Flags().StringVar(&o.Notes, "notes", "", "Free-text notes attached to the run")

	return cmd
}

func (o *RunOptions) Complete(cmd *cobra.Command, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("URL list file is required")
	}
	o.URLListPath = args[0]
	return nil
}

func (o *RunOptions) Validate() error {
	if o.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	return nil
}

func (o *RunOptions) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolConfig{
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxIdleConns,
	}, logger)
	if err != nil {
		return fmt.Errorf("pumpkin run: %w", err)
	}
	if err := store.Migrate(db.DB.DB); err != nil {
		return fmt.Errorf("pumpkin run: %w", err)
	}

	f, err := os.Open(o.URLListPath)
	if err != nil {
		return fmt.Errorf("pumpkin run: %w", err)
	}
	defer f.Close()

	urls, err := urllist.Load(f)
	if err != nil {
		return fmt.Errorf("pumpkin run: %w", err)
	}

	mirror, err := newMirror(ctx, cfg)
	if err != nil {
		return fmt.Errorf("pumpkin run: %w", err)
	}

	artifacts, err := artifact.NewStore(".", mirror, logger)
	if err != nil {
		return fmt.Errorf("pumpkin run: %w", err)
	}

	coord := coordinator.New(db, logger)
	runID, runUUID, err := coord.CreateRun(ctx, len(urls), o.Workers, o.Notes)
	if err != nil {
		return fmt.Errorf("pumpkin run: %w", err)
	}
	fmt.Fprintf(o.Out, "run %s (id %d): measuring %d urls with %d workers\n", runUUID, runID, len(urls), o.Workers)

	driver := browser.NewChromeDriver()
	ingestor := ingest.New(db, logger)
	sched := scheduler.New(driver, artifacts, ingestor, logger)

	durationMs, outcome, err := sched.Run(ctx, runID, urls, o.Workers)
	if err != nil {
		_ = coord.FailRun(ctx, runID, durationMs)
		return fmt.Errorf("pumpkin run: %w", err)
	}

	if err := coord.FinalizeRun(ctx, runID, durationMs, outcome); err != nil {
		return fmt.Errorf("pumpkin run: %w", err)
	}

	fmt.Fprintf(o.Out, "run %s complete: %s (%dms)\n", runUUID, outcome, durationMs)
	if outcome != coordinator.OutcomeAllPassed {
		return errRunIncomplete
	}
	return nil
}

// newMirror builds the optional GCS offsite mirror from cfg. A nil Mirror
// leaves disk as the sole artifact backend.
func newMirror(ctx context.Context, cfg *config.Config) (artifact.Mirror, error) {
	if cfg.ArtifactMirrorBucket == "" {
		return nil, nil
	}
	return artifact.NewGCSMirror(ctx, cfg.ArtifactMirrorBucket)
}
