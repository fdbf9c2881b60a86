package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tomasbasham/cli-runtime/iooption"
	"github.com/tomasbasham/cli-runtime/templates"

	"github.com/pumpkinperf/pumpkin/internal/artifact"
	"github.com/pumpkinperf/pumpkin/internal/config"
	"github.com/pumpkinperf/pumpkin/internal/logging"
	"github.com/pumpkinperf/pumpkin/internal/reconcile"
	"github.com/pumpkinperf/pumpkin/internal/store"
)

// ReconcileOptions holds the parsed flags for `pumpkin reconcile`.
type ReconcileOptions struct {
	DryRun bool

	iooption.IOStreams
}

var (
	reconcileLong = templates.LongDesc(`
		Remove test-history/ directories no url_test row references any
		longer.`)

	reconcileExample = templates.Examples(`
		# Report what would be deleted, without deleting anything
		pumpkin reconcile --dry-run

		# Delete orphaned artifact directories
		pumpkin reconcile`)
)

// NewReconcileOptions provides an initialised ReconcileOptions instance.
func NewReconcileOptions(streams iooption.IOStreams) *ReconcileOptions {
	return &ReconcileOptions{
		IOStreams: streams,
	}
}

// NewReconcileCommand creates the `reconcile` command.
func NewReconcileCommand(o *ReconcileOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "reconcile",
		Short:   "Remove orphaned artifact directories",
		Long:    reconcileLong,
		Example: reconcileExample,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.Run()
		},
	}

	cmd.Flags().BoolVar(&o.DryRun, "dry-run", false, "Report orphans without deleting them")

	return cmd
}

func (o *ReconcileOptions) Run() error {
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
		return fmt.Errorf("pumpkin reconcile: %w", err)
	}

	mirror, err := newMirror(ctx, cfg)
	if err != nil {
		return fmt.Errorf("pumpkin reconcile: %w", err)
	}
	artifacts, err := artifact.NewStore(".", mirror, logger)
	if err != nil {
		return fmt.Errorf("pumpkin reconcile: %w", err)
	}

	r := reconcile.New(db, artifacts, logger)
	res, err := r.Clean(ctx, o.DryRun)
	if err != nil {
		return fmt.Errorf("pumpkin reconcile: %w", err)
	}

	fmt.Fprintf(o.Out, "kept %d, orphans %d, deleted %d\n", len(res.Kept), len(res.Orphans), len(res.Deleted))
	for _, dir := range res.Orphans {
		fmt.Fprintf(o.Out, "orphan: %s\n", dir)
	}
	return nil
}
