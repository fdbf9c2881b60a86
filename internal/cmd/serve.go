package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tomasbasham/cli-runtime/iooption"
	"github.com/tomasbasham/cli-runtime/templates"

	"github.com/pumpkinperf/pumpkin/internal/api"
	"github.com/pumpkinperf/pumpkin/internal/config"
	"github.com/pumpkinperf/pumpkin/internal/logging"
	"github.com/pumpkinperf/pumpkin/internal/query"
	"github.com/pumpkinperf/pumpkin/internal/store"
)

// ServeOptions holds the parsed flags for `pumpkin serve`.
type ServeOptions struct {
	Port int

	iooption.IOStreams
}

var (
	serveLong = templates.LongDesc(`Start the read-only HTTP API.`)

	serveExample = templates.Examples(`
		# Start on the default port
		pumpkin serve

		# Start on a custom port
		pumpkin serve --port 9090`)
)

// NewServeOptions provides an initialised ServeOptions instance.
func NewServeOptions(streams iooption.IOStreams) *ServeOptions {
	return &ServeOptions{
		IOStreams: streams,
	}
}

// NewServeCommand creates the `serve` command.
func NewServeCommand(o *ServeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Start the read-only HTTP API",
		Long:    serveLong,
		Example: serveExample,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.Run()
		},
	}

	cmd.Flags().IntVarP(&o.Port, "port", "p", 0, "Port to listen on (default: $PORT or 3000)")

	return cmd
}

func (o *ServeOptions) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if o.Port != 0 {
		cfg.Port = o.Port
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
		return fmt.Errorf("pumpkin serve: %w", err)
	}

	queries := query.New(db)
	a := api.New(queries, db, logger)

	addr := fmt.Sprintf(":%d", cfg.Port)
	fmt.Fprintf(o.Out, "listening on %s\n", addr)
	return a.ListenAndServe(addr)
}
