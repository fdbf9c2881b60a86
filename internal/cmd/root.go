package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	cliflag "github.com/tomasbasham/cli-runtime/flag"
	"github.com/tomasbasham/cli-runtime/iooption"
	"github.com/tomasbasham/cli-runtime/printer"
	"github.com/tomasbasham/cli-runtime/templates"
)

var (
	rootLong = templates.LongDesc(`
		pumpkin drives a headless browser across a list of URLs, measures
		page-load performance, and persists the results for later querying.`)

	rootExamples = templates.Examples(`
		# Run a batch against a URL list
		pumpkin run urls.txt

		# Serve the read-only HTTP API
		pumpkin serve

		# Remove orphaned artifact directories
		pumpkin reconcile --dry-run`)

	// Injected at build time using ldflags.
	version = ""
	commit  = ""
)

// PumpkinOptions defines the options shared by every `pumpkin` subcommand.
type PumpkinOptions struct {
	iooption.IOStreams
}

// NewPumpkinOptions provides an initialised PumpkinOptions instance.
func NewPumpkinOptions(streams iooption.IOStreams) *PumpkinOptions {
	return &PumpkinOptions{
		IOStreams: streams,
	}
}

// NewRootCommand creates the `pumpkin` command with default arguments.
func NewRootCommand() *cobra.Command {
	options := NewPumpkinOptions(iooption.IOStreams{
		In:     os.Stdin,
		Out:    os.Stdout,
		ErrOut: os.Stderr,
	})

	return NewRootCommandWithArgs(options)
}

// NewRootCommandWithArgs creates the `pumpkin` command and its nested
// children.
func NewRootCommandWithArgs(o *PumpkinOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "pumpkin [command]",
		Version:               versionInfo(),
		DisableFlagsInUseLine: true,
		Short:                 "Batch web performance measurement",
		Long:                  rootLong,
		Example:               rootExamples,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}

	printerOpts := printer.WarningPrinterOptions{Color: true}
	printer := printer.NewWarningPrinter(o.ErrOut, printerOpts)
	cmd.SetGlobalNormalizationFunc(cliflag.WarnWordSepNormalizeFunc(printer))

	cmd.AddCommand(NewRunCommand(NewRunOptions(o.IOStreams)))
	cmd.AddCommand(NewServeCommand(NewServeOptions(o.IOStreams)))
	cmd.AddCommand(NewReconcileCommand(NewReconcileOptions(o.IOStreams)))

	// The global normalisation function ensures that all flags specified meet
	// the desired format, changing users' input if necessary.
	cmd.SetGlobalNormalizationFunc(cliflag.WordSepNormalizeFunc())

	return cmd
}

func versionInfo() string {
	if version == "" {
		return ""
	}
	return fmt.Sprintf("%s (commit: %s)", version, commit)
}
