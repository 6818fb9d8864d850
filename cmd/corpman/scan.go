package main

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"fortio.org/safecast"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ivoronin/corpman/internal/scanner"
	"github.com/ivoronin/corpman/internal/types"
)

// scanOptions holds CLI flags for the scan command.
type scanOptions struct {
	extensions []string
	excludes   []string
	workers    int
	noProgress bool
}

func newScanCmd() *cobra.Command {
	opts := &scanOptions{workers: runtime.NumCPU()}

	cmd := &cobra.Command{
		Use:   "scan PATH",
		Short: "List the templates a corpus path yields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd.OutOrStdout(), args[0], opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.extensions, "ext", "x", nil, "Accepted template extensions (e.g., html,svg)")
	cmd.Flags().StringSliceVarP(&opts.excludes, "exclude", "e", nil, "Glob patterns to exclude")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", opts.workers, "Number of parallel workers")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "Disable progress output")

	return cmd
}

func runScan(out io.Writer, path string, opts *scanOptions) error {
	if err := validateGlobPatterns(opts.excludes); err != nil {
		return fmt.Errorf("invalid --exclude: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		return err
	}

	errs := make(chan error, 100)
	go drainErrors(errs)
	defer close(errs)

	corpus := scanner.New([]string{path}, opts.extensions, opts.excludes, opts.workers, !opts.noProgress, errs).Run()
	printCorpus(out, corpus)
	return nil
}

func printCorpus(out io.Writer, corpus types.Corpus) {
	var total int64
	for _, f := range corpus.Items() {
		total += f.Size
		fmt.Fprintf(out, "%10s  %s\n", humanize.IBytes(safecast.MustConvert[uint64](f.Size)), f.FileName)
	}
	fmt.Fprintf(out, "%d templates, %s\n", corpus.Len(), humanize.IBytes(safecast.MustConvert[uint64](total)))
}
