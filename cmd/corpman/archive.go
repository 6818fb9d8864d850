package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"fortio.org/safecast"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ivoronin/corpman/internal/archive"
)

func newArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Inspect test cases stored by generate --archive",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list FILE",
		Short: "List archived test cases",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runArchiveList(cmd.OutOrStdout(), args[0])
		},
	})

	var details bool
	extract := &cobra.Command{
		Use:   "extract FILE ID DIR",
		Short: "Dump an archived test case into DIR",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid ID %q: %w", args[1], err)
			}
			return runArchiveExtract(args[0], id, args[2], details)
		},
	}
	extract.Flags().BoolVar(&details, "details", true, "Write test_info.txt and env_vars.txt")
	cmd.AddCommand(extract)

	return cmd
}

// openExisting opens an archive without creating a new database file.
func openExisting(path string) (*archive.Archive, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return archive.Open(path)
}

func runArchiveList(out io.Writer, path string) error {
	store, err := openExisting(path)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	entries, err := store.List()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tFILES\tSIZE\tPAGE\tTEMPLATE")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%s\n",
			e.ID, e.Created.Local().Format(time.DateTime), e.Files,
			humanize.IBytes(safecast.MustConvert[uint64](e.Size)), e.LandingPage, e.InputFName)
	}
	return w.Flush()
}

func runArchiveExtract(path string, id uint64, dir string, details bool) error {
	store, err := openExisting(path)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	tc, err := store.Get(id)
	if err != nil {
		return err
	}
	return tc.Dump(dir, details)
}
