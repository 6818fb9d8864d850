package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	os.Exit(run())
}

func run() int {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		printError(err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "corpman",
		Short:         "Turn a template corpus into fuzzing test cases",
		Version:       version + " (" + commit + ")",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.AddCommand(newScanCmd())
	root.AddCommand(newGenerateCmd())
	root.AddCommand(newArchiveCmd())
	return root
}
