package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

var errorColor = color.New(color.FgRed, color.Bold)

// printError writes err to stderr, clearing any progress line first.
func printError(err error) {
	fmt.Fprint(os.Stderr, "\r\033[K")
	_, _ = errorColor.Fprint(os.Stderr, "error:")
	fmt.Fprintf(os.Stderr, " %v\n", err)
}

// drainErrors consumes errors from a channel and writes them to stderr.
func drainErrors(errs <-chan error) {
	for err := range errs {
		printError(err)
	}
}

// validateGlobPatterns checks that all patterns are valid filepath.Match patterns.
func validateGlobPatterns(patterns []string) error {
	for _, pattern := range patterns {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("pattern %q: %w", pattern, err)
		}
	}
	return nil
}

// newLogger returns a stderr text logger; verbose enables debug output.
func newLogger(out io.Writer, verbose bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.WarnLevel)
	}
	return logger
}

// caseDir names the dump directory of the n-th generated test case.
func caseDir(output string, n int) string {
	return filepath.Join(output, fmt.Sprintf("%04d", n))
}
