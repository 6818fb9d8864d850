package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"fortio.org/safecast"
	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ivoronin/corpman/internal/archive"
	"github.com/ivoronin/corpman/internal/config"
	"github.com/ivoronin/corpman/internal/corpman"
	"github.com/ivoronin/corpman/internal/generators"
	"github.com/ivoronin/corpman/internal/progress"
)

// RoutesFile is written next to the dumped test cases and lists what the
// serving side has to resolve beyond plain files.
const RoutesFile = "routes.toml"

// generateOptions holds CLI flags for the generate command.
type generateOptions struct {
	extensions   []string
	excludes     []string
	workers      int
	rotation     int
	singlePass   bool
	iterations   int
	relaunch     int
	output       string
	harness      bool
	harnessFile  string
	details      bool
	archiveFile  string
	mime         string
	delay        time.Duration
	environFiles []string
	configFile   string
	noProgress   bool
	verbose      bool

	// Set from the config file only
	requiredEnv []string
	envDefaults map[string]string
	includes    map[string]string
}

func newGenerateCmd() *cobra.Command {
	opts := &generateOptions{
		workers:  runtime.NumCPU(),
		rotation: corpman.DefaultRotationPeriod,
		output:   "out",
	}

	cmd := &cobra.Command{
		Use:   "generate PATH",
		Short: "Generate test cases from a template corpus",
		Long: `Runs generate cycles over the templates under PATH and dumps every test case
into <output>/<NNNN>/.

In continuous mode the active template is kept for --rotation cycles before a
new one is drawn. With --single-pass every template is used exactly once and
--iterations defaults to the corpus size.

Values from --config apply unless the matching flag is given explicitly.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configFile)
			if err != nil {
				return err
			}
			applyConfig(cfg, opts, cmd.Flags().Changed)
			return runGenerate(cmd.OutOrStdout(), args[0], opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.extensions, "ext", "x", nil, "Accepted template extensions (e.g., html,svg)")
	cmd.Flags().StringSliceVarP(&opts.excludes, "exclude", "e", nil, "Glob patterns to exclude")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", opts.workers, "Number of parallel workers")
	cmd.Flags().IntVarP(&opts.rotation, "rotation", "r", opts.rotation, "Generate cycles per template before rotating")
	cmd.Flags().BoolVar(&opts.singlePass, "single-pass", false, "Use every template exactly once")
	cmd.Flags().IntVarP(&opts.iterations, "iterations", "n", 0, "Number of test cases to generate (default: corpus size)")
	cmd.Flags().IntVar(&opts.relaunch, "relaunch", 0, "Count a target relaunch every N test cases (0 disables)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", opts.output, "Directory for dumped test cases")
	cmd.Flags().BoolVar(&opts.harness, "harness", false, "Serve test cases through the built-in harness page")
	cmd.Flags().StringVar(&opts.harnessFile, "harness-file", "", "Serve test cases through a custom harness page")
	cmd.Flags().BoolVar(&opts.details, "details", false, "Write test_info.txt and env_vars.txt into each test case")
	cmd.Flags().StringVar(&opts.archiveFile, "archive", "", "Path to archive database (enables archiving)")
	cmd.Flags().StringVar(&opts.mime, "mime", "", "MIME type hint passed to the generator")
	cmd.Flags().DurationVar(&opts.delay, "delay", 0, "Time the landing page waits before moving on")
	cmd.Flags().StringSliceVar(&opts.environFiles, "environ-file", nil, "Host file added to every test case as NAME=PATH")
	cmd.Flags().StringVarP(&opts.configFile, "config", "c", "", "Path to corpman.toml")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "Disable progress output")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log every generated test case")

	return cmd
}

// applyConfig copies values defined in cfg into opts for every flag that
// was not set on the command line.
func applyConfig(cfg *config.File, opts *generateOptions, changed func(string) bool) {
	use := func(flag string, key ...string) bool {
		return !changed(flag) && cfg.Defined(key...)
	}

	if use("ext", "corpus", "extensions") {
		opts.extensions = cfg.Corpus.Extensions
	}
	if use("exclude", "corpus", "exclude") {
		opts.excludes = cfg.Corpus.Exclude
	}
	if use("workers", "corpus", "workers") {
		opts.workers = cfg.Corpus.Workers
	}
	if use("rotation", "fuzz", "rotation") {
		opts.rotation = cfg.Fuzz.Rotation
	}
	if use("single-pass", "fuzz", "single_pass") {
		opts.singlePass = cfg.Fuzz.SinglePass
	}
	if use("iterations", "fuzz", "iterations") {
		opts.iterations = cfg.Fuzz.Iterations
	}
	if use("relaunch", "fuzz", "relaunch") {
		opts.relaunch = cfg.Fuzz.Relaunch
	}
	if use("mime", "fuzz", "mime") {
		opts.mime = cfg.Fuzz.Mime
	}
	if use("delay", "fuzz", "delay") {
		opts.delay = cfg.DelayDuration()
	}
	if use("harness", "harness", "enabled") {
		opts.harness = cfg.Harness.Enabled
	}
	if use("harness-file", "harness", "file") {
		opts.harnessFile = cfg.Harness.File
	}
	if use("output", "output", "dir") {
		opts.output = cfg.Output.Dir
	}
	if use("details", "output", "details") {
		opts.details = cfg.Output.Details
	}
	if use("archive", "output", "archive") {
		opts.archiveFile = cfg.Output.Archive
	}

	opts.requiredEnv = cfg.Env.Required
	opts.envDefaults = cfg.Env.Defaults
	opts.includes = cfg.Includes
}

// parseEnvironFiles splits NAME=PATH pairs.
func parseEnvironFiles(pairs []string) (map[string]string, error) {
	files := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, path, ok := strings.Cut(pair, "=")
		if !ok || name == "" || path == "" {
			return nil, fmt.Errorf("%q: want NAME=PATH", pair)
		}
		files[name] = path
	}
	return files, nil
}

// generateStats summarizes a generate run.
type generateStats struct {
	cases     int
	bytes     int64
	launches  int
	startTime time.Time
}

func (s *generateStats) String() string {
	return fmt.Sprintf("Generated %d test cases (%s), %d launches in %.1fs",
		s.cases, humanize.IBytes(safecast.MustConvert[uint64](s.bytes)), s.launches,
		time.Since(s.startTime).Seconds())
}

// runGenerate executes the pipeline: scan → init → generate/dump loop → routes.
func runGenerate(out io.Writer, path string, opts *generateOptions) error {
	if err := validateGlobPatterns(opts.excludes); err != nil {
		return fmt.Errorf("invalid --exclude: %w", err)
	}
	if opts.relaunch < 0 {
		return fmt.Errorf("invalid --relaunch: %d", opts.relaunch)
	}
	environFiles, err := parseEnvironFiles(opts.environFiles)
	if err != nil {
		return fmt.Errorf("invalid --environ-file: %w", err)
	}

	showProgress := !opts.noProgress
	logger := newLogger(os.Stderr, opts.verbose)

	gen := &generators.Passthrough{
		Delay:       opts.delay,
		RequiredEnv: opts.requiredEnv,
		EnvDefaults: opts.envDefaults,
		Includes:    opts.includes,
	}
	m, err := corpman.New(corpman.Config{
		Path:               path,
		AcceptedExtensions: opts.extensions,
		Excludes:           opts.excludes,
		Workers:            opts.workers,
		ShowProgress:       showProgress,
		Logger:             logger,
	}, gen)
	if err != nil {
		return err
	}

	switch {
	case opts.harnessFile != "":
		if err := m.EnableHarnessFile(opts.harnessFile); err != nil {
			return err
		}
	case opts.harness:
		m.EnableHarness()
	}
	m.SetRotationPeriod(opts.rotation)
	m.SetSinglePass(opts.singlePass)

	iterations := opts.iterations
	if iterations <= 0 {
		iterations = m.Size()
	}

	store, err := archive.Open(opts.archiveFile)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	stats := &generateStats{startTime: time.Now()}
	bar := progress.New(showProgress, int64(iterations))

	for i := range iterations {
		tc, err := m.Generate(opts.mime)
		if errors.Is(err, corpman.ErrPoolExhausted) {
			logger.WithField("generated", i).Info("corpus exhausted")
			break
		}
		if err != nil {
			return err
		}

		for name, src := range environFiles {
			if err := tc.AddEnvironFile(name, src); err != nil {
				return err
			}
		}
		if err := tc.Dump(caseDir(opts.output, i), opts.details); err != nil {
			return err
		}

		id, err := store.Put(tc)
		if err != nil {
			return err
		}

		stats.cases++
		for _, f := range tc.Files() {
			stats.bytes += int64(len(f.Data))
		}
		if opts.relaunch > 0 && stats.cases%opts.relaunch == 0 {
			m.LaunchCount++
			logger.WithField("launch", m.LaunchCount).Debug("relaunch")
		}
		stats.launches = m.LaunchCount

		logger.WithFields(logrus.Fields{
			"page":     tc.LandingPage,
			"template": tc.InputFName,
			"archive":  id,
		}).Debug("dumped")
		bar.Increment()
	}
	bar.Finish(stats)

	if err := writeRoutes(filepath.Join(opts.output, RoutesFile), m); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s; start at %s\n", stats, m.EntryPage())
	return nil
}

type routes struct {
	Redirects []routeRedirect `toml:"redirect,omitempty"`
	Includes  []routeInclude  `toml:"include,omitempty"`
	Dynamic   []routeDynamic  `toml:"dynamic,omitempty"`
}

type routeRedirect struct {
	URL      string `toml:"url"`
	File     string `toml:"file"`
	Required bool   `toml:"required"`
}

type routeInclude struct {
	URL       string `toml:"url"`
	Directory string `toml:"directory"`
}

type routeDynamic struct {
	URL      string `toml:"url"`
	MimeType string `toml:"mime"`
}

// writeRoutes records the manager's registries so the serving side can
// resolve redirect aliases and include paths.
func writeRoutes(path string, m *corpman.Manager) error {
	var r routes
	for _, rd := range m.Redirects() {
		r.Redirects = append(r.Redirects, routeRedirect{URL: rd.URL, File: rd.FileName, Required: rd.Required})
	}
	for _, inc := range m.Includes() {
		r.Includes = append(r.Includes, routeInclude{URL: inc.URLPath, Directory: inc.Directory})
	}
	for _, dr := range m.DynamicResponses() {
		r.Dynamic = append(r.Dynamic, routeDynamic{URL: dr.URL, MimeType: dr.MimeType})
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(r); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
