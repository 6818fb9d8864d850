// Package corpman selects templates from a corpus and assembles the test
// case served to the target on each fuzzing iteration.
//
// # Iteration
//
//	Generate()
//	    │
//	    ├──► rotate: validate period, pick or keep the active template
//	    ├──► stamp a new TestCase with LandingPage()
//	    ├──► Generator.Generate fills in the payload
//	    │        (on failure the selection is rolled back)
//	    ├──► add the harness page (harness mode)
//	    ├──► advance the page counter
//	    ├──► upsert next_test (and first_test once, harness mode)
//	    └──► snapshot declared environment variables into the TestCase
//
// # Selection
//
// In continuous mode the active template is kept for RotationPeriod calls,
// then a new one is drawn uniformly from the full pool (repeats allowed).
// In single-pass mode every successful call consumes one template drawn
// without replacement until none are left.
//
// A Manager is not safe for concurrent use; callers serialize Generate.
package corpman

import (
	"fmt"
	"math/rand/v2"
	"os"
	"runtime"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/ivoronin/corpman/internal/scanner"
	"github.com/ivoronin/corpman/internal/testcase"
	"github.com/ivoronin/corpman/internal/types"
)

const (
	// DefaultRotationPeriod is the number of iterations a template stays
	// active in continuous mode unless the generator overrides it.
	DefaultRotationPeriod = 10

	// HarnessPage is the file name of the harness page.
	HarnessPage = "grizzly_fuzz_harness.html"
	// TransitionPage is the logical redirect every test page navigates to.
	TransitionPage = "next_test"
	// FirstTestPage is the logical redirect the harness opens first.
	FirstTestPage = "first_test"
)

// Config holds construction parameters for a Manager.
type Config struct {
	Path               string   // Template file or corpus directory
	AcceptedExtensions []string // Case-insensitive, leading dot optional; empty accepts all
	Excludes           []string // Basename glob patterns to skip
	Workers            int      // Scanner concurrency, defaults to runtime.NumCPU()
	ShowProgress       bool     // Scanner spinner on stderr

	Environ Environ            // Defaults to ProcessEnviron
	Rand    *rand.Rand         // Selection source, defaults to a randomly seeded PCG
	Logger  logrus.FieldLogger // Defaults to logrus.StandardLogger()
}

// Manager owns the template pool and the rotation state.
type Manager struct {
	gen     Generator
	environ Environ
	rng     *rand.Rand
	log     logrus.FieldLogger

	// Pool: arena of templates plus indices still available for selection
	pool      []*types.InputFile
	available []int

	// Rotation state (mutated only by Generate)
	active         *types.InputFile
	uses           int // Generate calls served by active
	pageCounter    int
	rotationPeriod int
	singlePass     bool

	// Registries
	redirects map[string]Redirect
	includes  map[string]Include
	dynamic   map[string]DynamicResponse
	envVars   map[string]envDecl

	// Harness
	harness       []byte
	harnessOn     bool
	harnessPrimed bool // first_test redirect written

	initializing bool

	// LaunchCount is maintained by the driver that restarts the target.
	// The manager never reads or writes it.
	LaunchCount int
}

// New scans cfg.Path into a template pool, runs the generator's
// InitFuzzer hook and checks required environment variables.
func New(cfg Config, gen Generator) (*Manager, error) {
	if gen == nil {
		return nil, fmt.Errorf("%w: nil generator", ErrConfig)
	}
	if _, err := os.Stat(cfg.Path); err != nil {
		return nil, fmt.Errorf("corpus: %w", err)
	}

	m := &Manager{
		gen:            gen,
		environ:        cfg.Environ,
		rng:            cfg.Rand,
		log:            cfg.Logger,
		rotationPeriod: DefaultRotationPeriod,
		redirects:      make(map[string]Redirect),
		includes:       make(map[string]Include),
		dynamic:        make(map[string]DynamicResponse),
		envVars:        make(map[string]envDecl),
	}
	if m.environ == nil {
		m.environ = ProcessEnviron
	}
	if m.rng == nil {
		m.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if m.log == nil {
		m.log = logrus.StandardLogger()
	}
	m.log = m.log.WithField("corpus", gen.Key())

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if err := m.scan(cfg, workers); err != nil {
		return nil, err
	}

	if initer, ok := gen.(Initializer); ok {
		m.initializing = true
		err := initer.InitFuzzer(m)
		m.initializing = false
		if err != nil {
			return nil, fmt.Errorf("init %s: %w", gen.Key(), err)
		}
	}

	if err := m.checkEnvVars(); err != nil {
		return nil, err
	}
	return m, nil
}

// scan fills the pool. Unreadable subdirectories are logged and skipped.
func (m *Manager) scan(cfg Config, workers int) error {
	errCh := make(chan error, 100)
	done := make(chan struct{})
	go func() {
		for err := range errCh {
			m.log.WithError(err).Warn("scan")
		}
		close(done)
	}()

	corpus := scanner.New([]string{cfg.Path}, cfg.AcceptedExtensions, cfg.Excludes, workers, cfg.ShowProgress, errCh).Run()
	close(errCh)
	<-done

	if corpus.Len() == 0 {
		return fmt.Errorf("%s: %w", cfg.Path, ErrEmptyCorpus)
	}

	m.pool = corpus.Items()
	m.available = make([]int, len(m.pool))
	for i := range m.available {
		m.available[i] = i
	}
	m.log.WithField("templates", len(m.pool)).Info("corpus loaded")
	return nil
}

// Key returns the corpus identifier of the generator.
func (m *Manager) Key() string { return m.gen.Key() }

// Size returns the number of templates single pass has not used yet. It
// equals the pool size until single-pass draws are made.
func (m *Manager) Size() int { return len(m.available) }

// RotationPeriod returns the number of iterations a template stays active.
func (m *Manager) RotationPeriod() int { return m.rotationPeriod }

// SetRotationPeriod changes the rotation period. It is validated on the
// next Generate call.
func (m *Manager) SetRotationPeriod(n int) { m.rotationPeriod = n }

// SinglePass reports whether templates are drawn without replacement.
func (m *Manager) SinglePass() bool { return m.singlePass }

// SetSinglePass switches between single-pass and continuous selection.
func (m *Manager) SetSinglePass(on bool) { m.singlePass = on }

// ActiveInput returns the template used by the last Generate call, or nil
// before the first call.
func (m *Manager) ActiveInput() *types.InputFile { return m.active }

// ActiveFileName returns the path of the active template, or "" before the
// first Generate call.
func (m *Manager) ActiveFileName() string {
	if m.active == nil {
		return ""
	}
	return m.active.FileName
}

// LandingPage returns the file name of the next test page.
func (m *Manager) LandingPage() string {
	return fmt.Sprintf("test_page_%04d.html", m.pageCounter)
}

// EntryPage returns the page the target should be pointed at: the harness
// page in harness mode, otherwise LandingPage().
func (m *Manager) EntryPage() string {
	if m.harnessOn {
		return HarnessPage
	}
	return m.LandingPage()
}

// AddRequiredEnvVar declares an environment variable that must be present
// when the Manager is constructed. Only valid from InitFuzzer.
func (m *Manager) AddRequiredEnvVar(name string) error {
	return m.declareEnvVar(name, envDecl{})
}

// AddRequiredEnvVarDefault is AddRequiredEnvVar with an advisory default
// recorded alongside the declaration. The default does not satisfy the
// presence check.
func (m *Manager) AddRequiredEnvVarDefault(name, def string) error {
	return m.declareEnvVar(name, envDecl{def: def, hasDefault: true})
}

func (m *Manager) declareEnvVar(name string, decl envDecl) error {
	if !m.initializing {
		return fmt.Errorf("%w: environment variable %s declared outside InitFuzzer", ErrConfig, name)
	}
	m.envVars[name] = decl
	return nil
}

// RequiredEnvVars returns the declared variable names, sorted.
func (m *Manager) RequiredEnvVars() []string {
	names := make([]string, 0, len(m.envVars))
	for name := range m.envVars {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (m *Manager) checkEnvVars() error {
	var missing []string
	for _, name := range m.RequiredEnvVars() {
		if _, ok := m.environ.LookupEnv(name); !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &MissingEnvVarError{Names: missing}
	}
	return nil
}

// envSnapshot returns the live values of declared variables, falling back
// to the declared default for any that disappeared since construction.
func (m *Manager) envSnapshot() map[string]string {
	snap := make(map[string]string, len(m.envVars))
	for name, decl := range m.envVars {
		if v, ok := m.environ.LookupEnv(name); ok {
			snap[name] = v
		} else if decl.hasDefault {
			snap[name] = decl.def
		}
	}
	return snap
}

// Generate runs one iteration and returns the assembled test case.
func (m *Manager) Generate(mimeType string) (*testcase.TestCase, error) {
	sel, err := m.rotate()
	if err != nil {
		return nil, err
	}

	landing := m.LandingPage()
	tc := testcase.New(landing, m.gen.Key(), m.active.FileName)
	tc, err = m.gen.Generate(tc, TransitionPage, mimeType)
	if err == nil && tc == nil {
		err = ErrNoTestCase
	}
	if err != nil {
		m.rollback(sel)
		return nil, fmt.Errorf("generate %s: %w", landing, err)
	}
	m.commit(sel)

	if m.harnessOn {
		tc.AddTestFile(testcase.NewTestFile(HarnessPage, m.harness))
	}

	m.pageCounter++
	m.SetRedirect(TransitionPage, m.LandingPage(), false)
	if m.harnessOn && !m.harnessPrimed {
		m.SetRedirect(FirstTestPage, landing, true)
		m.harnessPrimed = true
	}

	tc.SetEnvVars(m.envSnapshot())

	m.log.WithFields(logrus.Fields{
		"page":     landing,
		"template": m.active.FileName,
		"files":    tc.Len(),
	}).Debug("generated test case")
	return tc, nil
}

// selection records what rotate changed so a failed generator call can
// be undone.
type selection struct {
	prevActive *types.InputFile
	prevUses   int
	slot       int // Index into available to consume on commit, -1 for none
}

// rotate validates the rotation period and makes the next template active.
// Single pass draws from the templates not yet used; continuous mode draws
// from the full pool.
func (m *Manager) rotate() (selection, error) {
	sel := selection{prevActive: m.active, prevUses: m.uses, slot: -1}
	if m.rotationPeriod <= 0 {
		return sel, fmt.Errorf("%w: got %d", ErrRotationPeriod, m.rotationPeriod)
	}

	if m.singlePass {
		if len(m.available) == 0 {
			return sel, ErrPoolExhausted
		}
		sel.slot = m.rng.IntN(len(m.available))
		m.active = m.pool[m.available[sel.slot]]
		m.uses = 1
		m.log.WithField("template", m.active.FileName).Debug("selected template (single pass)")
		return sel, nil
	}

	if len(m.pool) == 0 {
		return sel, ErrPoolExhausted
	}
	if m.active == nil || m.uses >= m.rotationPeriod {
		m.active = m.pool[m.rng.IntN(len(m.pool))]
		m.uses = 0
		m.log.WithField("template", m.active.FileName).Debug("selected template")
	}
	m.uses++
	return sel, nil
}

// commit consumes the single-pass draw of a successful iteration.
func (m *Manager) commit(sel selection) {
	if sel.slot >= 0 {
		m.available = slices.Delete(m.available, sel.slot, sel.slot+1)
	}
}

// rollback restores the rotation state from before rotate.
func (m *Manager) rollback(sel selection) {
	m.active = sel.prevActive
	m.uses = sel.prevUses
}
