package corpman

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivoronin/corpman/internal/testcase"
	"github.com/ivoronin/corpman/internal/testfs"
)

// simpleGen writes the redirect page name as the landing page content.
type simpleGen struct{}

func (simpleGen) Key() string { return "simple" }

func (simpleGen) Generate(tc *testcase.TestCase, redirectPage, _ string) (*testcase.TestCase, error) {
	tc.AddTestFile(testcase.NewTestFile(tc.LandingPage, []byte(redirectPage)))
	return tc, nil
}

// singlePassGen copies the active template next to the landing page.
type singlePassGen struct {
	m *Manager
}

func (*singlePassGen) Key() string { return "single_pass" }

func (g *singlePassGen) InitFuzzer(m *Manager) error {
	g.m = m
	m.SetRotationPeriod(1)
	m.SetSinglePass(true)
	return nil
}

func (g *singlePassGen) Generate(tc *testcase.TestCase, redirectPage, _ string) (*testcase.TestCase, error) {
	active := g.m.ActiveInput()
	data, err := active.Data()
	if err != nil {
		return nil, err
	}
	tc.AddTestFile(testcase.NewTestFile(filepath.Base(active.FileName), data))
	tc.AddTestFile(testcase.NewTestFile(tc.LandingPage, []byte(redirectPage)))
	return tc, nil
}

// envVarGen declares two required environment variables.
type envVarGen struct{ simpleGen }

func (envVarGen) Key() string { return "envvar" }

func (envVarGen) InitFuzzer(m *Manager) error {
	if err := m.AddRequiredEnvVar("RANDOM_ENVAR_TEST"); err != nil {
		return err
	}
	return m.AddRequiredEnvVarDefault("RANDOM_ENVAR_TEST2", "test123")
}

// funcGen adapts a function for one-off behaviors.
type funcGen func(tc *testcase.TestCase) (*testcase.TestCase, error)

func (funcGen) Key() string { return "func" }

func (f funcGen) Generate(tc *testcase.TestCase, _, _ string) (*testcase.TestCase, error) {
	return f(tc)
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func templates(n int) testfs.FileTree {
	tree := testfs.FileTree{}
	for i := 0; i < n; i++ {
		tree.Files = append(tree.Files, testfs.File{
			Path:    fmt.Sprintf("test_template_%d.bin", i),
			Content: fmt.Sprintf("template_data_%d", i),
		})
	}
	return tree
}

func newManager(t *testing.T, path string, gen Generator) *Manager {
	t.Helper()
	m, err := New(Config{
		Path:    path,
		Workers: 2,
		Environ: MapEnviron{},
		Rand:    rand.New(rand.NewPCG(1, 2)),
		Logger:  quietLogger(),
	}, gen)
	require.NoError(t, err)
	return m
}

func TestBasicManager(t *testing.T) {
	fx := testfs.New(t, templates(1))
	m := newManager(t, fx.Root(), simpleGen{})

	assert.Equal(t, "simple", m.Key())
	assert.Equal(t, 1, m.Size())
	assert.Equal(t, "", m.ActiveFileName(), "no template before Generate")
	assert.Nil(t, m.ActiveInput())
	assert.Equal(t, "test_page_0000.html", m.LandingPage())
	assert.Equal(t, "next_test", TransitionPage)
	assert.Equal(t, 0, m.LaunchCount)
	assert.Equal(t, DefaultRotationPeriod, m.RotationPeriod())
	assert.False(t, m.SinglePass())
}

func TestGenerateCreatesTestCase(t *testing.T) {
	fx := testfs.New(t, templates(1))
	m := newManager(t, fx.Root(), simpleGen{})

	tc, err := m.Generate("")
	require.NoError(t, err)

	redirects := m.Redirects()
	require.Len(t, redirects, 1)
	assert.Equal(t, Redirect{URL: "next_test", FileName: "test_page_0001.html", Required: false}, redirects[0])

	assert.Equal(t, "test_page_0001.html", m.LandingPage())
	assert.Equal(t, fx.Path("test_template_0.bin"), m.ActiveFileName())
	assert.Equal(t, "test_page_0000.html", tc.LandingPage)
	assert.Equal(t, "simple", tc.CorpusName)
	assert.Equal(t, fx.Path("test_template_0.bin"), tc.InputFName)

	out := t.TempDir()
	require.NoError(t, tc.Dump(out, true))
	testfs.AssertDir(t, out, testfs.FileTree{Files: []testfs.File{
		{Path: "test_page_0000.html", Content: "next_test"},
		{Path: testcase.InfoFile},
	}})
}

func TestRotation(t *testing.T) {
	fx := testfs.New(t, templates(10))
	m := newManager(t, fx.Root(), simpleGen{})
	m.SetRotationPeriod(1)

	selected := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		assert.Equal(t, fmt.Sprintf("test_page_%04d.html", i), m.LandingPage())
		_, err := m.Generate("")
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("test_page_%04d.html", i+1), m.LandingPage())
		selected[m.ActiveFileName()] = struct{}{}
	}

	assert.Greater(t, len(selected), 1, "templates must rotate")
	assert.Equal(t, 10, m.Size(), "continuous mode never shrinks the pool")
}

func TestRotationPeriodKeepsTemplate(t *testing.T) {
	fx := testfs.New(t, templates(10))
	m := newManager(t, fx.Root(), simpleGen{})
	m.SetRotationPeriod(5)

	var names []string
	for i := 0; i < 10; i++ {
		_, err := m.Generate("")
		require.NoError(t, err)
		names = append(names, m.ActiveFileName())
	}

	for i := 1; i < 5; i++ {
		assert.Equal(t, names[0], names[i], "template changed inside the first period")
		assert.Equal(t, names[5], names[5+i], "template changed inside the second period")
	}
}

func TestSinglePass(t *testing.T) {
	fx := testfs.New(t, templates(10))
	m := newManager(t, fx.Root(), &singlePassGen{})
	require.Equal(t, 10, m.Size())

	selected := make(map[string]struct{})
	for i := 0; i < 10; i++ {
		tc, err := m.Generate("")
		require.NoError(t, err)
		assert.Equal(t, 2, tc.Len())
		assert.Equal(t, 10-i-1, m.Size())
		selected[m.ActiveFileName()] = struct{}{}
	}

	assert.Len(t, selected, 10, "every template used exactly once")
	assert.Equal(t, 0, m.Size())

	_, err := m.Generate("")
	assert.ErrorIs(t, err, ErrPoolExhausted)
	assert.Equal(t, "test_page_0010.html", m.LandingPage(), "exhaustion does not advance the counter")
}

func TestSingleTemplateFile(t *testing.T) {
	fx := testfs.New(t, templates(10))
	m := newManager(t, fx.Path("test_template_0.bin"), simpleGen{})
	assert.Equal(t, 1, m.Size())
}

func TestNestedDirectories(t *testing.T) {
	tree := testfs.FileTree{}
	for _, dir := range []string{"test1_x", "test2_y"} {
		for i := 0; i < 10; i++ {
			tree.Files = append(tree.Files, testfs.File{Path: fmt.Sprintf("%s/test_template_%d.bin", dir, i)})
		}
	}
	fx := testfs.New(t, tree)

	m := newManager(t, fx.Root(), simpleGen{})
	assert.Equal(t, 20, m.Size())
}

func TestExtensionFilter(t *testing.T) {
	fx := testfs.New(t, testfs.FileTree{Files: []testfs.File{
		{Path: "test_template.bad"},
		{Path: "test_template1.good"},
		{Path: "test_template2.GOOD"},
		{Path: "test_template2.GReat"},
	}})

	m, err := New(Config{
		Path:               fx.Root(),
		AcceptedExtensions: []string{"good", ".greaT"},
		Environ:            MapEnviron{},
		Logger:             quietLogger(),
	}, simpleGen{})
	require.NoError(t, err)
	assert.Equal(t, 3, m.Size())
}

func TestIgnoredFiles(t *testing.T) {
	fx := testfs.New(t, testfs.FileTree{Files: []testfs.File{
		{Path: "test_template.good", Content: "template_data"},
		{Path: "test_template.empty", Empty: true},
		{Path: ".somefile", Content: "template_data"},
		{Path: "thumbs.db", Content: "template_data"},
	}})

	m := newManager(t, fx.Root(), simpleGen{})
	assert.Equal(t, 1, m.Size())
}

func TestEmptyCorpus(t *testing.T) {
	fx := testfs.New(t, testfs.FileTree{Files: []testfs.File{{Path: "empty.bin", Empty: true}}})

	_, err := New(Config{Path: fx.Root(), Environ: MapEnviron{}, Logger: quietLogger()}, simpleGen{})
	assert.ErrorIs(t, err, ErrEmptyCorpus)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestMissingCorpusPath(t *testing.T) {
	_, err := New(Config{Path: filepath.Join(t.TempDir(), "missing"), Logger: quietLogger()}, simpleGen{})
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestNilGenerator(t *testing.T) {
	_, err := New(Config{Path: t.TempDir()}, nil)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestHarness(t *testing.T) {
	fx := testfs.New(t, templates(1))
	m := newManager(t, fx.Root(), simpleGen{})
	m.EnableHarness()

	assert.True(t, m.HarnessEnabled())
	assert.Equal(t, "grizzly_fuzz_harness.html", m.EntryPage())
	assert.Equal(t, 1, m.Size())

	expected := m.LandingPage()
	tc, err := m.Generate("")
	require.NoError(t, err)

	out := t.TempDir()
	require.NoError(t, tc.Dump(out, false))
	testfs.AssertDir(t, out, testfs.FileTree{
		Files: []testfs.File{{Path: expected}, {Path: HarnessPage}},
		Exact: true,
	})

	want := []Redirect{
		{URL: "first_test", FileName: expected, Required: true},
		{URL: "next_test", FileName: m.LandingPage(), Required: false},
	}
	if diff := cmp.Diff(want, m.Redirects()); diff != "" {
		t.Errorf("Redirects() mismatch (-want +got):\n%s", diff)
	}

	// first_test keeps pointing at the first page
	_, err = m.Generate("")
	require.NoError(t, err)
	want[1].FileName = "test_page_0002.html"
	if diff := cmp.Diff(want, m.Redirects()); diff != "" {
		t.Errorf("Redirects() after second Generate mismatch (-want +got):\n%s", diff)
	}
}

func TestHarnessFile(t *testing.T) {
	fx := testfs.New(t, testfs.FileTree{Files: []testfs.File{
		{Path: "corpus/a.html"},
		{Path: "custom_harness.html", Content: "<custom>"},
	}})
	m := newManager(t, fx.Path("corpus"), simpleGen{})

	require.NoError(t, m.EnableHarnessFile(fx.Path("custom_harness.html")))
	tc, err := m.Generate("")
	require.NoError(t, err)

	tf, ok := tc.File(HarnessPage)
	require.True(t, ok)
	assert.Equal(t, "<custom>", string(tf.Data))

	assert.ErrorIs(t, m.EnableHarnessFile(fx.Path("missing.html")), fs.ErrNotExist)
}

func TestEntryPageWithoutHarness(t *testing.T) {
	fx := testfs.New(t, templates(1))
	m := newManager(t, fx.Root(), simpleGen{})

	assert.False(t, m.HarnessEnabled())
	assert.Equal(t, "test_page_0000.html", m.EntryPage())
}

func TestRedirectUpsert(t *testing.T) {
	fx := testfs.New(t, templates(1))
	m := newManager(t, fx.Root(), simpleGen{})

	for _, r := range []Redirect{
		{"url1", "file1", true},
		{"url2", "file2", false},
		{"url3", "file3", true},
		{"url3", "file4", false},
	} {
		m.SetRedirect(r.URL, r.FileName, r.Required)
	}

	want := []Redirect{
		{URL: "url1", FileName: "file1", Required: true},
		{URL: "url2", FileName: "file2", Required: false},
		{URL: "url3", FileName: "file4", Required: false},
	}
	if diff := cmp.Diff(want, m.Redirects()); diff != "" {
		t.Errorf("Redirects() mismatch (-want +got):\n%s", diff)
	}

	// Generate only touches next_test
	_, err := m.Generate("")
	require.NoError(t, err)
	got := m.Redirects()
	require.Len(t, got, 4)
	assert.Equal(t, "next_test", got[0].URL)
	if diff := cmp.Diff(want, got[1:]); diff != "" {
		t.Errorf("explicit redirects changed by Generate (-want +got):\n%s", diff)
	}
}

func TestIncludes(t *testing.T) {
	fx := testfs.New(t, templates(1))
	m := newManager(t, fx.Root(), simpleGen{})
	incDir := t.TempDir()

	require.NoError(t, m.AddInclude("/", incDir))
	err := m.AddInclude("bad_path", "/does_not_exist/asdf")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	notDir := fx.Path("test_template_0.bin")
	assert.Error(t, m.AddInclude("file", notDir))

	assert.Equal(t, []Include{{URLPath: "/", Directory: incDir}}, m.Includes())
}

func TestDynamicResponses(t *testing.T) {
	fx := testfs.New(t, templates(1))
	m := newManager(t, fx.Root(), simpleGen{})

	m.AddDynamicResponse("test_url", func() []byte { return []byte("PASS") }, "text/plain")
	results := m.DynamicResponses()
	require.Len(t, results, 1)
	assert.Equal(t, "test_url", results[0].URL)
	assert.Equal(t, "text/plain", results[0].MimeType)
	assert.Equal(t, "PASS", string(results[0].Callback()))
}

func TestAddTestFileNestedDump(t *testing.T) {
	fx := testfs.New(t, templates(1))
	m := newManager(t, fx.Root(), simpleGen{})

	tc, err := m.Generate("")
	require.NoError(t, err)
	tc.AddTestFile(testcase.NewTestFile("test/dir/path/file.txt", []byte("somedata")))

	out := t.TempDir()
	require.NoError(t, tc.Dump(out, false))
	assert.FileExists(t, filepath.Join(out, "test", "dir", "path", "file.txt"))
}

func TestRotationPeriodInvalid(t *testing.T) {
	tests := []struct {
		name   string
		gen    Generator
		period int
	}{
		{"zero single pass", &singlePassGen{}, 0},
		{"negative continuous", simpleGen{}, -1},
		{"zero continuous", simpleGen{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := testfs.New(t, testfs.FileTree{Files: []testfs.File{{Path: "test_template.bin", Content: "a"}}})
			m := newManager(t, fx.Root(), tt.gen)
			m.SetRotationPeriod(tt.period)

			_, err := m.Generate("")
			assert.ErrorIs(t, err, ErrRotationPeriod)
			assert.Equal(t, 1, m.Size(), "pool untouched on contract error")
		})
	}
}

func TestMissingEnvVar(t *testing.T) {
	fx := testfs.New(t, templates(1))

	_, err := New(Config{
		Path:    fx.Root(),
		Environ: MapEnviron{"RANDOM_ENVAR_TEST2": "test123"},
		Logger:  quietLogger(),
	}, envVarGen{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfig)

	var missing *MissingEnvVarError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"RANDOM_ENVAR_TEST"}, missing.Names)
	assert.Regexp(t, `missing environment variable\(s\): RANDOM_ENVAR_TEST$`, err.Error())
}

func TestDefaultDoesNotSatisfyPresence(t *testing.T) {
	fx := testfs.New(t, templates(1))

	_, err := New(Config{
		Path:    fx.Root(),
		Environ: MapEnviron{"RANDOM_ENVAR_TEST": "x"},
		Logger:  quietLogger(),
	}, envVarGen{})

	var missing *MissingEnvVarError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"RANDOM_ENVAR_TEST2"}, missing.Names)
}

func TestEnvVarsDumped(t *testing.T) {
	fx := testfs.New(t, testfs.FileTree{Files: []testfs.File{
		{Path: "corpus/test_template.bin", Content: "template_data"},
		{Path: "prf/simple_prefs.js", Content: "stuff.blah=1;"},
	}})
	t.Setenv("RANDOM_ENVAR_TEST", "anything!")
	t.Setenv("RANDOM_ENVAR_TEST2", "test123")

	m, err := New(Config{Path: fx.Path("corpus"), Logger: quietLogger()}, envVarGen{})
	require.NoError(t, err)
	assert.Equal(t, []string{"RANDOM_ENVAR_TEST", "RANDOM_ENVAR_TEST2"}, m.RequiredEnvVars())

	tc, err := m.Generate("")
	require.NoError(t, err)
	require.NoError(t, tc.AddEnvironFile("prefs.js", fx.Path("prf/simple_prefs.js")))

	out := t.TempDir()
	require.NoError(t, tc.Dump(out, true))
	testfs.AssertDir(t, out, testfs.FileTree{Files: []testfs.File{
		{Path: "prefs.js", Content: "stuff.blah=1;"},
		{Path: testcase.EnvFile, Content: "RANDOM_ENVAR_TEST=anything!\nRANDOM_ENVAR_TEST2=test123\n"},
	}})
}

func TestEnvSnapshotTakenAtGenerate(t *testing.T) {
	fx := testfs.New(t, templates(1))
	env := MapEnviron{"RANDOM_ENVAR_TEST": "one", "RANDOM_ENVAR_TEST2": "two"}
	m, err := New(Config{Path: fx.Root(), Environ: env, Logger: quietLogger()}, envVarGen{})
	require.NoError(t, err)

	tc, err := m.Generate("")
	require.NoError(t, err)
	env["RANDOM_ENVAR_TEST"] = "changed"
	delete(env, "RANDOM_ENVAR_TEST2")

	assert.Equal(t, map[string]string{"RANDOM_ENVAR_TEST": "one", "RANDOM_ENVAR_TEST2": "two"}, tc.EnvVars())

	tc2, err := m.Generate("")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"RANDOM_ENVAR_TEST": "changed", "RANDOM_ENVAR_TEST2": "test123"}, tc2.EnvVars(),
		"vanished variable falls back to its declared default")
}

func TestAddRequiredEnvVarOutsideInit(t *testing.T) {
	fx := testfs.New(t, templates(1))
	m := newManager(t, fx.Root(), simpleGen{})

	assert.ErrorIs(t, m.AddRequiredEnvVar("LATE"), ErrConfig)
	assert.Empty(t, m.RequiredEnvVars())
}

func TestGeneratorErrors(t *testing.T) {
	fx := testfs.New(t, templates(1))
	boom := errors.New("boom")

	m := newManager(t, fx.Root(), funcGen(func(*testcase.TestCase) (*testcase.TestCase, error) { return nil, boom }))
	_, err := m.Generate("")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "test_page_0000.html", m.LandingPage())
	assert.Empty(t, m.Redirects())

	m = newManager(t, fx.Root(), funcGen(func(*testcase.TestCase) (*testcase.TestCase, error) { return nil, nil }))
	_, err = m.Generate("")
	assert.ErrorIs(t, err, ErrNoTestCase)
}

// flakyGen fails its first calls, then behaves like singlePassGen.
type flakyGen struct {
	*singlePassGen
	failures int
}

var errTransient = errors.New("transient")

func (g *flakyGen) Generate(tc *testcase.TestCase, redirectPage, mimeType string) (*testcase.TestCase, error) {
	if g.failures > 0 {
		g.failures--
		return nil, errTransient
	}
	return g.singlePassGen.Generate(tc, redirectPage, mimeType)
}

func TestSinglePassGeneratorFailureKeepsTemplate(t *testing.T) {
	fx := testfs.New(t, templates(3))
	m := newManager(t, fx.Root(), &flakyGen{singlePassGen: &singlePassGen{}, failures: 1})

	_, err := m.Generate("")
	require.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, m.Size(), "failed call must not consume a template")
	assert.Nil(t, m.ActiveInput())
	assert.Equal(t, "test_page_0000.html", m.LandingPage())

	produced := make(map[string]struct{})
	for i := 0; i < 3; i++ {
		tc, err := m.Generate("")
		require.NoError(t, err)
		produced[tc.InputFName] = struct{}{}
	}
	assert.Len(t, produced, 3, "every template still produces a test case")

	_, err = m.Generate("")
	assert.ErrorIs(t, err, ErrPoolExhausted)
}

func TestContinuousGeneratorFailureKeepsPeriod(t *testing.T) {
	fx := testfs.New(t, templates(5))
	calls := 0
	m := newManager(t, fx.Root(), funcGen(func(tc *testcase.TestCase) (*testcase.TestCase, error) {
		calls++
		if calls == 2 {
			return nil, errTransient
		}
		return tc, nil
	}))
	m.SetRotationPeriod(2)

	first, err := m.Generate("")
	require.NoError(t, err)
	_, err = m.Generate("")
	require.ErrorIs(t, err, errTransient)
	assert.Equal(t, first.InputFName, m.ActiveFileName())

	second, err := m.Generate("")
	require.NoError(t, err)
	assert.Equal(t, first.InputFName, second.InputFName, "failed call counted toward the rotation period")
}

func TestContinuousAfterSinglePass(t *testing.T) {
	fx := testfs.New(t, templates(3))
	m := newManager(t, fx.Root(), simpleGen{})
	m.SetSinglePass(true)
	for i := 0; i < 3; i++ {
		_, err := m.Generate("")
		require.NoError(t, err)
	}
	require.Equal(t, 0, m.Size())

	m.SetSinglePass(false)
	for i := 0; i < 5; i++ {
		tc, err := m.Generate("")
		require.NoError(t, err, "continuous mode draws from the full pool")
		assert.NotEmpty(t, tc.InputFName)
	}
	assert.Equal(t, 0, m.Size())
}

func TestInitFuzzerError(t *testing.T) {
	fx := testfs.New(t, templates(1))
	boom := errors.New("init failed")

	_, err := New(Config{Path: fx.Root(), Logger: quietLogger()}, initFailGen{err: boom})
	assert.ErrorIs(t, err, boom)
}

type initFailGen struct {
	simpleGen
	err error
}

func (g initFailGen) InitFuzzer(*Manager) error { return g.err }

func TestMimeTypePassedThrough(t *testing.T) {
	fx := testfs.New(t, templates(1))
	var seen string
	gen := mimeGen{seen: &seen}
	m := newManager(t, fx.Root(), gen)

	_, err := m.Generate("text/html")
	require.NoError(t, err)
	assert.Equal(t, "text/html", seen)
}

type mimeGen struct{ seen *string }

func (mimeGen) Key() string { return "mime" }

func (g mimeGen) Generate(tc *testcase.TestCase, _, mimeType string) (*testcase.TestCase, error) {
	*g.seen = mimeType
	return tc, nil
}

func TestMain(m *testing.M) {
	logrus.SetOutput(io.Discard)
	os.Exit(m.Run())
}
