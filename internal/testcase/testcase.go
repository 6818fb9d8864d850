// Package testcase models the bundle of files produced by one generate cycle
// and writes it out as a directory tree.
package testcase

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"fortio.org/safecast"
	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
)

const (
	// InfoFile holds human-readable metadata when details are dumped.
	InfoFile = "test_info.txt"
	// EnvFile holds NAME=value lines when details are dumped.
	EnvFile = "env_vars.txt"
)

// ErrUnsafePath is returned by Dump for a file name that would land outside
// the dump root.
var ErrUnsafePath = errors.New("test file path escapes dump root")

// ErrReservedName is returned by Dump with details enabled for a test file
// named InfoFile or EnvFile.
var ErrReservedName = errors.New("test file name reserved for dump details")

// TestCase is an ordered collection of test files plus the metadata of the
// iteration that produced it. The zero value is an empty test case.
//
// Files keep the slot of their first insertion; adding a file with an
// existing name replaces its content in place.
type TestCase struct {
	LandingPage string
	CorpusName  string
	InputFName  string // Empty when the test case has no originating template

	files   []TestFile
	index   map[string]int
	envVars map[string]string
}

// New creates an empty test case.
func New(landingPage, corpusName, inputFName string) *TestCase {
	return &TestCase{
		LandingPage: landingPage,
		CorpusName:  corpusName,
		InputFName:  inputFName,
		index:       make(map[string]int),
		envVars:     make(map[string]string),
	}
}

// AddTestFile inserts tf, replacing any file with the same name.
func (tc *TestCase) AddTestFile(tf TestFile) {
	if tc.index == nil {
		tc.index = make(map[string]int)
	}
	if i, ok := tc.index[tf.FileName]; ok {
		tc.files[i] = tf
		return
	}
	tc.index[tf.FileName] = len(tc.files)
	tc.files = append(tc.files, tf)
}

// AddEnvironFile reads source from the host and adds it as a required test
// file named target.
func (tc *TestCase) AddEnvironFile(target, source string) error {
	data, err := os.ReadFile(source)
	if err != nil {
		return fmt.Errorf("environ file %s: %w", target, err)
	}
	tc.AddTestFile(NewTestFile(target, data))
	return nil
}

// File returns the test file with the given name.
func (tc *TestCase) File(name string) (TestFile, bool) {
	i, ok := tc.index[name]
	if !ok {
		return TestFile{}, false
	}
	return tc.files[i], true
}

// Files returns the test files in insertion order.
func (tc *TestCase) Files() []TestFile {
	return slices.Clone(tc.files)
}

// Len returns the number of test files.
func (tc *TestCase) Len() int { return len(tc.files) }

// Optional returns the names of files that are not required.
func (tc *TestCase) Optional() []string {
	var names []string
	for _, tf := range tc.files {
		if !tf.Required {
			names = append(names, tf.FileName)
		}
	}
	return names
}

// SetEnvVars replaces the environment snapshot recorded for this test case.
func (tc *TestCase) SetEnvVars(vars map[string]string) {
	tc.envVars = make(map[string]string, len(vars))
	for k, v := range vars {
		tc.envVars[k] = v
	}
}

// EnvVars returns a copy of the environment snapshot.
func (tc *TestCase) EnvVars() map[string]string {
	out := make(map[string]string, len(tc.envVars))
	for k, v := range tc.envVars {
		out[k] = v
	}
	return out
}

// Dump writes every test file under dir on the host filesystem.
func (tc *TestCase) Dump(dir string, includeDetails bool) error {
	return tc.DumpFs(afero.NewOsFs(), dir, includeDetails)
}

// DumpFs writes every test file under dir on fsys, creating parent
// directories as needed. With includeDetails it also writes InfoFile and
// EnvFile; a test file with either name is then rejected. Nothing is
// written when validation fails. Re-dumping to the same directory
// overwrites identical content.
func (tc *TestCase) DumpFs(fsys afero.Fs, dir string, includeDetails bool) error {
	for _, tf := range tc.files {
		if !isLocal(tf.FileName) {
			return fmt.Errorf("%q: %w", tf.FileName, ErrUnsafePath)
		}
		if includeDetails && isReserved(tf.FileName) {
			return fmt.Errorf("%q: %w", tf.FileName, ErrReservedName)
		}
	}

	for _, tf := range tc.files {
		if err := writeFile(fsys, filepath.Join(dir, filepath.FromSlash(tf.FileName)), tf.Data); err != nil {
			return err
		}
	}

	if !includeDetails {
		return nil
	}
	if err := writeFile(fsys, filepath.Join(dir, InfoFile), []byte(tc.info())); err != nil {
		return err
	}
	if len(tc.envVars) > 0 {
		if err := writeFile(fsys, filepath.Join(dir, EnvFile), []byte(tc.envLines())); err != nil {
			return err
		}
	}
	return nil
}

// info renders the InfoFile contents.
func (tc *TestCase) info() string {
	var total int64
	for _, tf := range tc.files {
		total += int64(len(tf.Data))
	}
	input := tc.InputFName
	if input == "" {
		input = "none"
	}

	var b strings.Builder
	b.WriteString("[Metadata]\n")
	fmt.Fprintf(&b, "Landing Page: %s\n", tc.LandingPage)
	fmt.Fprintf(&b, "Corpus: %s\n", tc.CorpusName)
	fmt.Fprintf(&b, "Input File: %s\n", input)
	fmt.Fprintf(&b, "Files: %d (%s)\n", len(tc.files), humanize.IBytes(safecast.MustConvert[uint64](total)))
	return b.String()
}

// envLines renders the EnvFile contents, sorted by variable name.
func (tc *TestCase) envLines() string {
	names := make([]string, 0, len(tc.envVars))
	for name := range tc.envVars {
		names = append(names, name)
	}
	slices.Sort(names)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "%s=%s\n", name, tc.envVars[name])
	}
	return b.String()
}

// isLocal reports whether a slash-separated test file name stays inside the
// dump root.
func isLocal(name string) bool {
	if name == "" || path.IsAbs(name) || filepath.IsAbs(name) {
		return false
	}
	return filepath.IsLocal(filepath.FromSlash(name))
}

func isReserved(name string) bool {
	name = path.Clean(name)
	return name == InfoFile || name == EnvFile
}

func writeFile(fsys afero.Fs, name string, data []byte) error {
	if err := fsys.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(name), err)
	}
	if err := afero.WriteFile(fsys, name, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}
