package testfs

import (
	"path/filepath"
	"testing"
)

// Fixture is a FileTree sown into a t.TempDir().
type Fixture struct {
	t     testing.TB
	root  string
	given FileTree
}

// New creates a temporary directory and sows given into it. The directory
// is removed by t.TempDir() mechanics.
func New(t testing.TB, given FileTree) *Fixture {
	t.Helper()

	root := t.TempDir()
	if err := SowFileTree(root, given); err != nil {
		t.Fatalf("failed to setup files: %v", err)
	}
	return &Fixture{t: t, root: root, given: given}
}

// Root returns the temporary directory root path.
func (fx *Fixture) Root() string { return fx.root }

// Path returns the host path of a slash-separated path inside the fixture.
func (fx *Fixture) Path(rel string) string {
	return filepath.Join(fx.root, filepath.FromSlash(rel))
}

// Given returns the tree the fixture was sown from.
func (fx *Fixture) Given() FileTree { return fx.given }

// Assert verifies the fixture root against expected.
func (fx *Fixture) Assert(expected FileTree) {
	fx.t.Helper()
	AssertDir(fx.t, fx.root, expected)
}
