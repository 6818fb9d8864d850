package testfs

import (
	"testing"
)

// AssertDir reaps dir and verifies it against expected.
func AssertDir(t testing.TB, dir string, expected FileTree) {
	t.Helper()

	actual, err := ReapDir(dir)
	if err != nil {
		t.Fatalf("reap %s: %v", dir, err)
	}
	AssertFiles(t, expected, actual.Files)
}

// AssertFiles verifies that every expected file exists with the expected
// content or size. With expected.Exact, extra files fail the test too.
func AssertFiles(t testing.TB, expected FileTree, actual []ReapFile) {
	t.Helper()

	byPath := make(map[string]ReapFile, len(actual))
	for _, rf := range actual {
		byPath[rf.Path] = rf
	}

	for _, f := range expected.Files {
		rf, ok := byPath[f.Path]
		if !ok {
			t.Errorf("expected file not found: %s", f.Path)
			continue
		}
		switch {
		case f.Content != "":
			if string(rf.Data) != f.Content {
				t.Errorf("%s: got content %q, want %q", f.Path, rf.Data, f.Content)
			}
		case f.Empty:
			if rf.Size != 0 {
				t.Errorf("%s: got size %d, want empty", f.Path, rf.Size)
			}
		case len(f.Chunks) > 0:
			if want := f.TotalSize(); rf.Size != want {
				t.Errorf("%s: got size %d, want %d", f.Path, rf.Size, want)
			}
		}
	}

	if !expected.Exact {
		return
	}
	listed := make(map[string]struct{}, len(expected.Files))
	for _, f := range expected.Files {
		listed[f.Path] = struct{}{}
	}
	for _, rf := range actual {
		if _, ok := listed[rf.Path]; !ok {
			t.Errorf("unexpected file: %s", rf.Path)
		}
	}
}
