// Package testfs provides test infrastructure for corpus and dump trees.
//
// Tests describe a directory tree once and use it both to sow a corpus
// before a run and to assert on a dumped test case afterwards:
//
//	given := testfs.FileTree{
//	    Files: []testfs.File{
//	        {Path: "a/test_template_0.bin", Content: "template_data"},
//	        {Path: "big.bin", Chunks: []testfs.Chunk{{Pattern: 'A', Size: "1MiB"}}},
//	        {Path: ".hidden", Content: "skipped by the scanner"},
//	    },
//	}
//	fx := testfs.New(t, given)
//	m, _ := corpman.New(corpman.Config{Path: fx.Root()}, gen)
//	tc, _ := m.Generate("")
//	_ = tc.Dump(out, false)
//	testfs.AssertDir(t, out, testfs.FileTree{
//	    Files: []testfs.File{{Path: "test_page_0000.html", Content: "next_test"}},
//	})
//
// # Context-Dependent Field Usage
//
//	| Field          | Setup              | Verification             |
//	|----------------|--------------------|--------------------------|
//	| File.Path      | Create file        | Assert exists            |
//	| File.Content   | Literal content    | Assert equal (if set)    |
//	| File.Chunks    | Generate content   | Assert total size        |
//	| File.Empty     | Create zero bytes  | Assert zero bytes        |
//	| Symlink.Path   | Create symlink     | Ignored                  |
//	| Exact          | Ignored            | No files beyond Files    |
package testfs

import "github.com/dustin/go-humanize"

// FileTree describes a directory tree (used for both setup and verification).
type FileTree struct {
	Files    []File    `json:"files,omitempty"`
	Symlinks []Symlink `json:"symlinks,omitempty"`

	// Exact fails verification when the tree holds files not listed in Files.
	Exact bool `json:"-"`
}

// File defines a regular file. Path is slash-separated and relative to the
// tree root; parent directories are created automatically.
//
// Content wins over Chunks when both are set. A File with neither and
// Empty=false gets a single 'x' byte so the scanner accepts it.
type File struct {
	Path    string  `json:"path"`
	Content string  `json:"content,omitempty"`
	Chunks  []Chunk `json:"chunks,omitempty"`
	Empty   bool    `json:"empty,omitempty"`
}

// Chunk defines a region of file content filled with a pattern byte.
type Chunk struct {
	// Pattern is the fill byte for this chunk region.
	Pattern rune `json:"pattern"`

	// Size in go-humanize units: "100", "1KiB", "1MiB".
	Size string `json:"size"`
}

// TotalSize calculates the size of the file as sown.
func (f *File) TotalSize() int64 {
	switch {
	case f.Content != "":
		return int64(len(f.Content))
	case f.Empty:
		return 0
	case len(f.Chunks) == 0:
		return 1
	}
	var total int64
	for _, c := range f.Chunks {
		size, _ := humanize.ParseBytes(c.Size)
		total += int64(size)
	}
	return total
}

// Symlink defines a symbolic link at Path pointing to Target.
type Symlink struct {
	Path   string `json:"path"`
	Target string `json:"target"`
}

// ReapResult is the captured state of a directory tree.
type ReapResult struct {
	Files []ReapFile `json:"files"`
}

// ReapFile is one regular file found under the tree root.
type ReapFile struct {
	Path string `json:"path"` // Slash-separated, relative to the root
	Size int64  `json:"size"`
	Data []byte `json:"-"`
}
