// Package scanner discovers template files for a fuzzing corpus.
//
// # Concurrency Model
//
// The walk uses the same fan-out/fan-in shape for every root:
//
//  1. WALKER GOROUTINES (fan-out)
//     - One goroutine per directory discovered
//     - Concurrency limited by semaphore (walkerSem)
//
//  2. COLLECTOR GOROUTINE (fan-in)
//     - Single goroutine that drains resultCh into a slice
//
//  3. MAIN GOROUTINE (orchestrator)
//     - Spawns the initial walkers, waits for them, closes resultCh,
//     waits for the collector, then sorts the result by path
//
// The returned corpus is sorted, so callers see the same order for the same
// tree no matter how the walkers were scheduled.
//
// # Candidate Rules
//
// A file found while walking a directory is a template candidate iff:
//
//   - its name does not start with "."
//   - its name is not OS clutter (thumbs.db, desktop.ini; case-insensitive)
//   - it is a regular file with a non-zero size
//   - its name does not match any exclude glob
//   - its extension is in the accepted set, when one is configured
//
// A root that names a file directly is accepted when it is a non-empty
// regular file; the name rules above are not applied to it.
package scanner

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"fortio.org/safecast"
	"github.com/dustin/go-humanize"
	"github.com/ivoronin/corpman/internal/progress"
	"github.com/ivoronin/corpman/internal/types"
)

// clutter lists lower-cased file names that operating systems drop into
// directories on their own.
var clutter = map[string]struct{}{
	"thumbs.db":   {},
	"desktop.ini": {},
}

// Scanner discovers template files using parallel directory traversal.
//
// The scanner is designed for single-use: create with New(), call Run() once.
type Scanner struct {
	// Config (immutable, set by New)
	paths        []string            // Root paths (files or directories)
	extensions   map[string]struct{} // Accepted extensions, nil accepts all
	excludes     []string            // Glob patterns for filename exclusion
	workers      int                 // Max concurrent directory reads
	showProgress bool                // Whether to display progress spinner
	errCh        chan error          // Non-fatal errors (permission denied, etc.)

	// Runtime (initialized in Run)
	walkerWg  sync.WaitGroup
	walkerSem types.Semaphore
	resultCh  chan *types.InputFile
	stats     *stats
	bar       *progress.Bar
}

// New creates a Scanner for discovering templates.
func New(paths, extensions, excludes []string, workers int, showProgress bool, errCh chan error) *Scanner {
	if workers < 1 {
		workers = 1
	}
	return &Scanner{
		paths:        paths,
		extensions:   NormalizeExtensions(extensions),
		excludes:     excludes,
		workers:      workers,
		showProgress: showProgress,
		errCh:        errCh,
	}
}

// NormalizeExtensions folds an extension filter into a lookup set.
// Entries are lower-cased and a leading dot is dropped, so "GOOD", "good"
// and ".good" are the same filter. Returns nil for an empty filter.
func NormalizeExtensions(extensions []string) map[string]struct{} {
	if len(extensions) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			set[ext] = struct{}{}
		}
	}
	return set
}

// stats tracks scanning progress using atomic counters for lock-free updates.
type stats struct {
	scannedFiles atomic.Int64 // Regular files seen
	matchedFiles atomic.Int64 // Files accepted as templates
	skippedFiles atomic.Int64 // Files rejected by candidate rules
	matchedBytes atomic.Int64 // Bytes of accepted templates
	startTime    time.Time
}

func (s *stats) String() string {
	return fmt.Sprintf("Scanned %d, accepted %d templates (%s), skipped %d in %.1fs",
		s.scannedFiles.Load(),
		s.matchedFiles.Load(), humanize.IBytes(safecast.MustConvert[uint64](s.matchedBytes.Load())),
		s.skippedFiles.Load(),
		time.Since(s.startTime).Seconds())
}

// Run executes the scan and returns the accepted templates sorted by path.
func (s *Scanner) Run() types.Corpus {
	s.walkerSem = types.NewSemaphore(s.workers)
	s.bar = progress.New(s.showProgress, -1)
	s.stats = &stats{startTime: time.Now()}
	s.bar.Describe(s.stats)
	s.resultCh = make(chan *types.InputFile, 1000)

	var results []*types.InputFile
	collectorWg := sync.WaitGroup{}

	collectorWg.Add(1)
	go func() {
		for r := range s.resultCh {
			results = append(results, r)
		}
		collectorWg.Done()
	}()

	for _, p := range s.paths {
		absPath, err := filepath.Abs(p)
		if err != nil {
			s.sendError(err)
			continue
		}
		s.walkRoot(absPath)
	}

	s.walkerWg.Wait()
	close(s.resultCh)
	collectorWg.Wait()

	s.bar.Finish(s.stats)
	return types.NewCorpus(results)
}

// walkRoot dispatches a root path to a directory walker or accepts it as a
// single template file.
func (s *Scanner) walkRoot(root string) {
	info, err := os.Stat(root)
	if err != nil {
		s.sendError(err)
		return
	}
	if info.IsDir() {
		s.walkDirectory(root)
		return
	}

	s.stats.scannedFiles.Add(1)
	if !info.Mode().IsRegular() || info.Size() == 0 {
		s.stats.skippedFiles.Add(1)
		return
	}
	s.accept(types.FromFileInfo(root, info))
}

// walkDirectory spawns a goroutine to process one directory and recursively spawn children.
//
// Semaphore pattern:
//   - walkerWg.Add(1) BEFORE goroutine spawn (prevents race with Wait)
//   - acquire semaphore at goroutine start (blocks if at concurrency limit)
//   - release semaphore after listing and filtering
func (s *Scanner) walkDirectory(dir string) {
	s.walkerWg.Add(1)
	go func() {
		defer s.walkerWg.Done()

		s.walkerSem.Acquire()
		files, subdirs, err := s.listDirectory(dir)
		s.walkerSem.Release()
		if err != nil {
			s.sendError(err)
		}

		for _, f := range files {
			s.stats.scannedFiles.Add(1)
			if s.isCandidate(f) {
				s.accept(f)
			} else {
				s.stats.skippedFiles.Add(1)
			}
		}
		s.bar.Describe(s.stats)

		for _, sub := range subdirs {
			s.walkDirectory(sub)
		}
	}()
}

func (s *Scanner) accept(f *types.InputFile) {
	s.resultCh <- f
	s.stats.matchedFiles.Add(1)
	s.stats.matchedBytes.Add(f.Size)
}

// listDirectory reads a single directory, returning regular files and subdirectories.
//
// Uses batched ReadDir (1000 entries per batch) to bound memory on huge directories.
// Symlinks, devices and sockets are skipped.
func (s *Scanner) listDirectory(dirPath string) (files []*types.InputFile, subdirs []string, err error) {
	dir, err := os.Open(dirPath)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = dir.Close() }()

	const batchSize = 1000
	for {
		entries, err := dir.ReadDir(batchSize)
		if len(entries) == 0 {
			if err != nil && err != io.EOF {
				return files, subdirs, err
			}
			break
		}

		for _, entry := range entries {
			f, sub := s.processEntry(dirPath, entry)
			if f != nil {
				files = append(files, f)
			}
			if sub != "" {
				subdirs = append(subdirs, sub)
			}
		}
	}

	return files, subdirs, nil
}

// processEntry processes a single directory entry, returning a file or subdirectory path.
func (s *Scanner) processEntry(dirPath string, entry os.DirEntry) (file *types.InputFile, subdir string) {
	fullPath := filepath.Join(dirPath, entry.Name())

	if entry.IsDir() {
		if s.shouldExclude(fullPath) {
			return nil, ""
		}
		return nil, fullPath
	}

	if !entry.Type().IsRegular() {
		return nil, ""
	}

	info, err := entry.Info()
	if err != nil {
		return nil, "" // Vanished or unreadable between ReadDir and Info
	}

	return types.FromFileInfo(fullPath, info), ""
}

// isCandidate applies the candidate rules to a regular file.
func (s *Scanner) isCandidate(f *types.InputFile) bool {
	name := filepath.Base(f.FileName)
	if strings.HasPrefix(name, ".") {
		return false
	}
	if _, ok := clutter[strings.ToLower(name)]; ok {
		return false
	}
	if f.Size == 0 {
		return false
	}
	if s.shouldExclude(f.FileName) {
		return false
	}
	if s.extensions != nil {
		if _, ok := s.extensions[f.Extension]; !ok {
			return false
		}
	}
	return true
}

// sendError sends an error to the errors channel if it's not nil.
func (s *Scanner) sendError(err error) {
	if s.errCh != nil {
		s.errCh <- err
	}
}

// shouldExclude checks if a path matches any glob exclude pattern.
func (s *Scanner) shouldExclude(path string) bool {
	if len(s.excludes) == 0 {
		return false
	}
	base := filepath.Base(path)
	for _, pattern := range s.excludes {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	return false
}
