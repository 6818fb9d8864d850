// Package types provides shared types used across the corpman codebase.
package types

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// InputFile is a read-only handle to one template file on disk.
// Content is not loaded at construction; Data reads it on demand.
type InputFile struct {
	FileName  string    // Path as given to the scanner or constructor
	Extension string    // Lower-cased, without the leading dot
	Size      int64     // Size at scan time
	ModTime   time.Time // Modification time at scan time
}

// NewInputFile stats path and returns a handle for it.
// Fails if the path is missing, unreadable or not a regular file.
func NewInputFile(path string) (*InputFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, &fs.PathError{Op: "open", Path: path, Err: fmt.Errorf("not a regular file")}
	}
	// Unreadable templates fail here, not on the first Data call.
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	_ = f.Close()
	return FromFileInfo(path, info), nil
}

// FromFileInfo builds an InputFile from metadata the caller already has.
func FromFileInfo(path string, info fs.FileInfo) *InputFile {
	return &InputFile{
		FileName:  path,
		Extension: ExtensionOf(path),
		Size:      info.Size(),
		ModTime:   info.ModTime(),
	}
}

// Data returns the full file content. The file is re-read on every call.
func (f *InputFile) Data() ([]byte, error) {
	return os.ReadFile(f.FileName)
}

// ExtensionOf returns the lower-cased substring after the last dot of the
// base name, or "" when there is none.
func ExtensionOf(path string) string {
	base := filepath.Base(path)
	idx := strings.LastIndexByte(base, '.')
	if idx < 0 {
		return ""
	}
	return strings.ToLower(base[idx+1:])
}
