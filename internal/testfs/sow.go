package testfs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
)

// SowFileTree creates the files and symlinks of spec under root.
func SowFileTree(root string, spec FileTree) error {
	for _, f := range spec.Files {
		if err := sowFile(root, f); err != nil {
			return fmt.Errorf("sow %s: %w", f.Path, err)
		}
	}
	for _, sym := range spec.Symlinks {
		linkPath := filepath.Join(root, filepath.FromSlash(sym.Path))
		if err := createSymlink(sym.Target, linkPath); err != nil {
			return fmt.Errorf("symlink %s -> %s: %w", linkPath, sym.Target, err)
		}
	}
	return nil
}

// SowFromReader reads a FileTree JSON from the reader and creates it under root.
func SowFromReader(r io.Reader, root string) error {
	var spec FileTree
	if err := json.NewDecoder(r).Decode(&spec); err != nil {
		return fmt.Errorf("decode spec: %w", err)
	}
	return SowFileTree(root, spec)
}

func sowFile(root string, f File) (err error) {
	path := filepath.Join(root, filepath.FromSlash(f.Path))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	switch {
	case f.Content != "":
		_, err = io.WriteString(out, f.Content)
		return err
	case f.Empty:
		return nil
	case len(f.Chunks) == 0:
		_, err = out.Write([]byte{'x'})
		return err
	}
	for _, c := range f.Chunks {
		if err := writeChunk(out, c); err != nil {
			return err
		}
	}
	return nil
}

// writeChunk streams a pattern-filled region to the file.
func writeChunk(f *os.File, c Chunk) error {
	const maxBufSize = 1 << 20

	size, err := humanize.ParseBytes(c.Size)
	if err != nil {
		return fmt.Errorf("parse chunk size %q: %w", c.Size, err)
	}

	bufSize := int(size)
	if bufSize > maxBufSize {
		bufSize = maxBufSize
	}
	buf := bytes.Repeat([]byte{byte(c.Pattern)}, bufSize)

	remaining := int64(size)
	for remaining > 0 {
		toWrite := int64(len(buf))
		if remaining < toWrite {
			toWrite = remaining
		}
		if _, err := f.Write(buf[:toWrite]); err != nil {
			return err
		}
		remaining -= toWrite
	}
	return nil
}

func createSymlink(target, link string) error {
	if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
		return err
	}
	return os.Symlink(target, link)
}
