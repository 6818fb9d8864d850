package testfs

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ReapDir captures every regular file under root with its content.
// Symlinks and directories are not reported.
func ReapDir(root string) (*ReapResult, error) {
	result := &ReapResult{}

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		result.Files = append(result.Files, ReapFile{
			Path: filepath.ToSlash(rel),
			Size: int64(len(data)),
			Data: data,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reap %s: %w", root, err)
	}
	return result, nil
}

// ReapToWriter captures the tree under root and writes it as JSON.
func ReapToWriter(w io.Writer, root string) error {
	result, err := ReapDir(root)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
