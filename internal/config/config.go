// Package config loads the optional corpman.toml file that supplies
// defaults for the generate command.
//
// Example:
//
//	[corpus]
//	extensions = ["html", "svg"]
//	exclude = ["*.orig"]
//	workers = 4
//
//	[fuzz]
//	rotation = 25
//	single_pass = false
//	iterations = 100
//	relaunch = 10
//	mime = "text/html"
//	delay = "250ms"
//
//	[harness]
//	enabled = true
//	file = "harness.html"
//
//	[output]
//	dir = "out"
//	details = true
//	archive = "out/archive.db"
//
//	[env]
//	required = ["ASAN_SYMBOLIZER_PATH"]
//	defaults = { ASAN_OPTIONS = "detect_leaks=0" }
//
//	[includes]
//	"/res" = "resources"
//
// Relative paths in [harness], [output] and [includes] are resolved against
// the directory holding the file.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// ErrUnknownKey is returned when the file contains keys Load does not know.
var ErrUnknownKey = errors.New("unknown configuration key")

// File is a decoded configuration file.
type File struct {
	Path     string            `toml:"-"`
	Corpus   Corpus            `toml:"corpus"`
	Fuzz     Fuzz              `toml:"fuzz"`
	Harness  Harness           `toml:"harness"`
	Output   Output            `toml:"output"`
	Env      Env               `toml:"env"`
	Includes map[string]string `toml:"includes"`

	meta toml.MetaData
}

type Corpus struct {
	Extensions []string `toml:"extensions"`
	Exclude    []string `toml:"exclude"`
	Workers    int      `toml:"workers"`
}

type Fuzz struct {
	Rotation   int    `toml:"rotation"`
	SinglePass bool   `toml:"single_pass"`
	Iterations int    `toml:"iterations"`
	Relaunch   int    `toml:"relaunch"`
	Mime       string `toml:"mime"`
	Delay      string `toml:"delay"`
}

type Harness struct {
	Enabled bool   `toml:"enabled"`
	File    string `toml:"file"`
}

type Output struct {
	Dir     string `toml:"dir"`
	Details bool   `toml:"details"`
	Archive string `toml:"archive"`
}

type Env struct {
	Required []string          `toml:"required"`
	Defaults map[string]string `toml:"defaults"`
}

// Load decodes the file at path. An empty path yields an empty File on
// which Defined always reports false.
func Load(path string) (*File, error) {
	f := &File{Path: path}
	if path == "" {
		return f, nil
	}

	meta, err := toml.DecodeFile(path, f)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("%s: %w: %s", path, ErrUnknownKey, strings.Join(keys, ", "))
	}
	f.meta = meta

	if f.Fuzz.Delay != "" {
		if _, err := time.ParseDuration(f.Fuzz.Delay); err != nil {
			return nil, fmt.Errorf("%s: [fuzz].delay: %w", path, err)
		}
	}

	base := filepath.Dir(path)
	f.Harness.File = resolve(base, f.Harness.File)
	f.Output.Dir = resolve(base, f.Output.Dir)
	f.Output.Archive = resolve(base, f.Output.Archive)
	for url, dir := range f.Includes {
		f.Includes[url] = resolve(base, dir)
	}
	return f, nil
}

// Defined reports whether the key path was present in the file,
// e.g. Defined("fuzz", "rotation").
func (f *File) Defined(key ...string) bool {
	return f.meta.IsDefined(key...)
}

// DelayDuration returns [fuzz].delay parsed, or zero when unset.
func (f *File) DelayDuration() time.Duration {
	d, _ := time.ParseDuration(f.Fuzz.Delay)
	return d
}

func resolve(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}
