package corpman

import (
	"fmt"
	"io/fs"
	"os"
	"syscall"

	"github.com/ivoronin/corpman/internal/types"
)

// Redirect maps a logical URL to a test file name.
type Redirect struct {
	URL      string
	FileName string
	Required bool
}

// Include maps a URL prefix to a host directory served as-is.
type Include struct {
	URLPath   string
	Directory string
}

// DynamicResponse produces response bytes at request time.
type DynamicResponse struct {
	URL      string
	Callback func() []byte
	MimeType string
}

// SetRedirect upserts a redirect. A second call for the same URL replaces
// the file name and the required flag.
func (m *Manager) SetRedirect(url, fileName string, required bool) {
	m.redirects[url] = Redirect{URL: url, FileName: fileName, Required: required}
}

// Redirects returns a snapshot of the redirect table sorted by URL.
func (m *Manager) Redirects() []Redirect {
	return sortedValues(m.redirects, func(r Redirect) string { return r.URL })
}

// AddInclude registers directory to be served under urlPath. The directory
// must exist.
func (m *Manager) AddInclude(urlPath, directory string) error {
	info, err := os.Stat(directory)
	if err != nil {
		return fmt.Errorf("include %s: %w", urlPath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("include %s: %w", urlPath, &fs.PathError{Op: "stat", Path: directory, Err: syscall.ENOTDIR})
	}
	m.includes[urlPath] = Include{URLPath: urlPath, Directory: directory}
	return nil
}

// Includes returns a snapshot of the include table sorted by URL path.
func (m *Manager) Includes() []Include {
	return sortedValues(m.includes, func(i Include) string { return i.URLPath })
}

// AddDynamicResponse registers callback to produce the body for url on
// every request.
func (m *Manager) AddDynamicResponse(url string, callback func() []byte, mimeType string) {
	m.dynamic[url] = DynamicResponse{URL: url, Callback: callback, MimeType: mimeType}
}

// DynamicResponses returns a snapshot of the dynamic response table sorted
// by URL.
func (m *Manager) DynamicResponses() []DynamicResponse {
	return sortedValues(m.dynamic, func(d DynamicResponse) string { return d.URL })
}

func sortedValues[V any](table map[string]V, key func(V) string) []V {
	values := make([]V, 0, len(table))
	for _, v := range table {
		values = append(values, v)
	}
	return types.NewSorted(values, key).Items()
}
