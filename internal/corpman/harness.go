package corpman

import (
	_ "embed"
	"fmt"
	"os"
)

//go:embed harness.html
var defaultHarness []byte

// EnableHarness turns on harness mode with the built-in harness page.
// Test cases generated before the call are not affected.
func (m *Manager) EnableHarness() {
	m.harness = defaultHarness
	m.harnessOn = true
}

// EnableHarnessFile turns on harness mode serving the page at path.
func (m *Manager) EnableHarnessFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("harness: %w", err)
	}
	m.harness = data
	m.harnessOn = true
	return nil
}

// HarnessEnabled reports whether harness mode is on.
func (m *Manager) HarnessEnabled() bool { return m.harnessOn }
