package corpman

import "github.com/ivoronin/corpman/internal/testcase"

// Generator produces the payload for one iteration.
//
// Generate receives a test case already stamped with the landing page name,
// the corpus key and the active template, plus the logical redirect page the
// landing page should eventually navigate to. It adds whatever files the
// target needs and returns the test case.
type Generator interface {
	Key() string
	Generate(tc *testcase.TestCase, redirectPage, mimeType string) (*testcase.TestCase, error)
}

// Initializer is implemented by generators that need setup once the corpus
// has been scanned. InitFuzzer runs before the required environment
// variables are checked, so it is the only place AddRequiredEnvVar works.
type Initializer interface {
	InitFuzzer(m *Manager) error
}
