package corpman

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfig marks configuration failures detected at construction or
	// registration time.
	ErrConfig = errors.New("configuration error")

	// ErrEmptyCorpus is returned by New when no template survives the scan.
	ErrEmptyCorpus = fmt.Errorf("%w: no input files found", ErrConfig)

	// ErrRotationPeriod is returned by Generate when the rotation period is
	// not a positive integer. It is a programming error in the generator,
	// never coerced to a default.
	ErrRotationPeriod = errors.New("rotation period must be positive")

	// ErrPoolExhausted is returned by Generate once a single-pass pool has
	// handed out every template.
	ErrPoolExhausted = errors.New("template pool exhausted")

	// ErrNoTestCase is returned by Generate when the generator returns a nil
	// test case without an error.
	ErrNoTestCase = errors.New("generator returned no test case")
)

// MissingEnvVarError lists required environment variables absent at
// construction. It matches ErrConfig with errors.Is.
type MissingEnvVarError struct {
	Names []string // Sorted
}

func (e *MissingEnvVarError) Error() string {
	return "missing environment variable(s): " + strings.Join(e.Names, ", ")
}

func (e *MissingEnvVarError) Unwrap() error { return ErrConfig }
