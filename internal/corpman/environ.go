package corpman

import "os"

// Environ looks up environment variables by name.
type Environ interface {
	LookupEnv(key string) (string, bool)
}

type processEnviron struct{}

func (processEnviron) LookupEnv(key string) (string, bool) { return os.LookupEnv(key) }

// ProcessEnviron reads the live process environment.
var ProcessEnviron Environ = processEnviron{}

// MapEnviron is a fixed environment, mostly useful in tests.
type MapEnviron map[string]string

// LookupEnv implements Environ.
func (m MapEnviron) LookupEnv(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// envDecl is a declared required environment variable.
type envDecl struct {
	def        string
	hasDefault bool
}
