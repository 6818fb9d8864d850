// Package archive keeps generated test cases in a bbolt database so a run
// can be inspected or replayed later.
package archive

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"

	"github.com/ivoronin/corpman/internal/testcase"
)

const bucketName = "testcases"

// schemaVersion is bumped when Record changes incompatibly.
const schemaVersion uint16 = 1

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.New("test case not found")

// Record is the stored form of a test case.
type Record struct {
	Schema      uint16
	LandingPage string
	CorpusName  string
	InputFName  string
	Files       []RecordFile
	EnvVars     map[string]string
	Created     time.Time
}

// RecordFile is the stored form of a test file.
type RecordFile struct {
	Name     string
	Data     []byte
	Required bool
}

// Entry summarizes one stored test case.
type Entry struct {
	ID          uint64
	LandingPage string
	CorpusName  string
	InputFName  string
	Files       int
	Size        int64
	Created     time.Time
}

// Archive stores test cases keyed by an increasing sequence number.
// A disabled archive (empty path) accepts writes and stores nothing.
type Archive struct {
	db      *bolt.DB
	enabled bool
}

// Open opens or creates the archive at path. bbolt's file lock keeps a
// second process from opening the same archive.
func Open(path string) (*Archive, error) {
	if path == "" {
		return &Archive{enabled: false}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open archive (locked by another instance?): %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Archive{db: db, enabled: true}, nil
}

// Enabled reports whether the archive persists anything.
func (a *Archive) Enabled() bool { return a.enabled }

// Close closes the database.
func (a *Archive) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

func makeKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}

// Put stores tc and returns its id. A disabled archive returns 0.
func (a *Archive) Put(tc *testcase.TestCase) (uint64, error) {
	if !a.enabled {
		return 0, nil
	}

	rec := Record{
		Schema:      schemaVersion,
		LandingPage: tc.LandingPage,
		CorpusName:  tc.CorpusName,
		InputFName:  tc.InputFName,
		EnvVars:     tc.EnvVars(),
		Created:     time.Now().UTC(),
	}
	for _, tf := range tc.Files() {
		rec.Files = append(rec.Files, RecordFile{Name: tf.FileName, Data: tf.Data, Required: tf.Required})
	}
	value, err := msgpack.Marshal(&rec)
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", tc.LandingPage, err)
	}

	var id uint64
	err = a.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		id, err = b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(makeKey(id), value)
	})
	if err != nil {
		return 0, fmt.Errorf("archive store: %w", err)
	}
	return id, nil
}

// Get loads the test case stored under id.
func (a *Archive) Get(id uint64) (*testcase.TestCase, error) {
	rec, err := a.record(id)
	if err != nil {
		return nil, err
	}

	tc := testcase.New(rec.LandingPage, rec.CorpusName, rec.InputFName)
	for _, f := range rec.Files {
		tc.AddTestFile(testcase.TestFile{FileName: f.Name, Data: f.Data, Required: f.Required})
	}
	tc.SetEnvVars(rec.EnvVars)
	return tc, nil
}

func (a *Archive) record(id uint64) (*Record, error) {
	if !a.enabled {
		return nil, fmt.Errorf("id %d: %w", id, ErrNotFound)
	}

	var rec *Record
	err := a.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(bucketName)).Get(makeKey(id))
		if data == nil {
			return nil
		}
		var r Record
		if err := msgpack.Unmarshal(data, &r); err != nil {
			return fmt.Errorf("decode id %d: %w", id, err)
		}
		rec = &r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("archive lookup: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("id %d: %w", id, ErrNotFound)
	}
	if rec.Schema != schemaVersion {
		return nil, fmt.Errorf("id %d: unsupported schema %d", id, rec.Schema)
	}
	return rec, nil
}

// List summarizes every stored test case in id order.
func (a *Archive) List() ([]Entry, error) {
	if !a.enabled {
		return nil, nil
	}

	var entries []Entry
	err := a.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).ForEach(func(k, v []byte) error {
			var rec Record
			if err := msgpack.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode id %d: %w", binary.BigEndian.Uint64(k), err)
			}
			e := Entry{
				ID:          binary.BigEndian.Uint64(k),
				LandingPage: rec.LandingPage,
				CorpusName:  rec.CorpusName,
				InputFName:  rec.InputFName,
				Files:       len(rec.Files),
				Created:     rec.Created,
			}
			for _, f := range rec.Files {
				e.Size += int64(len(f.Data))
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("archive list: %w", err)
	}
	return entries, nil
}
