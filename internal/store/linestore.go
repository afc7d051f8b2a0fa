package store

import (
	"bufio"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// LineStore is the durable, one-value-per-line Store used by real
// replicas. On construction it seeds its in-memory set from an existing
// file, then appends (and fsyncs) every new value before Add returns.
type LineStore struct {
	mu       sync.RWMutex
	filepath string
	values   map[string]struct{}
	file     *os.File
}

// OpenLineStore opens (creating if necessary) the file at filepath and
// seeds the value set from its existing contents.
func OpenLineStore(filepath string) (*LineStore, error) {
	values := make(map[string]struct{})

	if existing, err := os.Open(filepath); err == nil {
		scanner := bufio.NewScanner(existing)
		for scanner.Scan() {
			values[scanner.Text()] = struct{}{}
		}
		existing.Close()

		if err := scanner.Err(); err != nil {
			return nil, errors.Wrapf(err, "failed to read value set file: %q", filepath)
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "failed to open value set file: %q", filepath)
	}

	file, err := os.OpenFile(filepath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open value set file for append: %q", filepath)
	}

	return &LineStore{filepath: filepath, values: values, file: file}, nil
}

// Contains reports whether value has already been learned.
func (s *LineStore) Contains(value string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.values[value]
	return ok
}

// Add appends value to the backing file (fsyncing before returning) and
// records it in the in-memory set. Idempotent.
func (s *LineStore) Add(value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.values[value]; ok {
		return nil
	}

	if _, err := s.file.WriteString(value + "\n"); err != nil {
		return errors.Wrapf(err, "failed to append value: %q", value)
	}

	if err := s.file.Sync(); err != nil {
		return errors.Wrapf(err, "failed to fsync value set file: %q", s.filepath)
	}

	s.values[value] = struct{}{}
	return nil
}

// Close releases the backing file handle.
func (s *LineStore) Close() error {
	return s.file.Close()
}
