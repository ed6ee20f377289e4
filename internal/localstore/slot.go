package localstore

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/natefinch/atomic"
)

// ErrQuotaExceeded is returned by a Slot whose write would exceed its
// storage quota. The previous content is left in place.
var ErrQuotaExceeded = errors.New("localstore: storage quota exceeded")

// Slot is a single key-value storage cell. Read returns nil data and no
// error when nothing has been written yet.
type Slot interface {
	Read() ([]byte, error)
	Write(data []byte) error
}

// FileSlot keeps the document in one file, replaced atomically on every
// write. A positive Quota caps the document size in bytes.
type FileSlot struct {
	Path  string
	Quota int64
}

func NewFileSlot(path string, quota int64) *FileSlot {
	return &FileSlot{Path: path, Quota: quota}
}

func (s *FileSlot) Read() ([]byte, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("localstore: read %s: %w", s.Path, err)
	}
	return data, nil
}

func (s *FileSlot) Write(data []byte) error {
	if s.Quota > 0 && int64(len(data)) > s.Quota {
		return fmt.Errorf("%w: %d bytes > %d", ErrQuotaExceeded, len(data), s.Quota)
	}
	if dir := filepath.Dir(s.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("localstore: create dir: %w", err)
		}
	}
	if err := atomic.WriteFile(s.Path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("localstore: write %s: %w", s.Path, err)
	}
	if err := os.Chmod(s.Path, 0o600); err != nil {
		return fmt.Errorf("localstore: chmod %s: %w", s.Path, err)
	}
	return nil
}

// MemorySlot is an in-process Slot, mostly for tests.
type MemorySlot struct {
	Quota int

	mu     sync.Mutex
	data   []byte
	writes int
}

func (s *MemorySlot) Read() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Clone(s.data), nil
}

func (s *MemorySlot) Write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Quota > 0 && len(data) > s.Quota {
		return ErrQuotaExceeded
	}
	s.data = bytes.Clone(data)
	s.writes++
	return nil
}

// Writes returns the number of successful writes.
func (s *MemorySlot) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}
