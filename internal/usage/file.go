package usage

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/MrWong99/sensai/pkg/types"
)

// FileStore is a [Persister] that appends records as JSON lines to a single
// file. Corrupt trailing lines (e.g. from a crash mid-write) are skipped on
// load rather than failing the whole ledger.
type FileStore struct {
	mu   sync.Mutex
	path string
}

var _ Persister = (*FileStore)(nil)

// NewFileStore creates a persister writing to path, creating parent
// directories as needed.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("usage: create ledger dir: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Append implements [Persister].
func (s *FileStore) Append(rec types.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("usage: marshal record: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("usage: open ledger file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("usage: append record: %w", err)
	}
	return nil
}

// Load implements [Persister]. A missing file yields an empty ledger.
func (s *FileStore) Load() ([]types.UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("usage: open ledger file: %w", err)
	}
	defer f.Close()

	var records []types.UsageRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec types.UsageRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			// Likely a truncated final line from an interrupted append.
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("usage: read ledger file: %w", err)
	}
	return records, nil
}
