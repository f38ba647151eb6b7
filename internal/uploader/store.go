package uploader

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrNoSession is returned when no resumable record exists for a file
var ErrNoSession = errors.New("no session for file")

// Store persists session records as one JSON file per source path. Writes
// are synchronous; a record on disk always reflects every part acknowledged
// so far.
type Store struct {
	dir string
}

// NewStore creates a session store rooted at dir
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) recordPath(filePath string) string {
	sum := sha256.Sum256([]byte(filePath))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:16])+".json")
}

// Save writes a record to disk via rename so a crash never leaves a
// half-written file
func (s *Store) Save(rec *SessionRecord) error {
	rec.Version = recordVersion
	rec.UpdatedAt = time.Now()

	body, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session record: %w", err)
	}
	target := s.recordPath(rec.FilePath)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, body, 0o600); err != nil {
		return fmt.Errorf("failed to write session record: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("failed to store session record: %w", err)
	}
	return nil
}

// Load returns the record for a source file path
func (s *Store) Load(filePath string) (*SessionRecord, error) {
	body, err := os.ReadFile(s.recordPath(filePath))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session record: %w", err)
	}

	var rec SessionRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode session record: %w", err)
	}
	if rec.Version != recordVersion {
		return nil, fmt.Errorf("session record version %d is not supported", rec.Version)
	}
	return &rec, nil
}

// Delete removes the record for a source file path
func (s *Store) Delete(filePath string) error {
	err := os.Remove(s.recordPath(filePath))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete session record: %w", err)
	}
	return nil
}

// List returns every stored record
func (s *Store) List() ([]*SessionRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list session records: %w", err)
	}

	var out []*SessionRecord
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		body, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		var rec SessionRecord
		if err := json.Unmarshal(body, &rec); err != nil || rec.Version != recordVersion {
			continue
		}
		out = append(out, &rec)
	}
	return out, nil
}

// Prune drops records that can never resume: terminal sessions and sessions
// whose signed URLs expired. It returns how many records were removed.
func (s *Store) Prune(now time.Time) (int, error) {
	records, err := s.List()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, rec := range records {
		if !rec.State.Terminal() && now.Before(rec.ExpiresAt) {
			continue
		}
		if err := s.Delete(rec.FilePath); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
