package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"ai-talker/internal/dialogue"
	"ai-talker/internal/domain"
)

var safeID = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// FileStore keeps one JSON document per conversation under dir and writes
// finished transcripts to dir/archive.
type FileStore struct {
	dir string
	now func() time.Time
	mu  sync.Mutex
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("repository: directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("repository: create %s: %w", dir, err)
	}
	return &FileStore{dir: dir, now: time.Now}, nil
}

func (s *FileStore) path(id string) (string, error) {
	if !safeID.MatchString(id) {
		return "", fmt.Errorf("repository: invalid conversation id %q", id)
	}
	return filepath.Join(s.dir, id+".json"), nil
}

func (s *FileStore) Save(_ context.Context, id string, st dialogue.State) error {
	p, err := s.path(id)
	if err != nil {
		return err
	}
	data, err := encodeState(st)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("repository: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return fmt.Errorf("repository: rename %s: %w", tmp, err)
	}
	return nil
}

func (s *FileStore) Load(_ context.Context, id string) (dialogue.State, error) {
	p, err := s.path(id)
	if err != nil {
		return dialogue.State{}, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return dialogue.State{}, ErrNotFound
	}
	if err != nil {
		return dialogue.State{}, fmt.Errorf("repository: read %s: %w", p, err)
	}
	return decodeState(data)
}

// Archive writes turns to dir/archive/<YYYYmmdd_HHMMSS>_<id>.json and returns
// the file path.
func (s *FileStore) Archive(_ context.Context, id string, turns []domain.Turn) (string, error) {
	return ArchiveTranscript(filepath.Join(s.dir, "archive"), id, turns, s.now())
}

// ArchiveTranscript writes turns as <dir>/<YYYYmmdd_HHMMSS>_<id>.json.
func ArchiveTranscript(dir, id string, turns []domain.Turn, at time.Time) (string, error) {
	if !safeID.MatchString(id) {
		return "", fmt.Errorf("repository: invalid conversation id %q", id)
	}
	data, err := EncodeTranscript(turns)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("repository: create %s: %w", dir, err)
	}
	p := filepath.Join(dir, at.Format("20060102_150405")+"_"+id+".json")
	if err := os.WriteFile(p, data, 0o600); err != nil {
		return "", fmt.Errorf("repository: write %s: %w", p, err)
	}
	return p, nil
}
