package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hugo-lorenzo-mato/casework/internal/core"
)

const envelopeVersion = 1

// envelope is the on-disk layout of one checkpoint file.
type envelope struct {
	Version    int              `json:"version"`
	Checkpoint *core.Checkpoint `json:"checkpoint"`
}

// JSONStore keeps one JSON file per thread under a directory. Files are
// replaced atomically so a crash never leaves a half-written checkpoint.
type JSONStore struct {
	dir string
	mu  sync.Mutex
}

// NewJSONStore creates the directory if needed.
func NewJSONStore(dir string) (*JSONStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating checkpoint directory: %w", err)
	}
	return &JSONStore{dir: dir}, nil
}

func (s *JSONStore) path(id core.ThreadID) (string, error) {
	if err := core.ValidateThreadID(id); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, string(id)+".json"), nil
}

func (s *JSONStore) Save(_ context.Context, cp *core.Checkpoint) error {
	path, err := s.path(cp.ThreadID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *cp
	stored.Revision = 1
	if prev, err := readEnvelope(path); err == nil {
		stored.Revision = prev.Revision + 1
	}

	data, err := json.MarshalIndent(envelope{Version: envelopeVersion, Checkpoint: &stored}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling checkpoint: %w", err)
	}
	if err := atomicWriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing checkpoint file: %w", err)
	}
	return nil
}

func (s *JSONStore) Load(_ context.Context, id core.ThreadID) (*core.Checkpoint, error) {
	path, err := s.path(id)
	if err != nil {
		return nil, err
	}
	cp, err := readEnvelope(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, core.ErrNotFound("checkpoint", string(id))
	}
	return cp, err
}

func (s *JSONStore) Delete(_ context.Context, id core.ThreadID) error {
	path, err := s.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting checkpoint %s: %w", id, err)
	}
	return nil
}

func (s *JSONStore) List(_ context.Context) ([]core.ThreadSummary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint directory: %w", err)
	}

	out := make([]core.ThreadSummary, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		cp, err := readEnvelope(filepath.Join(s.dir, e.Name()))
		if err != nil {
			// Unreadable files are skipped so one bad thread does not hide the rest.
			continue
		}
		out = append(out, cp.Summary())
	}
	sortSummaries(out)
	return out, nil
}

func (s *JSONStore) Close() error { return nil }

func readEnvelope(path string) (*core.Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, core.ErrState(core.CodeStateCorrupted, "decoding checkpoint file "+filepath.Base(path)).WithCause(err)
	}
	if env.Version != envelopeVersion || env.Checkpoint == nil {
		return nil, core.ErrState(core.CodeStateCorrupted,
			fmt.Sprintf("unsupported checkpoint file %s (version %d)", filepath.Base(path), env.Version))
	}
	return env.Checkpoint, nil
}
