package export

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/histsweep/histsweep/internal/store"
)

// MatchWriter appends search hits to a JSONL file, one hit per line.
// Safe for concurrent appends.
type MatchWriter struct {
	path string

	mu sync.Mutex
	f  *os.File
}

// NewMatchWriter creates a writer appending to path. The file is opened
// lazily on first append, so a run with no hits leaves no file behind.
func NewMatchWriter(path string) *MatchWriter {
	return &MatchWriter{path: path}
}

// Append writes one hit as a JSON line.
func (w *MatchWriter) Append(h store.MatchHit) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open matches file: %w", err)
		}
		w.f = f
	}

	line, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("failed to encode match: %w", err)
	}
	if _, err := w.f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append match: %w", err)
	}
	return nil
}

// Close closes the underlying file if one was opened.
func (w *MatchWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}
