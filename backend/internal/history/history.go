// Package history implements the append-only, per-workspace chat log:
// one JSON object per line, serialized per workspace, with atomic
// temp-file-then-rename semantics for the truncate/clear mutations.
package history

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/mux-run/mux/backend/internal/message"
)

// Store manages append-only history files rooted at dir, one file per
// workspace, serialized with a per-workspace mutex.
type Store struct {
	dir string

	mu    sync.Mutex // guards locks
	locks map[string]*sync.Mutex
}

// New returns a Store rooted at dir. dir is created on first use.
func New(dir string) *Store {
	return &Store{dir: dir, locks: make(map[string]*sync.Mutex)}
}

func (s *Store) lockFor(workspaceID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[workspaceID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[workspaceID] = l
	}
	return l
}

func (s *Store) path(workspaceID string) string {
	return filepath.Join(s.dir, workspaceID+".jsonl")
}

// Append allocates the next history sequence for workspaceID, sets it on
// msg.Metadata.HistorySequence, and appends msg as a JSON line.
func (s *Store) Append(workspaceID string, msg message.Message) (message.Message, error) {
	l := s.lockFor(workspaceID)
	l.Lock()
	defer l.Unlock()

	existing, err := s.readAllLocked(workspaceID)
	if err != nil {
		return message.Message{}, err
	}
	msg.Metadata.HistorySequence = int64(len(existing)) + 1

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return message.Message{}, fmt.Errorf("history: %w", err)
	}
	f, err := os.OpenFile(s.path(workspaceID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return message.Message{}, fmt.Errorf("history: opening log: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(msg)
	if err != nil {
		return message.Message{}, fmt.Errorf("history: marshaling message: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return message.Message{}, fmt.Errorf("history: writing: %w", err)
	}
	return msg, nil
}

// GetHistory returns the full ordered history for workspaceID. Malformed
// lines, including a partially written trailing line, are skipped with a
// logged warning rather than failing the read.
func (s *Store) GetHistory(workspaceID string) ([]message.Message, error) {
	l := s.lockFor(workspaceID)
	l.Lock()
	defer l.Unlock()
	return s.readAllLocked(workspaceID)
}

func (s *Store) readAllLocked(workspaceID string) ([]message.Message, error) {
	f, err := os.Open(s.path(workspaceID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history: opening log: %w", err)
	}
	defer f.Close()

	var out []message.Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var lineNo int
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg message.Message
		if err := json.Unmarshal(line, &msg); err != nil {
			slog.Warn("history: skipping malformed line", "workspace", workspaceID, "line", lineNo, "err", err)
			continue // malformed or partial trailing line; skip
		}
		out = append(out, msg)
	}
	return out, nil
}

// GetLastMessages returns the last n messages of workspaceID's history.
func (s *Store) GetLastMessages(workspaceID string, n int) ([]message.Message, error) {
	all, err := s.GetHistory(workspaceID)
	if err != nil {
		return nil, err
	}
	if n >= len(all) {
		return all, nil
	}
	if n <= 0 {
		return nil, nil
	}
	return all[len(all)-n:], nil
}

// Truncate deletes the tail ceil(N*fraction) messages, atomically rewriting
// the log file, and returns the history sequences removed.
func (s *Store) Truncate(workspaceID string, fraction float64) ([]int64, error) {
	if fraction <= 0 || fraction > 1 {
		return nil, fmt.Errorf("history: fraction must be in (0,1], got %v", fraction)
	}
	l := s.lockFor(workspaceID)
	l.Lock()
	defer l.Unlock()

	all, err := s.readAllLocked(workspaceID)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, nil
	}
	n := int(math.Ceil(float64(len(all)) * fraction))
	if n > len(all) {
		n = len(all)
	}
	keep := all[:len(all)-n]
	removed := all[len(all)-n:]

	if err := s.rewriteLocked(workspaceID, keep); err != nil {
		return nil, err
	}
	seqs := make([]int64, len(removed))
	for i, m := range removed {
		seqs[i] = m.Metadata.HistorySequence
	}
	return seqs, nil
}

// Clear empties workspaceID's history and returns all prior sequences.
func (s *Store) Clear(workspaceID string) ([]int64, error) {
	l := s.lockFor(workspaceID)
	l.Lock()
	defer l.Unlock()

	all, err := s.readAllLocked(workspaceID)
	if err != nil {
		return nil, err
	}
	if err := s.rewriteLocked(workspaceID, nil); err != nil {
		return nil, err
	}
	seqs := make([]int64, len(all))
	for i, m := range all {
		seqs[i] = m.Metadata.HistorySequence
	}
	return seqs, nil
}

// rewriteLocked atomically replaces the log file's contents: write to a
// temp file in the same directory, then rename over the original.
func (s *Store) rewriteLocked(workspaceID string, msgs []message.Message) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("history: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, ".history-*.tmp")
	if err != nil {
		return fmt.Errorf("history: creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	w := bufio.NewWriter(tmp)
	for _, m := range msgs {
		line, err := json.Marshal(m)
		if err != nil {
			tmp.Close()
			return fmt.Errorf("history: marshaling message: %w", err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			tmp.Close()
			return fmt.Errorf("history: writing temp file: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("history: flushing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("history: closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path(workspaceID)); err != nil {
		return fmt.Errorf("history: renaming temp file: %w", err)
	}
	return nil
}
