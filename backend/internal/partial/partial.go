// Package partial tracks the single in-flight (or most recently
// interrupted) assistant message per workspace: a one-file-per-workspace
// store with atomic replace semantics, separate from the append-only
// history log.
package partial

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mux-run/mux/backend/internal/history"
	"github.com/mux-run/mux/backend/internal/message"
)

// Store manages the at-most-one partial message per workspace.
type Store struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New returns a Store rooted at dir.
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
	return filepath.Join(s.dir, workspaceID+".partial.json")
}

// Write atomically replaces the partial message for workspaceID.
func (s *Store) Write(workspaceID string, msg message.Message) error {
	l := s.lockFor(workspaceID)
	l.Lock()
	defer l.Unlock()
	return s.writeLocked(workspaceID, msg)
}

func (s *Store) writeLocked(workspaceID string, msg message.Message) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("partial: %w", err)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("partial: marshaling: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, ".partial-*.tmp")
	if err != nil {
		return fmt.Errorf("partial: creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("partial: writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("partial: closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path(workspaceID)); err != nil {
		return fmt.Errorf("partial: renaming temp file: %w", err)
	}
	return nil
}

// Read returns the partial message for workspaceID, or (Message{}, false)
// if none is recorded.
func (s *Store) Read(workspaceID string) (message.Message, bool, error) {
	l := s.lockFor(workspaceID)
	l.Lock()
	defer l.Unlock()
	return s.readLocked(workspaceID)
}

func (s *Store) readLocked(workspaceID string) (message.Message, bool, error) {
	data, err := os.ReadFile(s.path(workspaceID))
	if os.IsNotExist(err) {
		return message.Message{}, false, nil
	}
	if err != nil {
		return message.Message{}, false, fmt.Errorf("partial: reading: %w", err)
	}
	var msg message.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return message.Message{}, false, fmt.Errorf("partial: unmarshaling: %w", err)
	}
	return msg, true, nil
}

// Delete removes the partial message for workspaceID. Idempotent.
func (s *Store) Delete(workspaceID string) error {
	l := s.lockFor(workspaceID)
	l.Lock()
	defer l.Unlock()
	err := os.Remove(s.path(workspaceID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("partial: deleting: %w", err)
	}
	return nil
}

// CommitToHistory reads workspaceID's partial, appends it to hist (with
// partial:true already set in its metadata by the caller), and deletes the
// partial file. No-op if no partial is recorded. If the partial's message
// id matches the most recent history entry's id, the append is skipped to
// avoid double-committing a message the caller already flushed.
func (s *Store) CommitToHistory(workspaceID string, hist *history.Store) error {
	l := s.lockFor(workspaceID)
	l.Lock()
	defer l.Unlock()

	msg, ok, err := s.readLocked(workspaceID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	last, err := hist.GetLastMessages(workspaceID, 1)
	if err != nil {
		return err
	}
	alreadyCommitted := len(last) == 1 && last[0].ID == msg.ID
	if !alreadyCommitted {
		if _, err := hist.Append(workspaceID, msg); err != nil {
			return err
		}
	}

	if err := os.Remove(s.path(workspaceID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("partial: deleting after commit: %w", err)
	}
	return nil
}
