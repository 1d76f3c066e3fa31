// Package session implements AgentSession, the per-workspace orchestrator:
// one send/queue/retry/mode state machine sitting between the HTTP layer
// and StreamManager, with HistoryStore and PartialStore as its durable
// state.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/mux-run/mux/backend/internal/history"
	"github.com/mux-run/mux/backend/internal/ids"
	"github.com/mux-run/mux/backend/internal/message"
	"github.com/mux-run/mux/backend/internal/partial"
	"github.com/mux-run/mux/backend/internal/provider"
	"github.com/mux-run/mux/backend/internal/retry"
	"github.com/mux-run/mux/backend/internal/stream"
)

// State is one of the per-workspace state machine's states.
type State string

// States.
const (
	StateIdle        State = "idle"
	StateStreaming   State = "streaming"
	StateInterrupted State = "interrupted"
	StateRetrying    State = "retrying"
	StateFailed      State = "failed"
)

// SendOptions configures SendMessage.
type SendOptions struct {
	EditMessageID string
	Mode          message.Mode
	Synthetic     bool
	Attachments   []message.Part
}

// queuedSend is one FIFO entry awaiting a free stream slot.
type queuedSend struct {
	text    string
	opts    SendOptions
}

// BuildRequest is supplied by the engine at send time: it resolves model,
// system message, tool registry, and provider-shape transforms, which are
// all outside AgentSession's concern (it only sequences and persists).
type BuildRequest func(ctx context.Context, history []message.Message, opts SendOptions) (stream.StartParams, error)

// Session is one workspace's AgentSession.
type Session struct {
	WorkspaceID string

	mu    sync.Mutex
	state State
	queue []queuedSend
	draft []queuedSend // messages moved back to a user-visible draft on user-initiated interrupt

	history  *history.Store
	partials *partial.Store
	streams  *stream.Manager
	retryMgr *retry.Manager
	build    BuildRequest

	lastParams stream.StartParams
	onError    func(err error)
}

// New constructs a Session for workspaceID. retryMgr's callback must be
// wired by the caller to invoke s.ResumeStream.
func New(workspaceID string, hist *history.Store, partials *partial.Store, streams *stream.Manager, retryMgr *retry.Manager, build BuildRequest, onError func(error)) *Session {
	return &Session{
		WorkspaceID: workspaceID,
		state:       StateIdle,
		history:     hist,
		partials:    partials,
		streams:     streams,
		retryMgr:    retryMgr,
		build:       build,
		onError:     onError,
	}
}

// State returns the current state machine state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SendMessage implements spec.md §4.8's sendMessage algorithm.
func (s *Session) SendMessage(ctx context.Context, text string, opts SendOptions) error {
	s.mu.Lock()
	if opts.EditMessageID == "" && s.state == StateStreaming {
		s.queue = append(s.queue, queuedSend{text: text, opts: opts})
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	userMsg := message.Message{
		ID:   ids.New("msg"),
		Role: message.RoleUser,
		Parts: append([]message.Part{{Type: message.PartText, Text: text}}, opts.Attachments...),
	}
	if _, err := s.history.Append(s.WorkspaceID, userMsg); err != nil {
		return fmt.Errorf("session: appending user message: %w", err)
	}

	if err := s.partials.CommitToHistory(s.WorkspaceID, s.history); err != nil {
		return fmt.Errorf("session: committing lingering partial: %w", err)
	}

	hist, err := s.history.GetHistory(s.WorkspaceID)
	if err != nil {
		return fmt.Errorf("session: loading history: %w", err)
	}

	params, err := s.build(ctx, hist, opts)
	if err != nil {
		return fmt.Errorf("session: building stream request: %w", err)
	}
	params.WorkspaceID = s.WorkspaceID

	placeholder := message.Message{ID: ids.New("msg"), Role: message.RoleAssistant}
	placeholder, err = s.history.Append(s.WorkspaceID, placeholder)
	if err != nil {
		return fmt.Errorf("session: reserving assistant placeholder: %w", err)
	}
	params.MessageID = placeholder.ID
	params.HistorySequence = placeholder.Metadata.HistorySequence

	return s.start(ctx, params, opts.Synthetic)
}

func (s *Session) start(ctx context.Context, params stream.StartParams, synthetic bool) error {
	s.mu.Lock()
	s.state = StateStreaming
	s.lastParams = params
	s.mu.Unlock()

	if err := s.streams.StartStream(ctx, params); err != nil {
		s.mu.Lock()
		s.state = StateFailed
		s.mu.Unlock()
		return err
	}
	return nil
}

// HandleStreamEvent is wired by the engine to every stream.Event for this
// workspace; it drives the state machine and, on completion, drains the
// queue.
func (s *Session) HandleStreamEvent(ctx context.Context, ev stream.Event) {
	switch ev.Type {
	case stream.EventStreamEnd:
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
		s.retryMgr.HandleStreamSuccess()
		_ = s.partials.CommitToHistory(s.WorkspaceID, s.history)
		s.sendQueuedMessages(ctx)

	case stream.EventStreamAbort:
		s.mu.Lock()
		s.state = StateInterrupted
		s.mu.Unlock()

	case stream.EventError:
		kind := provider.ErrorKind(ev.ErrorType)
		pe := provider.NewError(kind, 0, ev.Message, nil)
		if pe.Retryable() {
			s.mu.Lock()
			s.state = StateRetrying
			s.mu.Unlock()
			s.retryMgr.HandleStreamFailure(kind)
		} else {
			s.mu.Lock()
			s.state = StateFailed
			s.mu.Unlock()
			if s.onError != nil {
				s.onError(fmt.Errorf("session: %s", ev.Message))
			}
		}
	}
}

// ResumeStream re-opens the provider stream with the same final messages
// used in the last attempt; wired as the RetryManager callback and also
// callable directly to continue after interruption.
func (s *Session) ResumeStream(ctx context.Context) {
	s.mu.Lock()
	params := s.lastParams
	s.mu.Unlock()
	_ = s.start(ctx, params, false)
}

// InterruptStream delegates to StreamManager.StopStream. If queued
// messages exist and this was a user-initiated interrupt (not an
// auto-retry cancellation), they are moved to a draft slot instead of
// being dropped.
func (s *Session) InterruptStream(abandonPartial bool, userInitiated bool) error {
	if err := s.streams.StopStream(s.WorkspaceID, abandonPartial); err != nil {
		return err
	}
	if userInitiated {
		s.mu.Lock()
		if len(s.queue) > 0 {
			s.draft = append(s.draft, s.queue...)
			s.queue = nil
		}
		s.mu.Unlock()
	}
	return nil
}

// QueueMessage appends an entry to the FIFO send queue without sending it.
func (s *Session) QueueMessage(text string, opts SendOptions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, queuedSend{text: text, opts: opts})
}

// ClearQueue empties the FIFO send queue.
func (s *Session) ClearQueue() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = nil
}

// sendQueuedMessages drains the queue in FIFO order, preserving each
// entry's Synthetic flag, stopping early if a send leaves the session
// streaming again (the next entry will be drained by the next stream-end).
func (s *Session) sendQueuedMessages(ctx context.Context) {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		next := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		if err := s.SendMessage(ctx, next.text, next.opts); err != nil {
			if s.onError != nil {
				s.onError(err)
			}
			return
		}
		// SendMessage transitions to streaming; wait for the next
		// stream-end to continue draining rather than racing StartStream.
		return
	}
}

// TruncateHistory wraps HistoryStore.Truncate, refusing while a stream is
// active.
func (s *Session) TruncateHistory(fraction float64) ([]int64, error) {
	s.mu.Lock()
	active := s.state == StateStreaming
	s.mu.Unlock()
	if active {
		return nil, fmt.Errorf("session: cannot truncate history while streaming")
	}
	return s.history.Truncate(s.WorkspaceID, fraction)
}

// ReplaceHistory clears history and appends summaryMessage, refusing while
// a stream is active unless summaryMessage is marked compacted (the
// compaction flow calling itself back).
func (s *Session) ReplaceHistory(summaryMessage message.Message) error {
	s.mu.Lock()
	active := s.state == StateStreaming
	s.mu.Unlock()
	if active && !summaryMessage.Metadata.Compacted {
		return fmt.Errorf("session: cannot replace history while streaming")
	}
	if _, err := s.history.Clear(s.WorkspaceID); err != nil {
		return err
	}
	_, err := s.history.Append(s.WorkspaceID, summaryMessage)
	return err
}
