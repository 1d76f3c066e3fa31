// Package retry implements the per-workspace exponential-backoff
// scheduler that drives automatic stream resumption after a retryable
// provider failure.
package retry

import (
	"sync"
	"time"

	"github.com/mux-run/mux/backend/internal/provider"
)

const (
	baseDelay = time.Second
	capDelay  = 60 * time.Second
)

// EventType tags a Manager-emitted event.
type EventType string

// Event types.
const (
	EventScheduled EventType = "auto-retry-scheduled"
	EventStarting  EventType = "auto-retry-starting"
	EventAbandoned EventType = "auto-retry-abandoned"
)

// Event is one retry-lifecycle notification.
type Event struct {
	Type        EventType
	Attempt     int
	DelayMs     int64
	ScheduledAt time.Time
	Reason      string
}

// Callback re-runs resumeStream for the workspace; invoked when a
// scheduled retry timer fires and is not canceled.
type Callback func()

// Manager is a per-workspace retry scheduler. Holds at most one pending
// timer and the current attempt counter.
type Manager struct {
	mu sync.Mutex

	enabled bool
	attempt int
	timer   *time.Timer
	pending *Event // snapshot of the currently scheduled event, if any

	emit     func(Event)
	callback Callback
}

// New returns an enabled Manager that emits lifecycle events via emit and
// invokes callback when a retry timer fires uncancelled.
func New(emit func(Event), callback Callback) *Manager {
	return &Manager{enabled: true, emit: emit, callback: callback}
}

// Delay computes the exponential backoff delay for the given 1-indexed
// attempt: min(cap, base * 2^(attempt-1)).
func Delay(attempt int) time.Duration {
	d := baseDelay << (attempt - 1)
	if d > capDelay || d <= 0 {
		return capDelay
	}
	return d
}

// HandleStreamFailure classifies kind and either abandons retry
// immediately (non-retryable kind, or retry disabled) or schedules the
// next attempt.
func (m *Manager) HandleStreamFailure(kind provider.ErrorKind) {
	m.mu.Lock()

	retryable := isRetryable(kind)
	if !retryable || !m.enabled {
		m.clearTimerLocked()
		reason := "non_retryable_error"
		if !m.enabled {
			reason = "disabled_by_user"
		}
		emit, ev := m.emit, Event{Type: EventAbandoned, Reason: reason}
		m.mu.Unlock()
		if emit != nil {
			emit(ev)
		}
		return
	}

	m.clearTimerLocked()
	m.attempt++
	delay := Delay(m.attempt)
	scheduledAt := time.Now().Add(delay)
	ev := Event{Type: EventScheduled, Attempt: m.attempt, DelayMs: delay.Milliseconds(), ScheduledAt: scheduledAt}
	snapshot := ev
	m.pending = &snapshot

	m.timer = time.AfterFunc(delay, m.fire)
	emit := m.emit
	m.mu.Unlock()
	if emit != nil {
		emit(ev)
	}
}

func isRetryable(kind provider.ErrorKind) bool {
	switch kind {
	case provider.ErrorRateLimited, provider.ErrorUnavailable:
		return true
	default:
		return false
	}
}

// fire runs when the scheduled timer elapses: it emits auto-retry-starting
// and only then checks cancellation, so a setEnabled(false) that races in
// during event delivery still wins.
func (m *Manager) fire() {
	m.mu.Lock()
	attempt := m.attempt
	emit := m.emit
	m.mu.Unlock()

	if emit != nil {
		emit(Event{Type: EventStarting, Attempt: attempt})
	}

	m.mu.Lock()
	// Re-check after the event callback: a concurrent setEnabled(false) or
	// cancel() may have fired while auto-retry-starting was being handled.
	stillScheduled := m.enabled && m.pending != nil
	m.pending = nil
	callback := m.callback
	m.mu.Unlock()

	if stillScheduled && callback != nil {
		callback()
	}
}

// HandleStreamSuccess resets the attempt counter.
func (m *Manager) HandleStreamSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempt = 0
}

// Cancel clears any pending timer and scheduled snapshot.
func (m *Manager) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearTimerLocked()
}

func (m *Manager) clearTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.pending = nil
}

// SetEnabled toggles whether future failures schedule a retry. Disabling
// cancels any pending timer; if a retry was visible (pending timer, or a
// nonzero attempt count), an auto-retry-abandoned event is emitted.
func (m *Manager) SetEnabled(enabled bool) {
	m.mu.Lock()
	wasVisible := m.pending != nil || m.attempt > 0
	m.enabled = enabled
	if !enabled {
		m.clearTimerLocked()
	}
	emit := m.emit
	shouldEmit := !enabled && wasVisible
	m.mu.Unlock()

	if shouldEmit && emit != nil {
		emit(Event{Type: EventAbandoned, Reason: "disabled_by_user"})
	}
}

// ScheduledStatusSnapshot returns a defensive copy of the currently
// pending schedule event, for reconnecting UIs. Returns (Event{}, false)
// if nothing is scheduled.
func (m *Manager) ScheduledStatusSnapshot() (Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return Event{}, false
	}
	return *m.pending, true
}
