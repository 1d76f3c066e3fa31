package engine

import (
	"sync"

	"github.com/mux-run/mux/backend/internal/stream"
)

// MetadataEvent is published on the process-wide workspace metadata
// channel whenever a workspace is created/renamed/deleted/forked or its
// activity state changes. Identity is nil on delete.
type MetadataEvent struct {
	WorkspaceID string
	Identity    *WorkspaceIdentity
}

// chatHub fans out stream.Events to per-workspace subscribers, each with a
// bounded buffer so one slow subscriber can't block the dispatcher.
type chatHub struct {
	mu   sync.Mutex
	subs map[string]map[chan stream.Event]struct{}
}

func newChatHub() *chatHub {
	return &chatHub{subs: make(map[string]map[chan stream.Event]struct{})}
}

func (h *chatHub) publish(ev stream.Event) {
	h.mu.Lock()
	chans := make([]chan stream.Event, 0, len(h.subs[ev.WorkspaceID]))
	for ch := range h.subs[ev.WorkspaceID] {
		chans = append(chans, ch)
	}
	h.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- ev:
		default: // slow subscriber; drop rather than block the stream loop
		}
	}
}

// subscribe registers a new channel for workspaceID and returns it plus an
// unsubscribe func.
func (h *chatHub) subscribe(workspaceID string) (chan stream.Event, func()) {
	ch := make(chan stream.Event, 64)
	h.mu.Lock()
	if h.subs[workspaceID] == nil {
		h.subs[workspaceID] = make(map[chan stream.Event]struct{})
	}
	h.subs[workspaceID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs[workspaceID], ch)
		h.mu.Unlock()
		close(ch)
	}
	return ch, cancel
}

// metadataHub fans out MetadataEvents to every process-wide subscriber.
type metadataHub struct {
	mu   sync.Mutex
	subs map[chan MetadataEvent]struct{}
}

func newMetadataHub() *metadataHub {
	return &metadataHub{subs: make(map[chan MetadataEvent]struct{})}
}

func (h *metadataHub) publish(ev MetadataEvent) {
	h.mu.Lock()
	chans := make([]chan MetadataEvent, 0, len(h.subs))
	for ch := range h.subs {
		chans = append(chans, ch)
	}
	h.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *metadataHub) subscribe() (chan MetadataEvent, func()) {
	ch := make(chan MetadataEvent, 32)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
		close(ch)
	}
	return ch, cancel
}
