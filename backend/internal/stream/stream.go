// Package stream implements StreamManager: the per-workspace singleton
// that drives exactly one in-flight provider streaming call, publishing
// ordered chat events, maintaining the partial message, executing tool
// calls in provider-emitted order, and handling interruption.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mux-run/mux/backend/internal/ids"
	"github.com/mux-run/mux/backend/internal/message"
	"github.com/mux-run/mux/backend/internal/partial"
	"github.com/mux-run/mux/backend/internal/provider"
	"github.com/mux-run/mux/backend/internal/tool"
)

// EventType tags an Event's payload.
type EventType string

// Event types, matching spec.md §4.7's public stream event vocabulary.
const (
	EventStreamStart   EventType = "stream-start"
	EventStreamDelta   EventType = "stream-delta"
	EventReasoningDelta EventType = "reasoning-delta"
	EventReasoningEnd  EventType = "reasoning-end"
	EventToolCallStart EventType = "tool-call-start"
	EventToolCallDelta EventType = "tool-call-delta"
	EventToolCallEnd   EventType = "tool-call-end"
	EventUsageDelta    EventType = "usage-delta"
	EventStreamEnd     EventType = "stream-end"
	EventStreamAbort   EventType = "stream-abort"
	EventError         EventType = "error"
)

// Event is one ordered notification published for a workspace's stream.
type Event struct {
	Type            EventType
	WorkspaceID     string
	MessageID       string
	Model           string
	HistorySequence int64
	StartTime       time.Time
	Mode            message.Mode

	Delta      string
	Tokens     int
	Timestamp  time.Time

	ToolCallID    string
	ToolName      string
	PartialInput  string
	ToolResult    []byte

	Usage provider.Usage

	Parts    []message.Part
	Metadata message.Metadata

	ErrorType string
	Message   string

	AbandonPartial bool
}

// StartParams is the input to Manager.StartStream.
type StartParams struct {
	WorkspaceID string
	// MessageID is the assistant message's id, already reserved as a
	// placeholder in history by the caller; the stream's aggregated
	// message reuses it so partial.CommitToHistory's id match finds the
	// placeholder instead of appending a duplicate.
	MessageID       string
	FinalMessages   []message.Message
	Model           string
	ModelString     string
	HistorySequence int64
	SystemMessage   string
	Adapter         provider.Adapter
	Tools           *tool.Registry
	InitialMetadata message.Metadata
	MaxOutputTokens int
	Mode            message.Mode
	PriorResponseID string
}

// ErrAlreadyActive is returned by StartStream when a stream is already
// in flight for the workspace.
var ErrAlreadyActive = fmt.Errorf("stream_already_active")

// session is the live state for one workspace's in-flight stream.
type session struct {
	cancel context.CancelFunc
	events []Event // recorded since stream-start, for replayStream
	done   chan struct{}
}

// Manager is the per-process StreamManager: a map of per-workspace
// sessions, each enforcing the at-most-one-in-flight invariant.
type Manager struct {
	mu       sync.Mutex
	active   map[string]*session
	partials *partial.Store
	publish  func(Event)
}

// New returns a Manager that persists partial messages via partials and
// publishes every event to publish, in order, as it is produced.
func New(partials *partial.Store, publish func(Event)) *Manager {
	return &Manager{active: make(map[string]*session), partials: partials, publish: publish}
}

func (m *Manager) emit(s *session, ev Event) {
	s.events = append(s.events, ev)
	if m.publish != nil {
		m.publish(ev)
	}
}

// StartStream begins a new streaming call for workspaceID. Returns
// ErrAlreadyActive if one is already in flight.
func (m *Manager) StartStream(ctx context.Context, p StartParams) error {
	m.mu.Lock()
	if _, ok := m.active[p.WorkspaceID]; ok {
		m.mu.Unlock()
		return ErrAlreadyActive
	}
	cctx, cancel := context.WithCancel(ctx)
	s := &session{cancel: cancel, done: make(chan struct{})}
	m.active[p.WorkspaceID] = s
	m.mu.Unlock()

	messageID := p.MessageID
	if messageID == "" {
		messageID = ids.New("msg")
	}
	startTime := time.Now()
	m.emit(s, Event{Type: EventStreamStart, WorkspaceID: p.WorkspaceID, MessageID: messageID, Model: p.Model,
		HistorySequence: p.HistorySequence, StartTime: startTime, Mode: p.Mode})

	go m.run(cctx, s, p, messageID, startTime)
	return nil
}

func (m *Manager) run(ctx context.Context, s *session, p StartParams, messageID string, startTime time.Time) {
	defer close(s.done)
	defer func() {
		m.mu.Lock()
		delete(m.active, p.WorkspaceID)
		m.mu.Unlock()
	}()

	req := provider.Request{
		Model:           p.ModelString,
		SystemMessage:   p.SystemMessage,
		Messages:        p.FinalMessages,
		MaxOutputTokens: p.MaxOutputTokens,
		PriorResponseID: p.PriorResponseID,
	}
	if p.Tools != nil {
		for _, d := range p.Tools.Ordered() {
			req.Tools = append(req.Tools, provider.ToolDef{Name: string(d.Name), Description: d.Description, InputSchema: d.InputSchema})
		}
	}

	strm, err := p.Adapter.Stream(ctx, req)
	if err != nil {
		m.fail(s, p, messageID, err)
		return
	}
	defer strm.Close()

	agg := message.Message{ID: messageID, Role: message.RoleAssistant, Metadata: p.InitialMetadata}
	agg.Metadata.HistorySequence = p.HistorySequence
	agg.Metadata.Model = p.Model
	agg.Metadata.Mode = p.Mode

	toolOrder := make(map[string]int) // toolCallID -> part index
	interrupted := false

	for {
		chunk, err := strm.Recv()
		if err != nil {
			if err == io.EOF {
				break
			}
			if ctx.Err() != nil {
				interrupted = true
				break
			}
			m.fail(s, p, messageID, err)
			return
		}

		switch chunk.Type {
		case provider.ChunkText:
			appendText(&agg, chunk.Text)
			m.emit(s, Event{Type: EventStreamDelta, WorkspaceID: p.WorkspaceID, MessageID: messageID, Delta: chunk.Text, Timestamp: time.Now()})

		case provider.ChunkReasoning:
			appendReasoning(&agg, chunk.Text)
			m.emit(s, Event{Type: EventReasoningDelta, WorkspaceID: p.WorkspaceID, MessageID: messageID, Delta: chunk.Text, Timestamp: time.Now()})

		case provider.ChunkToolCallStart:
			agg.Parts = append(agg.Parts, message.Part{Type: message.PartToolCall, ToolCallID: chunk.ToolCallID, ToolName: chunk.ToolName, State: message.ToolCallStreaming})
			toolOrder[chunk.ToolCallID] = len(agg.Parts) - 1
			m.emit(s, Event{Type: EventToolCallStart, WorkspaceID: p.WorkspaceID, MessageID: messageID, ToolCallID: chunk.ToolCallID, ToolName: chunk.ToolName})

		case provider.ChunkToolCallDelta:
			if i, ok := toolOrder[chunk.ToolCallID]; ok {
				agg.Parts[i].Input = append(agg.Parts[i].Input, []byte(chunk.InputDelta)...)
			}
			m.emit(s, Event{Type: EventToolCallDelta, WorkspaceID: p.WorkspaceID, MessageID: messageID, ToolCallID: chunk.ToolCallID, PartialInput: chunk.InputDelta})

		case provider.ChunkToolCallEnd:
			i, ok := toolOrder[chunk.ToolCallID]
			if !ok {
				continue
			}
			agg.Parts[i].Input = chunk.Input
			agg.Parts[i].State = message.ToolCallAvailable
			if err := m.writePartial(p.WorkspaceID, agg); err != nil {
				m.fail(s, p, messageID, err)
				return
			}

			result, execErr := m.invokeTool(ctx, p.Tools, agg.Parts[i])
			select {
			case <-ctx.Done():
				agg.Parts[i].State = message.ToolCallInterrupted
				interrupted = true
			default:
				if execErr != nil {
					agg.Parts[i].Output = errorOutput(execErr)
				} else {
					agg.Parts[i].Output = result
				}
				agg.Parts[i].State = message.ToolCallCompleted
			}
			m.emit(s, Event{Type: EventToolCallEnd, WorkspaceID: p.WorkspaceID, MessageID: messageID, ToolCallID: chunk.ToolCallID, ToolResult: agg.Parts[i].Output})

		case provider.ChunkUsage:
			m.emit(s, Event{Type: EventUsageDelta, WorkspaceID: p.WorkspaceID, MessageID: messageID, Usage: chunk.Usage})

		case provider.ChunkStop:
			agg.Metadata.ResponseID = chunk.ResponseID
		}

		if err := m.writePartial(p.WorkspaceID, agg); err != nil {
			m.fail(s, p, messageID, err)
			return
		}
		if interrupted {
			break
		}
	}

	if interrupted {
		agg.AppendContinueSentinel()
		agg.Metadata.Partial = true
		_ = m.writePartial(p.WorkspaceID, agg)
		m.emit(s, Event{Type: EventStreamAbort, WorkspaceID: p.WorkspaceID, MessageID: messageID})
		return
	}

	agg.Metadata.Partial = false
	if err := m.writePartial(p.WorkspaceID, agg); err != nil {
		m.fail(s, p, messageID, err)
		return
	}
	m.emit(s, Event{Type: EventStreamEnd, WorkspaceID: p.WorkspaceID, MessageID: messageID, Parts: agg.Parts, Metadata: agg.Metadata})
}

func appendText(m *message.Message, delta string) {
	if n := len(m.Parts); n > 0 && m.Parts[n-1].Type == message.PartText {
		m.Parts[n-1].Text += delta
		return
	}
	m.Parts = append(m.Parts, message.Part{Type: message.PartText, Text: delta})
}

func appendReasoning(m *message.Message, delta string) {
	if n := len(m.Parts); n > 0 && m.Parts[n-1].Type == message.PartReasoning {
		m.Parts[n-1].Text += delta
		return
	}
	m.Parts = append(m.Parts, message.Part{Type: message.PartReasoning, Text: delta})
}

func (m *Manager) writePartial(workspaceID string, msg message.Message) error {
	msg.Metadata.Partial = true
	return m.partials.Write(workspaceID, msg)
}

func (m *Manager) invokeTool(ctx context.Context, tools *tool.Registry, part message.Part) ([]byte, error) {
	if tools == nil {
		return nil, fmt.Errorf("stream: no tool registry configured")
	}
	def, ok := tools.Get(tool.Name(part.ToolName))
	if !ok {
		return nil, fmt.Errorf("stream: unknown tool %q", part.ToolName)
	}
	if err := def.Validate(part.Input); err != nil {
		return nil, err
	}
	if def.Handler == nil {
		return nil, fmt.Errorf("stream: tool %q has no handler", part.ToolName)
	}
	return def.Handler(ctx, part.Input)
}

func errorOutput(err error) json.RawMessage {
	data, _ := json.Marshal(map[string]string{"error": err.Error()})
	return data
}

func (m *Manager) fail(s *session, p StartParams, messageID string, err error) {
	errType := "unknown"
	if pe, ok := provider.AsError(err); ok {
		errType = string(pe.Kind)
	}
	m.emit(s, Event{Type: EventError, WorkspaceID: p.WorkspaceID, MessageID: messageID, ErrorType: errType, Message: err.Error()})
}

// StopStream cancels the abort signal for workspaceID's active stream. If
// abandonPartial, it waits for the run loop to finish its final partial
// write and then deletes the partial instead of leaving it for commit.
func (m *Manager) StopStream(workspaceID string, abandonPartial bool) error {
	m.mu.Lock()
	s, ok := m.active[workspaceID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("stream: no active stream for workspace %q", workspaceID)
	}
	s.cancel()
	if abandonPartial {
		<-s.done
		_ = m.partials.Delete(workspaceID)
	}
	return nil
}

// ReplayStream re-emits every event recorded since the current stream's
// start, preserving order, to catch up a late subscriber. Returns false if
// no stream is active for workspaceID.
func (m *Manager) ReplayStream(workspaceID string, sink func(Event)) bool {
	m.mu.Lock()
	s, ok := m.active[workspaceID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	for _, ev := range s.events {
		sink(ev)
	}
	return true
}

// IsActive reports whether a stream is currently in flight for workspaceID.
func (m *Manager) IsActive(workspaceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[workspaceID]
	return ok
}
