// Package message defines the provider-agnostic chat data model: messages,
// their typed parts, and the metadata HistoryStore and PartialStore persist
// alongside them.
package message

import (
	"encoding/json"
	"time"
)

// Role identifies who produced a Message.
type Role string

// Roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Mode selects the tool set and prompt additions for the next assistant turn.
type Mode string

// Modes.
const (
	ModePlan Mode = "plan"
	ModeExec Mode = "exec"
)

// ToolCallState is the lifecycle state of a tool_call part.
type ToolCallState string

// Tool call states.
const (
	ToolCallStreaming  ToolCallState = "streaming"
	ToolCallAvailable  ToolCallState = "available"
	ToolCallCompleted  ToolCallState = "completed"
	ToolCallInterrupted ToolCallState = "interrupted"
)

// PartType tags the concrete type held by a Part.
type PartType string

// Part types.
const (
	PartText           PartType = "text"
	PartToolCall       PartType = "tool_call"
	PartReasoning      PartType = "reasoning"
	PartFileAttachment PartType = "file_attachment"
	PartImage          PartType = "image"
)

// Part is a tagged union over the concrete message content kinds. Exactly the
// field matching Type is meaningful; the others are zero. Keeping this as a
// flat struct (rather than an interface) keeps JSON round-tripping trivial,
// which HistoryStore and PartialStore both rely on.
type Part struct {
	Type PartType `json:"type"`

	// PartText
	Text string `json:"text,omitempty"`

	// PartToolCall
	ToolName   string          `json:"toolName,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	State      ToolCallState   `json:"state,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`

	// PartFileAttachment
	Path        string `json:"path,omitempty"`
	Content     string `json:"content,omitempty"`
	MediaType   string `json:"mediaType,omitempty"`

	// PartImage
	URL string `json:"url,omitempty"`
}

// Metadata carries everything about a Message that is not conversational
// content: sequencing, provenance, and bookkeeping flags.
type Metadata struct {
	Timestamp          time.Time `json:"timestamp"`
	HistorySequence    int64     `json:"historySequence,omitempty"`
	Model              string    `json:"model,omitempty"`
	SystemMessageTokens int      `json:"systemMessageTokens,omitempty"`
	Mode               Mode      `json:"mode,omitempty"`
	Partial            bool      `json:"partial,omitempty"`
	Compacted          bool      `json:"compacted,omitempty"`
	Error              string    `json:"error,omitempty"`
	ErrorType          string    `json:"errorType,omitempty"`
	// ResponseID persists an OpenAI-style server-side response/reasoning
	// handle so a later turn can reference it (spec §4.7).
	ResponseID string `json:"responseId,omitempty"`
}

// Message is one turn (or partial turn) in a workspace's chat history.
type Message struct {
	ID       string   `json:"id"`
	Role     Role     `json:"role"`
	Parts    []Part   `json:"parts"`
	Metadata Metadata `json:"metadata"`
}

// Text concatenates all PartText parts, in order.
func (m *Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Type == PartText {
			out += p.Text
		}
	}
	return out
}

// IsEmptyAssistant reports whether m is an assistant message with no
// non-empty text and no tool call, file attachment or image part (in any
// state) — only reasoning or empty text, or nothing at all. Used by
// transform pass 1.
func (m *Message) IsEmptyAssistant() bool {
	if m.Role != RoleAssistant {
		return false
	}
	for _, p := range m.Parts {
		switch p.Type {
		case PartText:
			if p.Text != "" {
				return false
			}
		case PartToolCall:
			return false
		case PartFileAttachment, PartImage:
			return false
		}
	}
	return true
}

// HasOnlyReasoning reports whether every part of m is a reasoning part.
func (m *Message) HasOnlyReasoning() bool {
	if len(m.Parts) == 0 {
		return false
	}
	for _, p := range m.Parts {
		if p.Type != PartReasoning {
			return false
		}
	}
	return true
}

// LastTextPartIndex returns the index of the last PartText part, or -1.
func (m *Message) LastTextPartIndex() int {
	for i := len(m.Parts) - 1; i >= 0; i-- {
		if m.Parts[i].Type == PartText {
			return i
		}
	}
	return -1
}

// AppendContinueSentinel appends "\n\n[CONTINUE]" to the last text part, or
// adds a new text part if none exists.
func (m *Message) AppendContinueSentinel() {
	const sentinel = "\n\n[CONTINUE]"
	if i := m.LastTextPartIndex(); i >= 0 {
		m.Parts[i].Text += sentinel
		return
	}
	m.Parts = append(m.Parts, Part{Type: PartText, Text: sentinel})
}
