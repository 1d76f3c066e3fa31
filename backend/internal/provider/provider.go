// Package provider abstracts the streaming chat completion call across
// Anthropic and OpenAI: a pull-style Streamer that StreamManager drives with
// Recv/Close, plus the request/chunk/usage types both adapters produce.
package provider

import (
	"context"

	"github.com/mux-run/mux/backend/internal/message"
)

// ChunkType tags the concrete payload carried by a Chunk.
type ChunkType string

// Chunk types.
const (
	ChunkText          ChunkType = "text"
	ChunkReasoning     ChunkType = "reasoning"
	ChunkReasoningEnd  ChunkType = "reasoning_end"
	ChunkToolCallStart ChunkType = "tool_call_start"
	ChunkToolCallDelta ChunkType = "tool_call_delta"
	ChunkToolCallEnd   ChunkType = "tool_call_end"
	ChunkUsage         ChunkType = "usage"
	ChunkStop          ChunkType = "stop"
)

// Usage reports token accounting for a turn.
type Usage struct {
	InputTokens         int
	OutputTokens        int
	CacheReadTokens     int
	CacheCreationTokens int
}

// Chunk is one unit of a streaming response. Only the field(s) matching
// Type are populated.
type Chunk struct {
	Type ChunkType

	Text string // ChunkText, ChunkReasoning

	ToolCallID    string // ChunkToolCallStart, ChunkToolCallDelta, ChunkToolCallEnd
	ToolName      string // ChunkToolCallStart
	InputDelta    string // ChunkToolCallDelta — raw JSON fragment
	Input         []byte // ChunkToolCallEnd — complete, parseable JSON

	Usage Usage // ChunkUsage

	StopReason string // ChunkStop: "end_turn" | "tool_use" | "max_tokens" | ...
	ResponseID string // ChunkStop: server-persisted reasoning handle, if any
}

// ToolDef describes one callable tool exposed to the model.
type ToolDef struct {
	Name        string
	Description string
	InputSchema []byte // JSON schema
}

// Request carries everything a provider adapter needs to start a stream.
type Request struct {
	Model          string
	SystemMessage  string
	Messages       []message.Message
	Tools          []ToolDef
	MaxOutputTokens int
	Temperature    float64
	// PriorResponseID references a previous turn's server-persisted
	// reasoning state (OpenAI Responses API); empty if not applicable.
	PriorResponseID string
}

// Streamer is a single in-flight streaming call. Recv returns io.EOF once
// the stream ends normally (after a ChunkStop chunk); Close cancels the
// underlying call and releases resources and is safe to call multiple
// times and after Recv has returned io.EOF.
type Streamer interface {
	Recv() (Chunk, error)
	Close() error
}

// Adapter starts a streaming chat completion against one provider.
type Adapter interface {
	Name() string
	Stream(ctx context.Context, req Request) (Streamer, error)
}
