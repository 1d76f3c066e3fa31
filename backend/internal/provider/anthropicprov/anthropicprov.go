// Package anthropicprov adapts the Anthropic Messages streaming API to
// provider.Streamer. The event-processing shape — a background goroutine
// draining an SSE stream into a buffered channel, Recv selecting on that
// channel versus context cancellation — mirrors goa-ai's anthropicStreamer.
package anthropicprov

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/mux-run/mux/backend/internal/message"
	"github.com/mux-run/mux/backend/internal/provider"
)

// Adapter implements provider.Adapter against the Anthropic Messages API.
type Adapter struct {
	client sdk.Client
}

// New returns an Adapter authenticating with apiKey.
func New(apiKey string) *Adapter {
	return &Adapter{client: sdk.NewClient(option.WithAPIKey(apiKey))}
}

// Name implements provider.Adapter.
func (a *Adapter) Name() string { return "anthropic" }

// Stream implements provider.Adapter.
func (a *Adapter) Stream(ctx context.Context, req provider.Request) (provider.Streamer, error) {
	params, nameMap, err := buildParams(req)
	if err != nil {
		return nil, err
	}
	stream := a.client.Messages.NewStreaming(ctx, params)
	return newStreamer(ctx, stream, nameMap), nil
}

func buildParams(req provider.Request) (sdk.MessageNewParams, map[string]string, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: int64(req.MaxOutputTokens),
	}
	if req.SystemMessage != "" {
		params.System = []sdk.TextBlockParam{{Text: req.SystemMessage}}
	}
	nameMap := make(map[string]string, len(req.Tools))
	for i, t := range req.Tools {
		var schema any
		if len(t.InputSchema) > 0 {
			if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
				return params, nil, fmt.Errorf("anthropicprov: tool %q schema: %w", t.Name, err)
			}
		}
		params.Tools = append(params.Tools, sdk.ToolUnionParam{
			OfTool: &sdk.ToolParam{
				Name:        t.Name,
				Description: sdk.String(t.Description),
				InputSchema: sdk.ToolInputSchemaParam{},
			},
		})
		nameMap[t.Name] = t.Name
		// Apply a cache-control marker to the last tool definition so the
		// static portion of the prompt (tool defs, system message) is
		// reusable across turns (spec.md §4.7 cache-marker note).
		if i == len(req.Tools)-1 {
			params.Tools[i].OfTool.CacheControl = sdk.NewCacheControlEphemeralParam()
		}
	}
	for i, m := range req.Messages {
		msg, err := toAnthropicMessage(m)
		if err != nil {
			return params, nil, err
		}
		if i == len(req.Messages)-1 {
			for j := range msg.Content {
				msg.Content[j].OfText.CacheControl = sdk.NewCacheControlEphemeralParam()
			}
		}
		params.Messages = append(params.Messages, msg)
	}
	return params, nameMap, nil
}

func toAnthropicMessage(m message.Message) (sdk.MessageParam, error) {
	role := sdk.MessageParamRoleUser
	if m.Role == message.RoleAssistant {
		role = sdk.MessageParamRoleAssistant
	}
	out := sdk.MessageParam{Role: role}
	for _, p := range m.Parts {
		switch p.Type {
		case message.PartText:
			out.Content = append(out.Content, sdk.ContentBlockParamOfText(p.Text))
		case message.PartToolCall:
			var input any
			if len(p.Input) > 0 {
				if err := json.Unmarshal(p.Input, &input); err != nil {
					return out, fmt.Errorf("anthropicprov: tool call %q input: %w", p.ToolCallID, err)
				}
			}
			out.Content = append(out.Content, sdk.NewToolUseBlock(p.ToolCallID, p.ToolName, input))
			if len(p.Output) > 0 {
				out.Content = append(out.Content, sdk.NewToolResultBlock(p.ToolCallID, string(p.Output), false))
			}
		}
	}
	return out, nil
}

// streamer adapts an Anthropic SSE stream to provider.Streamer.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]

	chunks chan provider.Chunk

	errMu    sync.Mutex
	errSet   bool
	finalErr error

	nameMap map[string]string
}

func newStreamer(ctx context.Context, stream *ssestream.Stream[sdk.MessageStreamEventUnion], nameMap map[string]string) *streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{ctx: cctx, cancel: cancel, stream: stream, chunks: make(chan provider.Chunk, 32), nameMap: nameMap}
	go s.run()
	return s
}

func (s *streamer) Recv() (provider.Chunk, error) {
	select {
	case chunk, ok := <-s.chunks:
		if ok {
			return chunk, nil
		}
		if err := s.err(); err != nil {
			return provider.Chunk{}, err
		}
		return provider.Chunk{}, io.EOF
	case <-s.ctx.Done():
		err := s.ctx.Err()
		s.setErr(err)
		return provider.Chunk{}, err
	}
}

func (s *streamer) Close() error {
	s.cancel()
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}

func (s *streamer) run() {
	defer close(s.chunks)
	defer func() {
		if s.stream != nil {
			_ = s.stream.Close()
		}
	}()

	toolBlocks := make(map[int64]*toolBuffer)
	var usage provider.Usage

	for {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		default:
		}
		if !s.stream.Next() {
			if err := s.stream.Err(); err != nil {
				s.setErr(translateErr(err))
			}
			return
		}
		event := s.stream.Current()
		switch ev := event.AsAny().(type) {
		case sdk.ContentBlockStartEvent:
			if tu, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
				name := tu.Name
				if canonical, ok := s.nameMap[name]; ok {
					name = canonical
				}
				toolBlocks[ev.Index] = &toolBuffer{id: tu.ID, name: name}
				if !s.emit(provider.Chunk{Type: provider.ChunkToolCallStart, ToolCallID: tu.ID, ToolName: name}) {
					return
				}
			}
		case sdk.ContentBlockDeltaEvent:
			switch d := ev.Delta.AsAny().(type) {
			case sdk.TextDelta:
				if d.Text == "" {
					continue
				}
				if !s.emit(provider.Chunk{Type: provider.ChunkText, Text: d.Text}) {
					return
				}
			case sdk.InputJSONDelta:
				tb := toolBlocks[ev.Index]
				if tb == nil || d.PartialJSON == "" {
					continue
				}
				tb.fragments = append(tb.fragments, d.PartialJSON)
				if !s.emit(provider.Chunk{Type: provider.ChunkToolCallDelta, ToolCallID: tb.id, InputDelta: d.PartialJSON}) {
					return
				}
			case sdk.ThinkingDelta:
				if d.Thinking == "" {
					continue
				}
				if !s.emit(provider.Chunk{Type: provider.ChunkReasoning, Text: d.Thinking}) {
					return
				}
			}
		case sdk.ContentBlockStopEvent:
			if tb := toolBlocks[ev.Index]; tb != nil {
				full := ""
				for _, f := range tb.fragments {
					full += f
				}
				if full == "" {
					full = "{}"
				}
				if !s.emit(provider.Chunk{Type: provider.ChunkToolCallEnd, ToolCallID: tb.id, Input: []byte(full)}) {
					return
				}
				delete(toolBlocks, ev.Index)
			}
		case sdk.MessageDeltaEvent:
			usage.OutputTokens += int(ev.Usage.OutputTokens)
			if !s.emit(provider.Chunk{Type: provider.ChunkUsage, Usage: usage}) {
				return
			}
		case sdk.MessageStopEvent:
			if !s.emit(provider.Chunk{Type: provider.ChunkStop, StopReason: "end_turn"}) {
				return
			}
		}
	}
}

func (s *streamer) emit(c provider.Chunk) bool {
	select {
	case s.chunks <- c:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *streamer) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if !s.errSet {
		s.errSet = true
		s.finalErr = err
	}
}

func (s *streamer) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.finalErr
}

type toolBuffer struct {
	id        string
	name      string
	fragments []string
}

// translateErr classifies an Anthropic SDK error into provider.Error.
func translateErr(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		kind := provider.ErrorUnknown
		switch apiErr.StatusCode {
		case 401, 403:
			kind = provider.ErrorAuth
		case 429:
			kind = provider.ErrorRateLimited
		case 400, 404, 422:
			kind = provider.ErrorInvalidRequest
		case 500, 502, 503, 529:
			kind = provider.ErrorUnavailable
		}
		return provider.NewError(kind, apiErr.StatusCode, apiErr.Message, err)
	}
	return provider.NewError(provider.ErrorUnknown, 0, err.Error(), err)
}
