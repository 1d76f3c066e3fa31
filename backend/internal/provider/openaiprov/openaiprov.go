// Package openaiprov adapts the OpenAI Responses API streaming endpoint to
// provider.Streamer. Unlike Anthropic, OpenAI's Responses API persists
// reasoning state server-side and hands back a response id that a later
// turn can chain from instead of resending prior reasoning content; this
// adapter surfaces that id via ChunkStop.ResponseID (spec.md §4.7).
package openaiprov

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"github.com/mux-run/mux/backend/internal/message"
	"github.com/mux-run/mux/backend/internal/provider"
)

// Adapter implements provider.Adapter against the OpenAI Responses API.
type Adapter struct {
	client openai.Client
}

// New returns an Adapter authenticating with apiKey.
func New(apiKey string) *Adapter {
	return &Adapter{client: openai.NewClient(option.WithAPIKey(apiKey))}
}

// Name implements provider.Adapter.
func (a *Adapter) Name() string { return "openai" }

// Stream implements provider.Adapter.
func (a *Adapter) Stream(ctx context.Context, req provider.Request) (provider.Streamer, error) {
	params := responses.ResponseNewParams{
		Model: req.Model,
	}
	if req.SystemMessage != "" {
		params.Instructions = openai.String(req.SystemMessage)
	}
	if req.PriorResponseID != "" {
		params.PreviousResponseID = openai.String(req.PriorResponseID)
	}
	for _, m := range req.Messages {
		params.Input.OfInputItemList = append(params.Input.OfInputItemList, toResponsesItem(m))
	}
	for _, t := range req.Tools {
		var schema any
		if len(t.InputSchema) > 0 {
			_ = json.Unmarshal(t.InputSchema, &schema)
		}
		params.Tools = append(params.Tools, responses.ToolUnionParam{
			OfFunction: &responses.FunctionToolParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  schema,
			},
		})
	}

	stream := a.client.Responses.NewStreaming(ctx, params)
	return newStreamer(ctx, stream), nil
}

func toResponsesItem(m message.Message) responses.ResponseInputItemUnionParam {
	role := responses.EasyInputMessageRoleUser
	if m.Role == message.RoleAssistant {
		role = responses.EasyInputMessageRoleAssistant
	}
	return responses.ResponseInputItemParamOfMessage(m.Text(), role)
}

type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *responses.ResponseStream

	chunks chan provider.Chunk
	errCh  chan error
}

func newStreamer(ctx context.Context, stream *responses.ResponseStream) *streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{ctx: cctx, cancel: cancel, stream: stream, chunks: make(chan provider.Chunk, 32), errCh: make(chan error, 1)}
	go s.run()
	return s
}

func (s *streamer) Recv() (provider.Chunk, error) {
	select {
	case c, ok := <-s.chunks:
		if ok {
			return c, nil
		}
		select {
		case err := <-s.errCh:
			return provider.Chunk{}, err
		default:
			return provider.Chunk{}, io.EOF
		}
	case <-s.ctx.Done():
		return provider.Chunk{}, s.ctx.Err()
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

	var responseID string
	for s.stream.Next() {
		event := s.stream.Current()
		switch ev := event.AsAny().(type) {
		case responses.ResponseTextDeltaEvent:
			if !s.emit(provider.Chunk{Type: provider.ChunkText, Text: ev.Delta}) {
				return
			}
		case responses.ResponseReasoningTextDeltaEvent:
			if !s.emit(provider.Chunk{Type: provider.ChunkReasoning, Text: ev.Delta}) {
				return
			}
		case responses.ResponseFunctionCallArgumentsDeltaEvent:
			if !s.emit(provider.Chunk{Type: provider.ChunkToolCallDelta, ToolCallID: ev.ItemID, InputDelta: ev.Delta}) {
				return
			}
		case responses.ResponseOutputItemDoneEvent:
			if fn, ok := ev.Item.AsAny().(responses.ResponseFunctionToolCall); ok {
				if !s.emit(provider.Chunk{Type: provider.ChunkToolCallStart, ToolCallID: fn.CallID, ToolName: fn.Name}) {
					return
				}
				if !s.emit(provider.Chunk{Type: provider.ChunkToolCallEnd, ToolCallID: fn.CallID, ToolName: fn.Name, Input: []byte(fn.Arguments)}) {
					return
				}
			}
		case responses.ResponseCompletedEvent:
			responseID = ev.Response.ID
		}
	}
	if err := s.stream.Err(); err != nil {
		s.errCh <- translateErr(err)
		return
	}
	s.emit(provider.Chunk{Type: provider.ChunkStop, StopReason: "end_turn", ResponseID: responseID})
}

func (s *streamer) emit(c provider.Chunk) bool {
	select {
	case s.chunks <- c:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func translateErr(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		kind := provider.ErrorUnknown
		switch apiErr.StatusCode {
		case 401, 403:
			kind = provider.ErrorAuth
		case 429:
			kind = provider.ErrorRateLimited
		case 400, 404, 422:
			kind = provider.ErrorInvalidRequest
		case 500, 502, 503:
			kind = provider.ErrorUnavailable
		}
		return provider.NewError(kind, apiErr.StatusCode, apiErr.Message, err)
	}
	return provider.NewError(provider.ErrorUnknown, 0, err.Error(), err)
}
