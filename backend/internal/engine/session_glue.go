package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/mux-run/mux/backend/internal/message"
	"github.com/mux-run/mux/backend/internal/retry"
	"github.com/mux-run/mux/backend/internal/session"
	"github.com/mux-run/mux/backend/internal/stream"
	"github.com/mux-run/mux/backend/internal/tool"
	"github.com/mux-run/mux/backend/internal/transform"
)

// buildRequestFor returns the session.BuildRequest closure for identity: it
// resolves the provider adapter and model string from config, discovers
// the tool set for the requested mode, runs the message-transform
// pipeline, and assembles a stream.StartParams. This is the one place
// AgentSession's workspace-agnostic orchestration meets the engine's
// process-wide config/runtime/provider wiring.
func (e *Engine) buildRequestFor(identity *WorkspaceIdentity) session.BuildRequest {
	return func(ctx context.Context, hist []message.Message, opts session.SendOptions) (stream.StartParams, error) {
		providerName, modelName := e.modelFor()
		adapter, err := e.providerFor(providerName)
		if err != nil {
			return stream.StartParams{}, err
		}

		rt, err := e.runtimeFor(ctx, identity.ProjectPath, identity.RuntimeConfig)
		if err != nil {
			return stream.StartParams{}, err
		}

		mode := opts.Mode
		if mode == "" {
			mode = message.ModeExec
		}

		subagents, err := tool.DiscoverSubagents(identity.NamedWorkspacePath)
		if err != nil {
			return stream.StartParams{}, fmt.Errorf("engine: discovering subagents: %w", err)
		}
		registry, err := tool.Resolve(tool.ResolveParams{
			Mode:                mode,
			WebSearchConfigured: e.cfg.AI.WebSearch != "",
			Subagents:           subagents,
			Builtins:            e.toolBuiltins(identity, rt),
		})
		if err != nil {
			return stream.StartParams{}, fmt.Errorf("engine: resolving tools: %w", err)
		}

		var shape transform.ProviderShape
		if providerName == "anthropic" {
			shape = transform.AnthropicShape{}
		}
		finalMsgs, warnings := transform.Run(hist, transform.Options{
			Provider: shape,
		})
		for _, w := range warnings {
			e.initMgr.AppendOutput(identity.ID, "transform warning: "+w, true)
		}

		var priorResponseID string
		if n := len(hist); n > 0 {
			priorResponseID = hist[n-1].Metadata.ResponseID
		}

		return stream.StartParams{
			WorkspaceID:     identity.ID,
			FinalMessages:   finalMsgs,
			Model:           modelName,
			ModelString:     providerName + ":" + modelName,
			SystemMessage:   e.systemPrompt(identity, mode),
			Adapter:         adapter,
			Tools:           registry,
			Mode:            mode,
			PriorResponseID: priorResponseID,
		}, nil
	}
}

// modelFor returns the configured (provider, model) pair. Per-workspace
// overrides are not modeled yet; every session uses the process-wide
// default.
func (e *Engine) modelFor() (provider, model string) {
	provider = e.cfg.AI.DefaultProvider
	if provider == "" {
		provider = "anthropic"
	}
	model = e.cfg.AI.DefaultModel
	if m, ok := e.cfg.AI.Models[provider]; ok && m != "" {
		model = m
	}
	return provider, model
}

// systemPrompt builds the per-turn system message. Plan mode adds an
// explicit instruction to propose rather than execute.
func (e *Engine) systemPrompt(identity *WorkspaceIdentity, mode message.Mode) string {
	var b strings.Builder
	b.WriteString("You are an autonomous coding agent working in the git workspace at ")
	b.WriteString(identity.NamedWorkspacePath)
	b.WriteString(".\n")
	if mode == message.ModePlan {
		b.WriteString("You are in plan mode: investigate and propose a plan via propose_plan before making any changes.\n")
	} else {
		b.WriteString("You are in exec mode: make the requested changes directly using the available tools.\n")
	}
	return b.String()
}

// retryEventEmitter adapts retry.Event into the workspace's chat event
// stream so subscribers see auto-retry-scheduled/starting/abandoned
// alongside the stream's own events.
func (e *Engine) retryEventEmitter(workspaceID string) func(retry.Event) {
	return func(ev retry.Event) {
		e.chatHub.publish(stream.Event{
			Type:        stream.EventType(ev.Type),
			WorkspaceID: workspaceID,
			Message:     ev.Reason,
			Timestamp:   ev.ScheduledAt,
		})
	}
}

// sessionErrorHandler surfaces non-retryable session errors onto the chat
// event stream as a final error event.
func (e *Engine) sessionErrorHandler(workspaceID string) func(error) {
	return func(err error) {
		e.chatHub.publish(stream.Event{
			Type:        stream.EventError,
			WorkspaceID: workspaceID,
			ErrorType:   "unknown",
			Message:     err.Error(),
		})
	}
}
