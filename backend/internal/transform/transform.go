// Package transform implements the ordered pipeline applied to a
// workspace's raw history before it is sent to a provider: filtering,
// sentinel/context injection, redaction, and provider-shape conversion.
// None of these passes mutate the persisted history — each operates on a
// copy and only the provider-facing view is trimmed or annotated.
package transform

import (
	"encoding/json"

	"github.com/mux-run/mux/backend/internal/message"
)

// FileChange describes a file edited externally between turns, to be
// surfaced to the model as a synthetic notification.
type FileChange struct {
	Path string
	Diff string
}

// Options configures Pipeline.Run with the context each pass needs.
type Options struct {
	SupportsExtendedThinking bool
	ModeTransition           *ModeTransition
	ExternalFileChanges      []FileChange
	PostCompactionAttachments []message.Part
	RedactionPolicy          RedactionPolicy
	Provider                 ProviderShape
}

// ModeTransition describes a plan→exec transition requiring injected
// context; only that direction carries the plan file's content forward.
type ModeTransition struct {
	From, To    message.Mode
	PlanContent string
}

// RedactionPolicy decides whether a tool output part should be trimmed for
// the provider-facing view, and what to replace it with.
type RedactionPolicy interface {
	Redact(p message.Part) (replacement string, redact bool)
}

// ProviderShape captures the provider-specific passes 9–11: shape
// transforms, cache markers, and structural validation.
type ProviderShape interface {
	// Reshape merges/reorders parts for this provider's required message
	// shape (e.g. Anthropic reasoning-part merging).
	Reshape(msgs []message.Message) []message.Message
	// ApplyCacheMarkers is a no-op for providers that don't support
	// caller-driven caching.
	ApplyCacheMarkers(msgs []message.Message) []message.Message
	// Validate logs (does not fail) structural violations.
	Validate(msgs []message.Message) []string
}

// Run applies all eleven passes in order and returns the provider-facing
// message slice plus any non-fatal validation warnings from pass 11.
func Run(history []message.Message, opts Options) ([]message.Message, []string) {
	msgs := cloneAll(history)

	msgs = filterEmptyAssistant(msgs, opts.SupportsExtendedThinking) // 1
	msgs = addContinueSentinel(msgs)                                 // 2
	msgs = injectModeTransition(msgs, opts.ModeTransition)            // 3
	msgs = injectFileChangeNotifications(msgs, opts.ExternalFileChanges) // 4
	msgs = injectPostCompactionAttachments(msgs, opts.PostCompactionAttachments) // 5
	msgs = redactHeavyToolOutputs(msgs, opts.RedactionPolicy)         // 6
	msgs = sanitizeToolInputs(msgs)                                   // 7
	msgs = dropUnfinishedToolCalls(msgs)                              // 8

	if opts.Provider != nil {
		msgs = opts.Provider.Reshape(msgs)           // 9
		msgs = opts.Provider.ApplyCacheMarkers(msgs) // 10
		warnings := opts.Provider.Validate(msgs)     // 11
		return msgs, warnings
	}
	return msgs, nil
}

func cloneAll(msgs []message.Message) []message.Message {
	out := make([]message.Message, len(msgs))
	for i, m := range msgs {
		parts := make([]message.Part, len(m.Parts))
		copy(parts, m.Parts)
		m.Parts = parts
		out[i] = m
	}
	return out
}

// 1. Filter empty assistant messages, unless the model supports extended
// thinking, in which case reasoning-only messages are preserved.
func filterEmptyAssistant(msgs []message.Message, supportsExtendedThinking bool) []message.Message {
	out := msgs[:0:0]
	for _, m := range msgs {
		if m.HasOnlyReasoning() {
			if !supportsExtendedThinking {
				continue
			}
		} else if m.IsEmptyAssistant() {
			continue
		}
		out = append(out, m)
	}
	return out
}

// 2. Add [CONTINUE] to a trailing message marked partial:true.
func addContinueSentinel(msgs []message.Message) []message.Message {
	if len(msgs) == 0 {
		return msgs
	}
	last := &msgs[len(msgs)-1]
	if last.Metadata.Partial {
		last.AppendContinueSentinel()
	}
	return msgs
}

// 3. On a plan→exec transition, inject the plan file content as a
// synthetic user message so the model has exec-phase context.
func injectModeTransition(msgs []message.Message, mt *ModeTransition) []message.Message {
	if mt == nil || mt.From != message.ModePlan || mt.To != message.ModeExec {
		return msgs
	}
	note := message.Message{
		Role: message.RoleUser,
		Parts: []message.Part{{
			Type: message.PartText,
			Text: "Switching from plan to exec mode. Approved plan:\n\n" + mt.PlanContent,
		}},
	}
	return append(msgs, note)
}

// 4. Inject synthetic user messages for files edited externally between
// turns.
func injectFileChangeNotifications(msgs []message.Message, changes []FileChange) []message.Message {
	if len(changes) == 0 {
		return msgs
	}
	text := "The following files changed on disk since the last turn:\n"
	for _, c := range changes {
		text += "\n" + c.Path + ":\n" + c.Diff
	}
	return append(msgs, message.Message{
		Role:  message.RoleUser,
		Parts: []message.Part{{Type: message.PartText, Text: text}},
	})
}

// 5. After a compaction summary, inject the plan file and recently edited
// files so context lost to compaction is restored.
func injectPostCompactionAttachments(msgs []message.Message, attachments []message.Part) []message.Message {
	if len(attachments) == 0 {
		return msgs
	}
	idx := -1
	for i, m := range msgs {
		if m.Metadata.Compacted {
			idx = i
		}
	}
	if idx < 0 {
		return msgs
	}
	note := message.Message{Role: message.RoleUser, Parts: attachments}
	out := make([]message.Message, 0, len(msgs)+1)
	out = append(out, msgs[:idx+1]...)
	out = append(out, note)
	out = append(out, msgs[idx+1:]...)
	return out
}

// 6. Redact heavy tool outputs per policy; the persisted history this
// slice was cloned from is untouched.
func redactHeavyToolOutputs(msgs []message.Message, policy RedactionPolicy) []message.Message {
	if policy == nil {
		return msgs
	}
	for i := range msgs {
		for j := range msgs[i].Parts {
			p := &msgs[i].Parts[j]
			if p.Type != message.PartToolCall || len(p.Output) == 0 {
				continue
			}
			if replacement, redact := policy.Redact(*p); redact {
				p.Output = json.RawMessage(`"` + replacement + `"`)
			}
		}
	}
	return msgs
}

// 7. Sanitize malformed tool inputs to valid JSON objects so the provider
// never sees unparseable tool_use input in history.
func sanitizeToolInputs(msgs []message.Message) []message.Message {
	for i := range msgs {
		for j := range msgs[i].Parts {
			p := &msgs[i].Parts[j]
			if p.Type != message.PartToolCall {
				continue
			}
			var v any
			if len(p.Input) == 0 || json.Unmarshal(p.Input, &v) != nil {
				p.Input = json.RawMessage(`{}`)
			}
		}
	}
	return msgs
}

// 8. Convert to provider wire format: drop tool calls that never finished
// streaming (no terminal state).
func dropUnfinishedToolCalls(msgs []message.Message) []message.Message {
	for i := range msgs {
		kept := msgs[i].Parts[:0:0]
		for _, p := range msgs[i].Parts {
			if p.Type == message.PartToolCall && p.State == message.ToolCallStreaming {
				continue
			}
			kept = append(kept, p)
		}
		msgs[i].Parts = kept
	}
	return msgs
}
