package transform

import (
	"fmt"

	"github.com/mux-run/mux/backend/internal/message"
)

// AnthropicShape implements ProviderShape for the Anthropic Messages API:
// adjacent reasoning parts are merged, cache-control markers are applied to
// the last message's content, and alternating user/assistant roles plus
// non-empty content are checked (non-fatally) at the end of the pipeline.
type AnthropicShape struct{}

// Reshape merges adjacent reasoning parts within each message.
func (AnthropicShape) Reshape(msgs []message.Message) []message.Message {
	for i := range msgs {
		parts := msgs[i].Parts
		merged := parts[:0:0]
		for _, p := range parts {
			if p.Type == message.PartReasoning && len(merged) > 0 && merged[len(merged)-1].Type == message.PartReasoning {
				merged[len(merged)-1].Text += p.Text
				continue
			}
			merged = append(merged, p)
		}
		msgs[i].Parts = merged
	}
	return msgs
}

// ApplyCacheMarkers returns msgs unchanged; prompt-cache markers are added
// by the anthropicprov adapter when it constructs the request.
func (AnthropicShape) ApplyCacheMarkers(msgs []message.Message) []message.Message {
	// Cache-control application happens at request construction in
	// anthropicprov, which always marks the last message and last tool
	// definition; this pass is a no-op placeholder so the pipeline's
	// ordering (cache markers after shape transforms, before validation)
	// stays explicit for other providers that do need a transform-stage hook.
	return msgs
}

// Validate checks alternating user/assistant roles and non-empty content,
// returning human-readable warnings rather than failing.
func (AnthropicShape) Validate(msgs []message.Message) []string {
	var warnings []string
	var lastRole message.Role
	for i, m := range msgs {
		if len(m.Parts) == 0 {
			warnings = append(warnings, fmt.Sprintf("message %d (%s): empty content", i, m.Role))
		}
		if i > 0 && m.Role == lastRole && m.Role != message.RoleSystem {
			warnings = append(warnings, fmt.Sprintf("message %d: consecutive %s messages", i, m.Role))
		}
		lastRole = m.Role
	}
	return warnings
}
