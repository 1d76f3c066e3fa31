// Conversion between internal types (message.Message, engine.WorkspaceIdentity,
// stream.Event) and their dto/v1 wire shapes.
package server

import (
	"github.com/mux-run/mux/backend/internal/engine"
	"github.com/mux-run/mux/backend/internal/message"
	"github.com/mux-run/mux/backend/internal/stream"
	v1 "github.com/mux-run/mux/backend/internal/server/dto/v1"
)

func partToV1(p message.Part) v1.Part {
	return v1.Part{
		Type:       string(p.Type),
		Text:       p.Text,
		ToolName:   p.ToolName,
		ToolCallID: p.ToolCallID,
		Input:      rawOrNil(p.Input),
		State:      string(p.State),
		Output:     rawOrNil(p.Output),
		Path:       p.Path,
		Content:    p.Content,
		MediaType:  p.MediaType,
		URL:        p.URL,
	}
}

func rawOrNil(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func metadataToV1(m message.Metadata) v1.Metadata {
	return v1.Metadata{
		Timestamp:       m.Timestamp,
		HistorySequence: m.HistorySequence,
		Model:           m.Model,
		Mode:            string(m.Mode),
		Partial:         m.Partial,
		Compacted:       m.Compacted,
		Error:           m.Error,
		ErrorType:       m.ErrorType,
	}
}

func messageToV1(m message.Message) v1.Message {
	parts := make([]v1.Part, len(m.Parts))
	for i, p := range m.Parts {
		parts[i] = partToV1(p)
	}
	return v1.Message{
		ID:       m.ID,
		Role:     string(m.Role),
		Parts:    parts,
		Metadata: metadataToV1(m.Metadata),
	}
}

func runtimeConfigToV1(c engine.RuntimeConfig) v1.RuntimeConfig {
	return v1.RuntimeConfig{
		Kind:         string(c.Kind),
		SrcBaseDir:   c.SrcBaseDir,
		Host:         c.Host,
		Port:         c.Port,
		User:         c.User,
		IdentityFile: c.IdentityFile,
		Image:        c.Image,
	}
}

func workspaceToV1(id engine.WorkspaceIdentity) v1.Workspace {
	return v1.Workspace{
		ID:                  id.ID,
		Name:                id.Name,
		Title:               id.Title,
		ProjectPath:         id.ProjectPath,
		ProjectName:         id.ProjectName,
		NamedWorkspacePath:  id.NamedWorkspacePath,
		CreatedAt:           id.CreatedAt,
		RuntimeConfig:       runtimeConfigToV1(id.RuntimeConfig),
		IncompatibleRuntime: id.IncompatibleRuntime,
	}
}

func runtimeConfigFromV1(c v1.RuntimeConfig) engine.RuntimeConfig {
	return engine.RuntimeConfig{
		Kind:         engine.RuntimeKind(c.Kind),
		SrcBaseDir:   c.SrcBaseDir,
		Host:         c.Host,
		Port:         c.Port,
		User:         c.User,
		IdentityFile: c.IdentityFile,
		Image:        c.Image,
	}
}

func messageFromV1(m v1.Message) message.Message {
	parts := make([]message.Part, len(m.Parts))
	for i, p := range m.Parts {
		parts[i] = message.Part{
			Type:       message.PartType(p.Type),
			Text:       p.Text,
			ToolName:   p.ToolName,
			ToolCallID: p.ToolCallID,
			Path:       p.Path,
			Content:    p.Content,
			MediaType:  p.MediaType,
			URL:        p.URL,
		}
	}
	return message.Message{
		ID:    m.ID,
		Role:  message.Role(m.Role),
		Parts: parts,
		Metadata: message.Metadata{
			Timestamp:       m.Metadata.Timestamp,
			HistorySequence: m.Metadata.HistorySequence,
			Model:           m.Metadata.Model,
			Mode:            message.Mode(m.Metadata.Mode),
			Partial:         m.Metadata.Partial,
			Compacted:       m.Metadata.Compacted,
			Error:           m.Metadata.Error,
			ErrorType:       m.Metadata.ErrorType,
		},
	}
}

func streamEventToV1(ev stream.Event) v1.StreamEvent {
	out := v1.StreamEvent{
		Type:            string(ev.Type),
		WorkspaceID:     ev.WorkspaceID,
		MessageID:       ev.MessageID,
		Model:           ev.Model,
		HistorySequence: ev.HistorySequence,
		Delta:           ev.Delta,
		ToolCallID:      ev.ToolCallID,
		ToolName:        ev.ToolName,
		PartialInput:    ev.PartialInput,
		ToolResult:      rawOrNil(ev.ToolResult),
		ErrorType:       ev.ErrorType,
		Message:         ev.Message,
	}
	if len(ev.Parts) > 0 {
		out.Parts = make([]v1.Part, len(ev.Parts))
		for i, p := range ev.Parts {
			out.Parts[i] = partToV1(p)
		}
		md := metadataToV1(ev.Metadata)
		out.Metadata = &md
	}
	return out
}

func metadataEventToV1(ev engine.MetadataEvent) v1.MetadataEvent {
	out := v1.MetadataEvent{WorkspaceID: ev.WorkspaceID}
	if ev.Identity != nil {
		w := workspaceToV1(*ev.Identity)
		out.Workspace = &w
	}
	return out
}
