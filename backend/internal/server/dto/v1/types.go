// Package v1 holds the exported request/response types for the v1 HTTP API,
// kept separate from internal/message and internal/engine so the wire shape
// can evolve independently of the in-process types. A code generator reads
// Routes (see routes.go) to produce typed TypeScript/Kotlin clients.
package v1

import "time"

// Part mirrors message.Part for wire transport.
type Part struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	ToolName   string `json:"toolName,omitempty"`
	ToolCallID string `json:"toolCallId,omitempty"`
	Input      any    `json:"input,omitempty"`
	State      string `json:"state,omitempty"`
	Output     any    `json:"output,omitempty"`

	Path      string `json:"path,omitempty"`
	Content   string `json:"content,omitempty"`
	MediaType string `json:"mediaType,omitempty"`

	URL string `json:"url,omitempty"`
}

// Metadata mirrors message.Metadata for wire transport.
type Metadata struct {
	Timestamp       time.Time `json:"timestamp"`
	HistorySequence int64     `json:"historySequence,omitempty"`
	Model           string    `json:"model,omitempty"`
	Mode            string    `json:"mode,omitempty"`
	Partial         bool      `json:"partial,omitempty"`
	Compacted       bool      `json:"compacted,omitempty"`
	Error           string    `json:"error,omitempty"`
	ErrorType       string    `json:"errorType,omitempty"`
}

// Message mirrors message.Message for wire transport.
type Message struct {
	ID       string   `json:"id"`
	Role     string   `json:"role"`
	Parts    []Part   `json:"parts"`
	Metadata Metadata `json:"metadata"`
}

// RuntimeConfig mirrors engine.RuntimeConfig for wire transport.
type RuntimeConfig struct {
	Kind         string `json:"kind,omitempty"`
	SrcBaseDir   string `json:"srcBaseDir,omitempty"`
	Host         string `json:"host,omitempty"`
	Port         int    `json:"port,omitempty"`
	User         string `json:"user,omitempty"`
	IdentityFile string `json:"identityFile,omitempty"`
	Image        string `json:"image,omitempty"`
}

// Workspace mirrors engine.WorkspaceIdentity for wire transport.
type Workspace struct {
	ID                   string        `json:"id"`
	Name                 string        `json:"name"`
	Title                string        `json:"title"`
	ProjectPath          string        `json:"projectPath"`
	ProjectName          string        `json:"projectName"`
	NamedWorkspacePath   string        `json:"namedWorkspacePath"`
	CreatedAt            time.Time     `json:"createdAt"`
	RuntimeConfig        RuntimeConfig `json:"runtimeConfig,omitempty"`
	IncompatibleRuntime  string        `json:"incompatibleRuntime,omitempty"`
}

// EmptyReq is used for endpoints that take no request body.
type EmptyReq struct{}

// StatusResp is a common response for mutation endpoints.
type StatusResp struct {
	Status string `json:"status"`
}

// SendMessageReq is the request body for POST /api/v1/workspaces/{id}/messages.
type SendMessageReq struct {
	WorkspaceID   string `path:"id" json:"-"`
	Text          string `json:"text"`
	Mode          string `json:"mode,omitempty"`
	EditMessageID string `json:"editMessageId,omitempty"`
	Synthetic     bool   `json:"synthetic,omitempty"`
}

// InterruptStreamReq is the request body for
// POST /api/v1/workspaces/{id}/interrupt.
type InterruptStreamReq struct {
	WorkspaceID    string `path:"id" json:"-"`
	AbandonPartial bool   `json:"abandonPartial,omitempty"`
}

// TruncateHistoryReq is the request body for
// POST /api/v1/workspaces/{id}/history/truncate.
type TruncateHistoryReq struct {
	WorkspaceID string  `path:"id" json:"-"`
	Fraction    float64 `json:"fraction"`
}

// TruncateHistoryResp reports the history sequence numbers removed.
type TruncateHistoryResp struct {
	RemovedSequences []int64 `json:"removedSequences"`
}

// ReplaceHistoryReq is the request body for
// POST /api/v1/workspaces/{id}/history/replace.
type ReplaceHistoryReq struct {
	WorkspaceID string  `path:"id" json:"-"`
	Summary     Message `json:"summary"`
}

// SetRetryEnabledReq is the request body for
// POST /api/v1/workspaces/{id}/retry.
type SetRetryEnabledReq struct {
	WorkspaceID string `path:"id" json:"-"`
	Enabled     bool   `json:"enabled"`
}

// ExecuteBashReq is the request body for
// POST /api/v1/workspaces/{id}/bash.
type ExecuteBashReq struct {
	WorkspaceID    string `path:"id" json:"-"`
	Script         string `json:"script"`
	Cwd            string `json:"cwd,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty"`
}

// ExecuteBashResp is the response body for ExecuteBashReq.
type ExecuteBashResp struct {
	ExitCode        int    `json:"exitCode"`
	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	TruncatedMarker string `json:"truncatedMarker,omitempty"`
}

// CreateWorkspaceReq is the request body for POST /api/v1/workspaces.
type CreateWorkspaceReq struct {
	ProjectPath   string        `json:"projectPath"`
	Title         string        `json:"title"`
	RuntimeConfig RuntimeConfig `json:"runtimeConfig,omitempty"`
	InitHooks     []string      `json:"initHooks,omitempty"`
}

// ForkWorkspaceReq is the request body for
// POST /api/v1/workspaces/{id}/fork.
type ForkWorkspaceReq struct {
	WorkspaceID string `path:"id" json:"-"`
	Title       string `json:"title"`
}

// RenameWorkspaceReq is the request body for
// POST /api/v1/workspaces/{id}/rename.
type RenameWorkspaceReq struct {
	WorkspaceID string `path:"id" json:"-"`
	Title       string `json:"title"`
}

// DeleteWorkspaceReq is the request body for
// DELETE /api/v1/workspaces/{id}.
type DeleteWorkspaceReq struct {
	WorkspaceID string `path:"id" json:"-"`
	Force       bool   `json:"force,omitempty"`
}

// WorkspaceIDReq is used by endpoints keyed only on the {id} path param.
type WorkspaceIDReq struct {
	WorkspaceID string `path:"id" json:"-"`
}

// BranchesResp is the response body for listBranches.
type BranchesResp struct {
	Branches []string `json:"branches"`
}

// HistoryResp is the response body for getHistory.
type HistoryResp struct {
	Messages []Message `json:"messages"`
}

// StreamEvent mirrors stream.Event for SSE/websocket transport.
type StreamEvent struct {
	Type            string    `json:"type"`
	WorkspaceID     string    `json:"workspaceId"`
	MessageID       string    `json:"messageId,omitempty"`
	Model           string    `json:"model,omitempty"`
	HistorySequence int64     `json:"historySequence,omitempty"`
	Delta           string    `json:"delta,omitempty"`
	ToolCallID      string    `json:"toolCallId,omitempty"`
	ToolName        string    `json:"toolName,omitempty"`
	PartialInput    string    `json:"partialInput,omitempty"`
	ToolResult      any       `json:"toolResult,omitempty"`
	Parts           []Part    `json:"parts,omitempty"`
	Metadata        *Metadata `json:"metadata,omitempty"`
	ErrorType       string    `json:"errorType,omitempty"`
	Message         string    `json:"message,omitempty"`
}

// MetadataEvent mirrors engine.MetadataEvent for the process-wide metadata
// channel; Workspace is nil after a delete.
type MetadataEvent struct {
	WorkspaceID string     `json:"workspaceId"`
	Workspace   *Workspace `json:"workspace"`
}
