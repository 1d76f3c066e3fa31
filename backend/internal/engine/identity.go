package engine

import "time"

// RuntimeKind tags which Runtime variant a workspace was created against.
type RuntimeKind string

// Runtime kinds.
const (
	RuntimeLocal        RuntimeKind = "local"
	RuntimeSSH          RuntimeKind = "ssh"
	RuntimeDocker       RuntimeKind = "docker"
	RuntimeDevcontainer RuntimeKind = "devcontainer"
)

// RuntimeConfig is the tagged union persisted on WorkspaceIdentity
// describing which Runtime variant owns the workspace and how to reach it.
// Exactly the fields matching Kind are meaningful.
type RuntimeConfig struct {
	Kind RuntimeKind `json:"kind"`

	// RuntimeLocal
	SrcBaseDir string `json:"srcBaseDir,omitempty"`

	// RuntimeSSH
	Host         string `json:"host,omitempty"`
	Port         int    `json:"port,omitempty"`
	User         string `json:"user,omitempty"`
	IdentityFile string `json:"identityFile,omitempty"`

	// RuntimeDocker / RuntimeDevcontainer
	Image string `json:"image,omitempty"`
}

// WorkspaceIdentity is the stable, process-wide record of one workspace:
// everything the engine needs to address it without consulting the
// filesystem. Immutable except Name/NamedWorkspacePath (via rename) and
// Title (via regenerate).
type WorkspaceIdentity struct {
	ID                 string        `json:"id"`
	Name               string        `json:"name"`
	Title              string        `json:"title"`
	ProjectPath        string        `json:"projectPath"`
	ProjectName        string        `json:"projectName"`
	NamedWorkspacePath string        `json:"namedWorkspacePath"`
	CreatedAt          time.Time     `json:"createdAt"`
	RuntimeConfig      RuntimeConfig `json:"runtimeConfig,omitempty"`
	// IncompatibleRuntime is set when the runtime variant that created this
	// workspace is no longer configured/reachable; the workspace is listed
	// but rejects new sends until reconciled.
	IncompatibleRuntime string `json:"incompatibleRuntime,omitempty"`
}
