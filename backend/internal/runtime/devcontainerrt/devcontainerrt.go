// Package devcontainerrt wraps dockerrt, taking the image to run from a
// workspace's .devcontainer/devcontainer.json "image" field (a build-only
// devcontainer.json is rejected) before delegating every other operation to the underlying Docker
// runtime. devcontainer.json permits comments and trailing commas, so it
// is parsed as JSONC via the same titanous/json5 decoder config uses.
package devcontainerrt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/titanous/json5"

	"github.com/mux-run/mux/backend/internal/runtime"
	"github.com/mux-run/mux/backend/internal/runtime/dockerrt"
)

// spec is the subset of devcontainer.json this runtime understands.
type spec struct {
	Image      string `json:"image,omitempty"`
	Build      *build `json:"build,omitempty"`
	WorkspaceFolder string `json:"workspaceFolder,omitempty"`
}

type build struct {
	Dockerfile string `json:"dockerfile"`
	Context    string `json:"context"`
}

// Runtime derives a Docker image from each project's devcontainer.json and
// delegates workspace lifecycle operations to an underlying Docker runtime.
type Runtime struct {
	docker *dockerrt.Runtime
}

var _ runtime.Runtime = (*Runtime)(nil)

// New resolves projectPath's .devcontainer/devcontainer.json and returns a
// Runtime backed by the image it names; a devcontainer.json with only a
// "build" section is rejected with an error.
func New(ctx context.Context, projectPath string) (*Runtime, error) {
	s, err := load(projectPath)
	if err != nil {
		return nil, err
	}
	image := s.Image
	if image == "" && s.Build != nil {
		// Building from a Dockerfile is out of scope for this iteration;
		// operators are expected to pre-build and tag the image, then
		// reference it directly via "image" in devcontainer.json.
		return nil, fmt.Errorf("devcontainerrt: build-from-Dockerfile devcontainer.json is not supported, set \"image\" instead")
	}
	if image == "" {
		return nil, fmt.Errorf("devcontainerrt: devcontainer.json has neither image nor build")
	}
	d, err := dockerrt.New(image)
	if err != nil {
		return nil, err
	}
	if s.WorkspaceFolder != "" {
		d.WorkDir = s.WorkspaceFolder
	}
	return &Runtime{docker: d}, nil
}

func load(projectPath string) (*spec, error) {
	path := filepath.Join(projectPath, ".devcontainer", "devcontainer.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("devcontainerrt: reading %s: %w", path, err)
	}
	var s spec
	if err := json5.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("devcontainerrt: parsing %s: %w", path, err)
	}
	return &s, nil
}

func (r *Runtime) ResolvePath(ctx context.Context, p string) (string, error) {
	return r.docker.ResolvePath(ctx, p)
}

func (r *Runtime) CreateWorkspace(ctx context.Context, p runtime.CreateWorkspaceParams) (runtime.CreateWorkspaceResult, error) {
	return r.docker.CreateWorkspace(ctx, p)
}

func (r *Runtime) ForkWorkspace(ctx context.Context, p runtime.ForkWorkspaceParams) (runtime.Result, error) {
	return r.docker.ForkWorkspace(ctx, p)
}

func (r *Runtime) RenameWorkspace(ctx context.Context, projectPath, oldName, newName string) (runtime.RenameResult, error) {
	return r.docker.RenameWorkspace(ctx, projectPath, oldName, newName)
}

func (r *Runtime) DeleteWorkspace(ctx context.Context, projectPath, name string, force bool) (runtime.Result, error) {
	return r.docker.DeleteWorkspace(ctx, projectPath, name, force)
}

func (r *Runtime) InitWorkspace(ctx context.Context, p runtime.InitWorkspaceParams) (runtime.ExecuteBashResult, error) {
	return r.docker.InitWorkspace(ctx, p)
}

func (r *Runtime) GetWorkspacePath(ctx context.Context, projectPath, name string) (string, error) {
	return r.docker.GetWorkspacePath(ctx, projectPath, name)
}

func (r *Runtime) ExecuteBash(ctx context.Context, script string, opts runtime.ExecuteBashOptions) (runtime.ExecuteBashResult, error) {
	return r.docker.ExecuteBash(ctx, script, opts)
}

func (r *Runtime) OpenTerminal(ctx context.Context, cwd string) (runtime.Terminal, error) {
	return r.docker.OpenTerminal(ctx, cwd)
}
