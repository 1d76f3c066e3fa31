// Package localrt implements runtime.Runtime against the local filesystem
// using git worktrees for workspace isolation, a dedicated process group
// per executed command so the whole tree can be SIGKILLed on cancel, and
// creack/pty for interactive terminals.
package localrt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/mux-run/mux/backend/internal/gitutil"
	"github.com/mux-run/mux/backend/internal/runtime"
)

// Runtime is the Local runtime variant: projects live under SrcBaseDir and
// workspaces are git worktrees of the project repo.
type Runtime struct {
	SrcBaseDir string
}

// New returns a Local runtime rooted at srcBaseDir.
func New(srcBaseDir string) *Runtime {
	return &Runtime{SrcBaseDir: srcBaseDir}
}

var _ runtime.Runtime = (*Runtime)(nil)

// ResolvePath expands a leading "~" and returns an absolute path.
func (r *Runtime) ResolvePath(_ context.Context, p string) (string, error) {
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(abs); err != nil {
		if os.IsNotExist(err) {
			return "", runtime.ErrPathNotFound
		}
		return "", err
	}
	return abs, nil
}

func (r *Runtime) workspacePath(projectPath, name string) string {
	return filepath.Join(filepath.Dir(projectPath), filepath.Base(projectPath)+"-worktrees", name)
}

// CreateWorkspace runs "git worktree add" off trunkBranch.
func (r *Runtime) CreateWorkspace(ctx context.Context, p runtime.CreateWorkspaceParams) (runtime.CreateWorkspaceResult, error) {
	path := r.workspacePath(p.ProjectPath, p.DirectoryName)
	if _, err := os.Stat(path); err == nil {
		return runtime.CreateWorkspaceResult{Success: false, Error: runtime.ErrWorkspaceExists.Error()}, nil
	}

	if err := gitutil.Fetch(ctx, p.ProjectPath); err != nil {
		return runtime.CreateWorkspaceResult{}, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return runtime.CreateWorkspaceResult{}, err
	}
	if err := worktreeAdd(ctx, p.ProjectPath, path, p.BranchName, p.TrunkBranch); err != nil {
		return runtime.CreateWorkspaceResult{Success: false, Error: err.Error()}, nil
	}
	return runtime.CreateWorkspaceResult{Success: true, WorkspacePath: path}, nil
}

func worktreeAdd(ctx context.Context, repoDir, worktreePath, branch, trunkBranch string) error {
	cmd := exec.CommandContext(ctx, "git", "worktree", "add", "-b", branch, worktreePath, "origin/"+trunkBranch) //nolint:gosec // internal git state.
	cmd.Dir = repoDir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git worktree add: %w: %s", err, stderr.String())
	}
	return nil
}

// ForkWorkspace creates a new worktree at the source workspace's HEAD.
// Chat history is not copied here; that's the engine's concern.
func (r *Runtime) ForkWorkspace(ctx context.Context, p runtime.ForkWorkspaceParams) (runtime.Result, error) {
	srcPath := r.workspacePath(p.ProjectPath, p.SourceName)
	newPath := r.workspacePath(p.ProjectPath, p.NewName)
	if _, err := os.Stat(newPath); err == nil {
		return runtime.Result{Success: false, Error: runtime.ErrWorkspaceExists.Error()}, nil
	}
	head, err := gitutil.CurrentBranch(ctx, srcPath)
	if err != nil {
		return runtime.Result{}, err
	}
	branch := p.NewName
	cmd := exec.CommandContext(ctx, "git", "worktree", "add", "-b", branch, newPath, head) //nolint:gosec // internal git state.
	cmd.Dir = p.ProjectPath
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return runtime.Result{Success: false, Error: fmt.Sprintf("git worktree add: %v: %s", err, stderr.String())}, nil
	}
	return runtime.Result{Success: true}, nil
}

// RenameWorkspace moves a worktree directory; the branch keeps its old
// name. Callers
// are responsible for rejecting the rename while a stream is active.
func (r *Runtime) RenameWorkspace(ctx context.Context, projectPath, oldName, newName string) (runtime.RenameResult, error) {
	oldPath := r.workspacePath(projectPath, oldName)
	newPath := r.workspacePath(projectPath, newName)
	if _, err := os.Stat(newPath); err == nil {
		return runtime.RenameResult{Success: false, Error: runtime.ErrWorkspaceExists.Error()}, nil
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return runtime.RenameResult{Success: false, Error: err.Error()}, nil
	}
	return runtime.RenameResult{Success: true, OldPath: oldPath, NewPath: newPath}, nil
}

// DeleteWorkspace removes a worktree, refusing when it has uncommitted
// changes unless force is set.
func (r *Runtime) DeleteWorkspace(ctx context.Context, projectPath, name string, force bool) (runtime.Result, error) {
	path := r.workspacePath(projectPath, name)
	if !force {
		dirty, err := isDirty(ctx, path)
		if err != nil {
			return runtime.Result{}, err
		}
		if dirty {
			return runtime.Result{Success: false, Error: "workspace has uncommitted changes"}, nil
		}
	}
	args := []string{"worktree", "remove", path}
	if force {
		args = append(args, "--force")
	}
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = projectPath
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return runtime.Result{Success: false, Error: stderr.String()}, nil
	}
	return runtime.Result{Success: true}, nil
}

func isDirty(ctx context.Context, path string) (bool, error) {
	cmd := exec.CommandContext(ctx, "git", "status", "--porcelain")
	cmd.Dir = path
	out, err := cmd.Output()
	if err != nil {
		return false, err
	}
	return len(bytes.TrimSpace(out)) > 0, nil
}

// InitWorkspace runs configured post-create hooks in sequence, passing
// each line of a hook's stdout/stderr to InitLogger once that hook exits.
func (r *Runtime) InitWorkspace(ctx context.Context, p runtime.InitWorkspaceParams) (runtime.ExecuteBashResult, error) {
	var last runtime.ExecuteBashResult
	for _, hook := range p.Hooks {
		res, err := r.ExecuteBash(ctx, hook, runtime.ExecuteBashOptions{Cwd: p.WorkspacePath})
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
			for _, line := range strings.Split(res.Stderr, "\n") {
				if line != "" {
					p.InitLogger(line, true)
				}
			}
		}
		if res.ExitCode != 0 {
			break
		}
	}
	return last, nil
}

// GetWorkspacePath returns the filesystem path of a workspace's worktree.
func (r *Runtime) GetWorkspacePath(_ context.Context, projectPath, name string) (string, error) {
	path := r.workspacePath(projectPath, name)
	if _, err := os.Stat(path); err != nil {
		return "", runtime.ErrPathNotFound
	}
	return path, nil
}

// ExecuteBash runs script via "bash -c" in its own process group so the
// whole tree can be killed on cancel or timeout, with secrets passed as
// environment and editor/pager prompts forced off.
func (r *Runtime) ExecuteBash(ctx context.Context, script string, opts runtime.ExecuteBashOptions) (runtime.ExecuteBashResult, error) {
	if opts.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "bash", "-c", script)
	cmd.Dir = opts.Cwd
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = append(os.Environ(), envSlice(opts.Secrets)...)
	for k, v := range runtime.NoOpEnvOverrides {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	if opts.Niceness != 0 {
		cmd = exec.CommandContext(ctx, "nice", append([]string{"-n", fmt.Sprint(opts.Niceness), "bash", "-c", script})...)
		cmd.Dir = opts.Cwd
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		cmd.Env = append(os.Environ(), envSlice(opts.Secrets)...)
		for k, v := range runtime.NoOpEnvOverrides {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	// On cancellation/timeout, kill the whole process group, not just the
	// direct child, since the script may have spawned children of its own.
	if ctx.Err() != nil && cmd.Process != nil {
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	result := runtime.ExecuteBashResult{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
	} else if runErr != nil && ctx.Err() == nil {
		return result, runErr
	}
	return applyOverflowPolicy(result, opts.OverflowPolicy), nil
}

const maxInlineOutput = 1 << 20 // 1 MiB

func applyOverflowPolicy(res runtime.ExecuteBashResult, policy runtime.OverflowPolicy) runtime.ExecuteBashResult {
	total := len(res.Stdout) + len(res.Stderr)
	if total <= maxInlineOutput {
		return res
	}
	switch policy {
	case runtime.OverflowTempfile:
		f, err := os.CreateTemp("", "mux-bash-output-*.log")
		if err == nil {
			defer f.Close()
			_, _ = f.WriteString(res.Stdout)
			_, _ = f.WriteString(res.Stderr)
			res.TruncatedMarker = f.Name()
		}
	default: // OverflowTruncate
		if len(res.Stdout) > maxInlineOutput {
			res.Stdout = res.Stdout[:maxInlineOutput]
		}
		if len(res.Stderr) > maxInlineOutput {
			res.Stderr = res.Stderr[:maxInlineOutput]
		}
		res.TruncatedMarker = "truncated"
	}
	return res
}

func envSlice(secrets map[string]string) []string {
	out := make([]string, 0, len(secrets))
	for k, v := range secrets {
		out = append(out, k+"="+v)
	}
	return out
}

// OpenTerminal starts an interactive bash shell attached to a pty.
func (r *Runtime) OpenTerminal(ctx context.Context, cwd string) (runtime.Terminal, error) {
	cmd := exec.CommandContext(ctx, "bash", "-l")
	cmd.Dir = cwd
	f, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("localrt: opening pty: %w", err)
	}
	return &terminal{f: f, cmd: cmd}, nil
}

type terminal struct {
	f   *os.File
	cmd *exec.Cmd
}

func (t *terminal) Read(p []byte) (int, error)  { return t.f.Read(p) }
func (t *terminal) Write(p []byte) (int, error) { return t.f.Write(p) }

func (t *terminal) Resize(cols, rows int) error {
	return pty.Setsize(t.f, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

func (t *terminal) Close() error {
	_ = t.f.Close()
	if t.cmd.Process != nil {
		_ = syscall.Kill(-t.cmd.Process.Pid, syscall.SIGKILL)
	}
	return nil
}
