// Package sshrt implements runtime.Runtime against a remote host reached by
// shelling out to the system ssh binary — the same subprocess-with-pipes
// shape the Codex backend uses to drive a relay over ssh, generalized from
// "ssh into a container relay" to "ssh into a configured host".
package sshrt

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/mux-run/mux/backend/internal/runtime"
)

// Runtime is the SSH runtime variant: a single remote host, reached over
// ssh, on which workspace worktrees live under RemoteBaseDir.
type Runtime struct {
	Host          string
	Port          int
	User          string
	IdentityFile  string
	RemoteBaseDir string
}

var _ runtime.Runtime = (*Runtime)(nil)

// New returns an SSH runtime for the given connection parameters.
func New(host string, port int, user, identityFile, remoteBaseDir string) *Runtime {
	return &Runtime{Host: host, Port: port, User: user, IdentityFile: identityFile, RemoteBaseDir: remoteBaseDir}
}

func (r *Runtime) sshArgs(extra ...string) []string {
	args := []string{}
	if r.Port != 0 {
		args = append(args, "-p", strconv.Itoa(r.Port))
	}
	if r.IdentityFile != "" {
		args = append(args, "-i", r.IdentityFile)
	}
	dest := r.Host
	if r.User != "" {
		dest = r.User + "@" + r.Host
	}
	args = append(args, dest)
	args = append(args, extra...)
	return args
}

// runRemote runs a single remote shell command over ssh and captures its
// output, mirroring codex.go's "ssh <dest> <remote command>" invocation
// shape without the JSON-RPC handshake layered on top.
func (r *Runtime) runRemote(ctx context.Context, remoteCmd string) (stdout, stderr string, exitCode int, err error) {
	args := r.sshArgs(remoteCmd)
	cmd := exec.CommandContext(ctx, "ssh", args...) //nolint:gosec // host/command are operator-configured, not raw user input.
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	runErr := cmd.Run()
	code := 0
	if ee, ok := runErr.(*exec.ExitError); ok {
		code = ee.ExitCode()
	} else if runErr != nil {
		return outBuf.String(), errBuf.String(), -1, fmt.Errorf("sshrt: ssh %s: %w", r.Host, runErr)
	}
	return outBuf.String(), errBuf.String(), code, nil
}

func (r *Runtime) workspacePath(projectPath, name string) string {
	return r.RemoteBaseDir + "/" + lastSegment(projectPath) + "-worktrees/" + name
}

func lastSegment(p string) string {
	p = strings.TrimRight(p, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

// ResolvePath expands "~" remotely and confirms the path exists.
func (r *Runtime) ResolvePath(ctx context.Context, p string) (string, error) {
	out, _, code, err := r.runRemote(ctx, fmt.Sprintf("p=$(eval echo %s) && test -e \"$p\" && echo \"$p\"", shQuote(p)))
	if err != nil {
		return "", err
	}
	if code != 0 {
		return "", runtime.ErrPathNotFound
	}
	return strings.TrimSpace(out), nil
}

// CreateWorkspace runs "git worktree add" on the remote host.
func (r *Runtime) CreateWorkspace(ctx context.Context, p runtime.CreateWorkspaceParams) (runtime.CreateWorkspaceResult, error) {
	path := r.workspacePath(p.ProjectPath, p.DirectoryName)
	_, _, existsCode, _ := r.runRemote(ctx, "test -d "+shQuote(path))
	if existsCode == 0 {
		return runtime.CreateWorkspaceResult{Success: false, Error: runtime.ErrWorkspaceExists.Error()}, nil
	}
	cmd := fmt.Sprintf(
		"mkdir -p %s && cd %s && git fetch origin && git worktree add -b %s %s origin/%s",
		shQuote(parentDir(path)), shQuote(p.ProjectPath), shQuote(p.BranchName), shQuote(path), shQuote(p.TrunkBranch),
	)
	_, stderr, code, err := r.runRemote(ctx, cmd)
	if err != nil {
		return runtime.CreateWorkspaceResult{}, err
	}
	if code != 0 {
		return runtime.CreateWorkspaceResult{Success: false, Error: stderr}, nil
	}
	return runtime.CreateWorkspaceResult{Success: true, WorkspacePath: path}, nil
}

func parentDir(p string) string {
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[:i]
	}
	return "."
}

// ForkWorkspace creates a new remote worktree at the source's HEAD.
func (r *Runtime) ForkWorkspace(ctx context.Context, p runtime.ForkWorkspaceParams) (runtime.Result, error) {
	newPath := r.workspacePath(p.ProjectPath, p.NewName)
	srcPath := r.workspacePath(p.ProjectPath, p.SourceName)
	cmd := fmt.Sprintf(
		"cd %s && head=$(git rev-parse --abbrev-ref HEAD) && cd %s && git worktree add -b %s %s \"$head\"",
		shQuote(srcPath), shQuote(p.ProjectPath), shQuote(p.NewName), shQuote(newPath),
	)
	_, stderr, code, err := r.runRemote(ctx, cmd)
	if err != nil {
		return runtime.Result{}, err
	}
	if code != 0 {
		return runtime.Result{Success: false, Error: stderr}, nil
	}
	return runtime.Result{Success: true}, nil
}

// RenameWorkspace moves the remote worktree directory.
func (r *Runtime) RenameWorkspace(ctx context.Context, projectPath, oldName, newName string) (runtime.RenameResult, error) {
	oldPath := r.workspacePath(projectPath, oldName)
	newPath := r.workspacePath(projectPath, newName)
	_, stderr, code, err := r.runRemote(ctx, fmt.Sprintf("mv %s %s", shQuote(oldPath), shQuote(newPath)))
	if err != nil {
		return runtime.RenameResult{}, err
	}
	if code != 0 {
		return runtime.RenameResult{Success: false, Error: stderr}, nil
	}
	return runtime.RenameResult{Success: true, OldPath: oldPath, NewPath: newPath}, nil
}

// DeleteWorkspace removes the remote worktree, refusing when dirty unless
// force is set.
func (r *Runtime) DeleteWorkspace(ctx context.Context, projectPath, name string, force bool) (runtime.Result, error) {
	path := r.workspacePath(projectPath, name)
	if !force {
		out, _, _, err := r.runRemote(ctx, fmt.Sprintf("cd %s && git status --porcelain", shQuote(path)))
		if err == nil && strings.TrimSpace(out) != "" {
			return runtime.Result{Success: false, Error: "workspace has uncommitted changes"}, nil
		}
	}
	forceFlag := ""
	if force {
		forceFlag = "--force"
	}
	cmd := fmt.Sprintf("cd %s && git worktree remove %s %s", shQuote(projectPath), forceFlag, shQuote(path))
	_, stderr, code, err := r.runRemote(ctx, cmd)
	if err != nil {
		return runtime.Result{}, err
	}
	if code != 0 {
		return runtime.Result{Success: false, Error: stderr}, nil
	}
	return runtime.Result{Success: true}, nil
}

// InitWorkspace runs configured hooks remotely in sequence.
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

// GetWorkspacePath returns the remote path of a workspace's worktree.
func (r *Runtime) GetWorkspacePath(ctx context.Context, projectPath, name string) (string, error) {
	path := r.workspacePath(projectPath, name)
	_, _, code, err := r.runRemote(ctx, "test -d "+shQuote(path))
	if err != nil {
		return "", err
	}
	if code != 0 {
		return "", runtime.ErrPathNotFound
	}
	return path, nil
}

// ExecuteBash runs script on the remote host with a timeout enforced
// locally (ctx cancellation tears down the ssh process, which in turn
// closes the remote shell).
func (r *Runtime) ExecuteBash(ctx context.Context, script string, opts runtime.ExecuteBashOptions) (runtime.ExecuteBashResult, error) {
	if opts.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	var envPrefix strings.Builder
	for k, v := range opts.Secrets {
		envPrefix.WriteString(k + "=" + shQuote(v) + " ")
	}
	for k, v := range runtime.NoOpEnvOverrides {
		envPrefix.WriteString(k + "=" + shQuote(v) + " ")
	}

	remoteCmd := fmt.Sprintf("cd %s && %sbash -c %s", shQuote(opts.Cwd), envPrefix.String(), shQuote(script))
	args := r.sshArgs(remoteCmd)
	cmd := exec.CommandContext(ctx, "ssh", args...) //nolint:gosec // host is operator-configured; script runs inside a single quoted remote bash -c.
	cmd.Stderr = &slogWriter{host: r.Host}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return runtime.ExecuteBashResult{}, err
	}
	if err := cmd.Start(); err != nil {
		return runtime.ExecuteBashResult{}, fmt.Errorf("sshrt: starting ssh: %w", err)
	}
	out, _ := io.ReadAll(stdout)
	runErr := cmd.Wait()

	result := runtime.ExecuteBashResult{Stdout: string(out)}
	if ee, ok := runErr.(*exec.ExitError); ok {
		result.ExitCode = ee.ExitCode()
	} else if runErr != nil && ctx.Err() == nil {
		return result, runErr
	}
	return result, nil
}

// OpenTerminal is not supported over the plain ssh-subprocess transport;
// an interactive PTY would require allocating one on the remote side (ssh
// -tt) and is left for a future iteration once a use case needs it.
func (r *Runtime) OpenTerminal(_ context.Context, _ string) (runtime.Terminal, error) {
	return nil, fmt.Errorf("sshrt: interactive terminals are not yet supported")
}

type slogWriter struct {
	host string
	buf  bytes.Buffer
}

func (w *slogWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		b := w.buf.Bytes()
		i := bytes.IndexByte(b, '\n')
		if i < 0 {
			break
		}
		line := string(b[:i])
		w.buf.Next(i + 1)
		slog.Warn("sshrt: remote stderr", "host", w.host, "line", line)
	}
	return len(p), nil
}

func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
