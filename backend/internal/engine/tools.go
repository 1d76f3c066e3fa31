package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"

	"github.com/mux-run/mux/backend/internal/diffstat"
	"github.com/mux-run/mux/backend/internal/runtime"
	"github.com/mux-run/mux/backend/internal/safety"
	"github.com/mux-run/mux/backend/internal/tool"
)

// toolBuiltins returns the runtime-bound handlers for every built-in tool
// name, so tool.Resolve can stay runtime-agnostic: every handler reaches
// the workspace exclusively through rt.ExecuteBash, the one operation
// every Runtime variant (local/ssh/docker/devcontainer) implements
// identically, rather than adding file-specific methods to the Runtime
// interface.
func (e *Engine) toolBuiltins(identity *WorkspaceIdentity, rt runtime.Runtime) map[tool.Name]tool.Handler {
	cwd := identity.NamedWorkspacePath
	return map[tool.Name]tool.Handler{
		tool.Bash:                 e.bashHandler(identity, rt, cwd),
		tool.FileRead:             e.fileReadHandler(rt, cwd),
		tool.FileEditInsert:       e.fileEditInsertHandler(rt, cwd),
		tool.FileEditReplaceLines: e.fileEditReplaceLinesHandler(rt, cwd),
		tool.ProposePlan:          e.proposePlanHandler(identity),
		tool.AskUserQuestion:      e.askUserQuestionHandler(identity),
		tool.Task:                 e.taskHandler(identity),
	}
}

type bashInput struct {
	Command        string `json:"command"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty"`
}

// bashResult is the JSON shape returned to the model for a bash tool call:
// runtime.ExecuteBashResult plus any safety findings from scanning the
// workspace's diff against the project's base branch after the command ran.
type bashResult struct {
	runtime.ExecuteBashResult
	SafetyIssues []safety.Issue `json:"safetyIssues,omitempty"`
}

func (e *Engine) bashHandler(identity *WorkspaceIdentity, rt runtime.Runtime, cwd string) tool.Handler {
	return func(ctx context.Context, input []byte) ([]byte, error) {
		var in bashInput
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, fmt.Errorf("bash: invalid input: %w", err)
		}
		timeout := in.TimeoutSeconds
		if timeout <= 0 {
			timeout = 120
		}
		res, err := rt.ExecuteBash(ctx, in.Command, runtime.ExecuteBashOptions{
			Cwd:            cwd,
			TimeoutSeconds: timeout,
			OverflowPolicy: runtime.OverflowTruncate,
		})
		if err != nil {
			return nil, err
		}
		out := bashResult{ExecuteBashResult: res}
		if res.ExitCode == 0 {
			out.SafetyIssues = e.scanWorkspaceSafety(ctx, identity)
		}
		return json.Marshal(out)
	}
}

// scanWorkspaceSafety runs the dangerous-content scan (large binaries,
// probable secrets) over the diff between identity's branch and its
// project's base branch. It only applies to RuntimeLocal workspaces, since
// it shells out to git directly against the workspace's local path; other
// runtime kinds skip the scan rather than risk running git against a path
// that isn't locally reachable. Failures are logged, not surfaced: a safety
// scan that can't run should never block the bash command it's auditing.
func (e *Engine) scanWorkspaceSafety(ctx context.Context, identity *WorkspaceIdentity) []safety.Issue {
	if k := identity.RuntimeConfig.Kind; k != RuntimeLocal && k != "" {
		return nil
	}
	proj, ok := e.cfg.ProjectForPath(identity.ProjectPath)
	if !ok {
		return nil
	}
	dir := identity.NamedWorkspacePath
	branch, base := identity.Name, proj.BaseBranch

	cmd := exec.CommandContext(ctx, "git", "diff", "--numstat", base+"..."+branch) //nolint:gosec // branch/base come from internal workspace state.
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		slog.Debug("safety scan: git diff --numstat failed", "workspace", identity.ID, "err", err)
		return nil
	}
	ds := diffstat.Parse(string(out))
	if len(ds) == 0 {
		return nil
	}
	issues, err := safety.Check(ctx, dir, branch, base, ds)
	if err != nil {
		slog.Debug("safety scan failed", "workspace", identity.ID, "err", err)
		return nil
	}
	return issues
}

type fileReadInput struct {
	Path      string `json:"path"`
	StartLine int    `json:"startLine,omitempty"`
	EndLine   int    `json:"endLine,omitempty"`
}

func (e *Engine) fileReadHandler(rt runtime.Runtime, cwd string) tool.Handler {
	return func(ctx context.Context, input []byte) ([]byte, error) {
		var in fileReadInput
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, fmt.Errorf("file_read: invalid input: %w", err)
		}
		script := fmt.Sprintf("cat -- %q", in.Path)
		if in.StartLine > 0 && in.EndLine >= in.StartLine {
			script = fmt.Sprintf("sed -n '%d,%dp' -- %q", in.StartLine, in.EndLine, in.Path)
		}
		res, err := rt.ExecuteBash(ctx, script, runtime.ExecuteBashOptions{Cwd: cwd, TimeoutSeconds: 30})
		if err != nil {
			return nil, err
		}
		if res.ExitCode != 0 {
			return nil, fmt.Errorf("file_read: %s: %s", in.Path, res.Stderr)
		}
		return json.Marshal(map[string]string{"content": res.Stdout})
	}
}

type fileEditInsertInput struct {
	Path       string `json:"path"`
	AfterLine  int    `json:"afterLine"`
	Content    string `json:"content"`
}

// fileEditInsertHandler inserts Content after AfterLine (0 inserts at the
// top of the file). Content is shipped base64-encoded in the generated
// script so arbitrary file content never has to survive shell quoting.
func (e *Engine) fileEditInsertHandler(rt runtime.Runtime, cwd string) tool.Handler {
	return func(ctx context.Context, input []byte) ([]byte, error) {
		var in fileEditInsertInput
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, fmt.Errorf("file_edit_insert: invalid input: %w", err)
		}
		enc := base64.StdEncoding.EncodeToString([]byte(in.Content))
		script := fmt.Sprintf(
			`f=%q; tmp=$(mktemp); echo %s | base64 -d > "$tmp.ins"; head -n %d "$f" > "$tmp"; cat "$tmp.ins" >> "$tmp"; tail -n +%d "$f" >> "$tmp" 2>/dev/null; mv "$tmp" "$f"; rm -f "$tmp.ins"`,
			in.Path, enc, in.AfterLine, in.AfterLine+1,
		)
		return runEditScript(ctx, rt, cwd, script)
	}
}

type fileEditReplaceLinesInput struct {
	Path      string `json:"path"`
	StartLine int    `json:"startLine"`
	EndLine   int    `json:"endLine"`
	Content   string `json:"content"`
}

// fileEditReplaceLinesHandler replaces the inclusive [StartLine, EndLine]
// range with Content.
func (e *Engine) fileEditReplaceLinesHandler(rt runtime.Runtime, cwd string) tool.Handler {
	return func(ctx context.Context, input []byte) ([]byte, error) {
		var in fileEditReplaceLinesInput
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, fmt.Errorf("file_edit_replace_lines: invalid input: %w", err)
		}
		enc := base64.StdEncoding.EncodeToString([]byte(in.Content))
		script := fmt.Sprintf(
			`f=%q; tmp=$(mktemp); head -n %d "$f" > "$tmp"; echo %s | base64 -d >> "$tmp"; tail -n +%d "$f" >> "$tmp" 2>/dev/null; mv "$tmp" "$f"`,
			in.Path, in.StartLine-1, enc, in.EndLine+1,
		)
		return runEditScript(ctx, rt, cwd, script)
	}
}

func runEditScript(ctx context.Context, rt runtime.Runtime, cwd, script string) ([]byte, error) {
	res, err := rt.ExecuteBash(ctx, script, runtime.ExecuteBashOptions{Cwd: cwd, TimeoutSeconds: 30})
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("file edit: %s", res.Stderr)
	}
	return json.Marshal(map[string]bool{"success": true})
}

type proposePlanInput struct {
	Plan string `json:"plan"`
}

// proposePlanHandler records the proposed plan as a metadata event so a
// subscribed UI can prompt the user for plan→exec approval; it is not
// itself the mode transition (that happens on the next sendMessage with
// Mode=exec via transform pass 3).
func (e *Engine) proposePlanHandler(identity *WorkspaceIdentity) tool.Handler {
	return func(ctx context.Context, input []byte) ([]byte, error) {
		var in proposePlanInput
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, fmt.Errorf("propose_plan: invalid input: %w", err)
		}
		e.metaHub.publish(MetadataEvent{WorkspaceID: identity.ID, Identity: identity})
		return json.Marshal(map[string]string{"status": "awaiting_approval"})
	}
}

type askUserQuestionInput struct {
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
}

// askUserQuestionHandler surfaces the question on the chat event stream as
// a synthetic tool result; the actual answer arrives as the next user
// sendMessage, matched by tool call id on the client side.
func (e *Engine) askUserQuestionHandler(identity *WorkspaceIdentity) tool.Handler {
	return func(ctx context.Context, input []byte) ([]byte, error) {
		var in askUserQuestionInput
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, fmt.Errorf("ask_user_question: invalid input: %w", err)
		}
		return json.Marshal(map[string]string{"status": "awaiting_user_response"})
	}
}

type taskInput struct {
	Subagent string `json:"subagent"`
	Prompt   string `json:"prompt"`
}

// taskHandler validates the requested subagent against the workspace's
// discovered .mux/agents/*.yaml set. Dispatching a full nested AgentSession
// for the subagent run is out of scope here (see DESIGN.md): rather than
// claim a dispatch that never happens, this errors out once the subagent
// is known to exist and be runnable, so the caller sees an explicit
// not-implemented failure instead of a fabricated success status.
func (e *Engine) taskHandler(identity *WorkspaceIdentity) tool.Handler {
	return func(ctx context.Context, input []byte) ([]byte, error) {
		var in taskInput
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, fmt.Errorf("task: invalid input: %w", err)
		}
		subagents, err := tool.DiscoverSubagents(identity.NamedWorkspacePath)
		if err != nil {
			return nil, err
		}
		for _, s := range subagents {
			if s.Name == in.Subagent {
				if !s.Runnable {
					return nil, fmt.Errorf("task: subagent %q is not runnable", in.Subagent)
				}
				return nil, fmt.Errorf("task: nested subagent dispatch for %q is not implemented", in.Subagent)
			}
		}
		return nil, fmt.Errorf("task: unknown subagent %q", in.Subagent)
	}
}
