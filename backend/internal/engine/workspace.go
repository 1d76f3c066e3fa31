package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/mux-run/mux/backend/internal/gitutil"
	"github.com/mux-run/mux/backend/internal/ids"
	"github.com/mux-run/mux/backend/internal/retry"
	"github.com/mux-run/mux/backend/internal/runtime"
	"github.com/mux-run/mux/backend/internal/session"
)

var nameSanitizer = regexp.MustCompile(`[^a-z0-9-]+`)

// sanitizeName lowercases title, replaces each run of characters outside
// [a-z0-9-] with a single "-", trims leading/trailing "-", and cuts the
// result to 14 characters; an empty result becomes "workspace".
func sanitizeName(title string) string {
	s := nameSanitizer.ReplaceAllString(strings.ToLower(title), "-")
	s = strings.Trim(s, "-")
	if len(s) > 14 { // leave room for "-XXXX"
		s = s[:14]
	}
	if s == "" {
		s = "workspace"
	}
	return s
}

// CreateWorkspaceParams configures Engine.CreateWorkspace.
type CreateWorkspaceParams struct {
	ProjectPath   string
	Title         string
	RuntimeConfig RuntimeConfig
	InitHooks     []string
}

// CreateWorkspace generates a collision-free name, creates the underlying
// git worktree (or remote equivalent) via Runtime.CreateWorkspace, runs
// init hooks, and registers the new AgentSession. On a directory-name
// collision it retries up to maxNameRetries times with fresh 4-char
// Crockford suffixes (spec.md §5 S6, §8).
func (e *Engine) CreateWorkspace(ctx context.Context, p CreateWorkspaceParams) (WorkspaceIdentity, error) {
	proj, ok := e.cfg.ProjectForPath(p.ProjectPath)
	if !ok {
		return WorkspaceIdentity{}, fmt.Errorf("engine: unknown project %q", p.ProjectPath)
	}

	rt, err := e.runtimeFor(ctx, p.ProjectPath, p.RuntimeConfig)
	if err != nil {
		return WorkspaceIdentity{}, err
	}

	base := sanitizeName(p.Title)
	var lastErr error
	for attempt := 0; attempt <= maxNameRetries; attempt++ {
		name := base + "-" + strings.ToLower(ids.Suffix(4))

		workspaceID := ids.New("ws")
		res, err := rt.CreateWorkspace(ctx, runtime.CreateWorkspaceParams{
			ProjectPath:   p.ProjectPath,
			BranchName:    name,
			DirectoryName: name,
			TrunkBranch:   proj.BaseBranch,
			InitLogger: func(line string, isStderr bool) {
				e.initMgr.AppendOutput(workspaceID, line, isStderr)
			},
		})
		if err != nil {
			if err == runtime.ErrWorkspaceExists {
				lastErr = err
				continue
			}
			return WorkspaceIdentity{}, err
		}
		if !res.Success {
			lastErr = fmt.Errorf("engine: create workspace: %s", res.Error)
			continue
		}

		identity := &WorkspaceIdentity{
			ID:                 workspaceID,
			Name:               name,
			Title:              p.Title,
			ProjectPath:        p.ProjectPath,
			ProjectName:        filepath.Base(p.ProjectPath),
			NamedWorkspacePath: res.WorkspacePath,
			CreatedAt:          time.Now(),
			RuntimeConfig:      p.RuntimeConfig,
		}

		e.initMgr.StartInit(workspaceID, p.ProjectPath)
		if len(p.InitHooks) > 0 {
			e.runInitHooks(ctx, rt, identity, p.InitHooks)
		} else {
			e.initMgr.EndInit(workspaceID, 0)
		}

		e.register(identity)
		e.metaHub.publish(MetadataEvent{WorkspaceID: workspaceID, Identity: identity})
		return *identity, nil
	}
	return WorkspaceIdentity{}, fmt.Errorf("engine: creating workspace: %w", lastErr)
}

func (e *Engine) runInitHooks(ctx context.Context, rt runtime.Runtime, identity *WorkspaceIdentity, hooks []string) {
	res, err := rt.InitWorkspace(ctx, runtime.InitWorkspaceParams{
		WorkspacePath: identity.NamedWorkspacePath,
		Hooks:         hooks,
		InitLogger: func(line string, isStderr bool) {
			e.initMgr.AppendOutput(identity.ID, line, isStderr)
		},
	})
	exitCode := res.ExitCode
	if err != nil && exitCode == 0 {
		exitCode = 1
	}
	e.initMgr.EndInit(identity.ID, exitCode)
}

// register wires a new identity into a live AgentSession and adds both to
// the engine's workspace map. Must be called without e.mu held.
//
// retry.Manager's callback must invoke Session.ResumeStream, but Session's
// constructor takes the retry.Manager it should drive — the forward
// reference is broken by capturing sess in the callback closure; the timer
// that could invoke it cannot fire before sess is assigned below.
func (e *Engine) register(identity *WorkspaceIdentity) {
	var sess *session.Session
	retryMgr := retry.New(e.retryEventEmitter(identity.ID), func() {
		sess.ResumeStream(context.Background())
	})

	sess = session.New(identity.ID, e.history, e.partials, e.streams, retryMgr,
		e.buildRequestFor(identity), e.sessionErrorHandler(identity.ID))

	w := &workspace{identity: identity, session: sess, retryMgr: retryMgr}
	e.mu.Lock()
	e.workspaces[identity.ID] = w
	e.mu.Unlock()
}

// ForkWorkspace creates a new workspace as a copy of sourceID's current
// state (worktree + branch), then registers it like CreateWorkspace.
func (e *Engine) ForkWorkspace(ctx context.Context, sourceID, newTitle string) (WorkspaceIdentity, error) {
	src, ok := e.workspaceByID(sourceID)
	if !ok {
		return WorkspaceIdentity{}, fmt.Errorf("engine: unknown workspace %q", sourceID)
	}
	rt, err := e.runtimeFor(ctx, src.identity.ProjectPath, src.identity.RuntimeConfig)
	if err != nil {
		return WorkspaceIdentity{}, err
	}

	base := sanitizeName(newTitle)
	var lastErr error
	for attempt := 0; attempt <= maxNameRetries; attempt++ {
		name := base + "-" + strings.ToLower(ids.Suffix(4))
		res, err := rt.ForkWorkspace(ctx, runtime.ForkWorkspaceParams{
			ProjectPath: src.identity.ProjectPath,
			SourceName:  src.identity.Name,
			NewName:     name,
			InitLogger:  func(string, bool) {},
		})
		if err != nil {
			if err == runtime.ErrWorkspaceExists {
				lastErr = err
				continue
			}
			return WorkspaceIdentity{}, err
		}
		if !res.Success {
			lastErr = fmt.Errorf("engine: fork workspace: %s", res.Error)
			continue
		}

		path, err := rt.GetWorkspacePath(ctx, src.identity.ProjectPath, name)
		if err != nil {
			return WorkspaceIdentity{}, err
		}
		identity := &WorkspaceIdentity{
			ID:                 ids.New("ws"),
			Name:               name,
			Title:              newTitle,
			ProjectPath:        src.identity.ProjectPath,
			ProjectName:        src.identity.ProjectName,
			NamedWorkspacePath: path,
			CreatedAt:          time.Now(),
			RuntimeConfig:      src.identity.RuntimeConfig,
		}
		e.register(identity)
		e.metaHub.publish(MetadataEvent{WorkspaceID: identity.ID, Identity: identity})
		return *identity, nil
	}
	return WorkspaceIdentity{}, fmt.Errorf("engine: forking workspace: %w", lastErr)
}

// RenameWorkspace renames a workspace's directory/branch. A no-op rename
// to the same name succeeds trivially; a rename while the AgentSession is
// streaming is rejected (spec.md §8 boundary behaviors).
func (e *Engine) RenameWorkspace(ctx context.Context, workspaceID, newTitle string) (WorkspaceIdentity, error) {
	w, ok := e.workspaceByID(workspaceID)
	if !ok {
		return WorkspaceIdentity{}, fmt.Errorf("engine: unknown workspace %q", workspaceID)
	}
	newName := sanitizeName(newTitle)
	if newName == w.identity.Name {
		w.identity.Title = newTitle
		e.metaHub.publish(MetadataEvent{WorkspaceID: workspaceID, Identity: w.identity})
		return *w.identity, nil
	}
	if w.session.State() == session.StateStreaming {
		return WorkspaceIdentity{}, errors.New("Cannot rename workspace while AI stream is active.")
	}

	rt, err := e.runtimeFor(ctx, w.identity.ProjectPath, w.identity.RuntimeConfig)
	if err != nil {
		return WorkspaceIdentity{}, err
	}
	res, err := rt.RenameWorkspace(ctx, w.identity.ProjectPath, w.identity.Name, newName)
	if err != nil {
		return WorkspaceIdentity{}, err
	}
	if !res.Success {
		return WorkspaceIdentity{}, fmt.Errorf("engine: rename workspace: %s", res.Error)
	}

	e.mu.Lock()
	w.identity.Name = newName
	w.identity.Title = newTitle
	w.identity.NamedWorkspacePath = res.NewPath
	e.mu.Unlock()

	e.metaHub.publish(MetadataEvent{WorkspaceID: workspaceID, Identity: w.identity})
	return *w.identity, nil
}

// DeleteWorkspace removes a workspace's directory/branch and unregisters
// its AgentSession. Idempotent: a second call for an already-deleted id
// returns success without error (spec.md §8).
func (e *Engine) DeleteWorkspace(ctx context.Context, workspaceID string, force bool) error {
	w, ok := e.workspaceByID(workspaceID)
	if !ok {
		return nil
	}

	rt, err := e.runtimeFor(ctx, w.identity.ProjectPath, w.identity.RuntimeConfig)
	if err != nil {
		return err
	}
	if _, err := rt.DeleteWorkspace(ctx, w.identity.ProjectPath, w.identity.Name, force); err != nil {
		return err
	}

	e.mu.Lock()
	delete(e.workspaces, workspaceID)
	e.mu.Unlock()

	e.metaHub.publish(MetadataEvent{WorkspaceID: workspaceID, Identity: nil})
	return nil
}

// ListWorkspaces returns a snapshot of every registered workspace's
// identity.
func (e *Engine) ListWorkspaces() []WorkspaceIdentity {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]WorkspaceIdentity, 0, len(e.workspaces))
	for _, w := range e.workspaces {
		out = append(out, *w.identity)
	}
	return out
}

// ListBranches returns the local git branches visible in workspaceID's
// project repository.
func (e *Engine) ListBranches(ctx context.Context, workspaceID string) ([]string, error) {
	w, ok := e.workspaceByID(workspaceID)
	if !ok {
		return nil, fmt.Errorf("engine: unknown workspace %q", workspaceID)
	}
	return gitutil.ListBranches(ctx, w.identity.ProjectPath)
}
