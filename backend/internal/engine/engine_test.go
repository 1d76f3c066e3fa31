package engine

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mux-run/mux/backend/internal/config"
	"github.com/mux-run/mux/backend/internal/message"
	"github.com/mux-run/mux/backend/internal/provider"
	"github.com/mux-run/mux/backend/internal/runtime"
	"github.com/mux-run/mux/backend/internal/session"
)

// fakeRuntime is a minimal runtime.Runtime backing every engine test: it
// tracks created/forked/renamed/deleted names in memory rather than
// touching git or a container.
type fakeRuntime struct {
	mu            sync.Mutex
	existing      map[string]bool
	failCreates   int // number of CreateWorkspace calls to fail with ErrWorkspaceExists before succeeding
}

var _ runtime.Runtime = (*fakeRuntime)(nil)

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{existing: make(map[string]bool)}
}

func (f *fakeRuntime) ResolvePath(ctx context.Context, p string) (string, error) { return p, nil }

func (f *fakeRuntime) CreateWorkspace(ctx context.Context, p runtime.CreateWorkspaceParams) (runtime.CreateWorkspaceResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreates > 0 {
		f.failCreates--
		return runtime.CreateWorkspaceResult{}, runtime.ErrWorkspaceExists
	}
	f.existing[p.DirectoryName] = true
	return runtime.CreateWorkspaceResult{Success: true, WorkspacePath: "/ws/" + p.DirectoryName}, nil
}

func (f *fakeRuntime) ForkWorkspace(ctx context.Context, p runtime.ForkWorkspaceParams) (runtime.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.existing[p.NewName] = true
	return runtime.Result{Success: true}, nil
}

func (f *fakeRuntime) RenameWorkspace(ctx context.Context, projectPath, oldName, newName string) (runtime.RenameResult, error) {
	return runtime.RenameResult{Success: true, OldPath: "/ws/" + oldName, NewPath: "/ws/" + newName}, nil
}

func (f *fakeRuntime) DeleteWorkspace(ctx context.Context, projectPath, name string, force bool) (runtime.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.existing, name)
	return runtime.Result{Success: true}, nil
}

func (f *fakeRuntime) InitWorkspace(ctx context.Context, p runtime.InitWorkspaceParams) (runtime.ExecuteBashResult, error) {
	return runtime.ExecuteBashResult{}, nil
}

func (f *fakeRuntime) GetWorkspacePath(ctx context.Context, projectPath, name string) (string, error) {
	return "/ws/" + name, nil
}

func (f *fakeRuntime) ExecuteBash(ctx context.Context, script string, opts runtime.ExecuteBashOptions) (runtime.ExecuteBashResult, error) {
	return runtime.ExecuteBashResult{ExitCode: 0, Stdout: "ok"}, nil
}

func (f *fakeRuntime) OpenTerminal(ctx context.Context, cwd string) (runtime.Terminal, error) {
	return nil, errors.New("fakeRuntime: terminal not supported")
}

// fakeStreamer emits a fixed sequence of chunks, one per Recv call, then
// returns io.EOF.
type fakeStreamer struct {
	chunks []provider.Chunk
	idx    int
	closed int32
}

func (s *fakeStreamer) Recv() (provider.Chunk, error) {
	if s.idx >= len(s.chunks) {
		return provider.Chunk{}, io.EOF
	}
	c := s.chunks[s.idx]
	s.idx++
	return c, nil
}

func (s *fakeStreamer) Close() error {
	atomic.StoreInt32(&s.closed, 1)
	return nil
}

// fakeAdapter returns one fakeStreamer per Stream call, built from a
// template chunk sequence.
type fakeAdapter struct {
	chunks []provider.Chunk
}

func (a *fakeAdapter) Name() string { return "fake" }

func (a *fakeAdapter) Stream(ctx context.Context, req provider.Request) (provider.Streamer, error) {
	return &fakeStreamer{chunks: a.chunks}, nil
}

// newTestEngine returns an Engine wired to a fakeRuntime for a single
// project at projectPath, with history/partial state under t.TempDir().
func newTestEngine(t *testing.T, projectPath string) (*Engine, *fakeRuntime) {
	t.Helper()
	cfg := &config.Config{
		Projects: []config.Project{{Path: projectPath, BaseBranch: "main"}},
		AI:       config.AIConfig{DefaultProvider: "anthropic", DefaultModel: "claude-test"},
	}
	e := New(cfg, t.TempDir())
	fr := newFakeRuntime()
	e.RuntimeFactory = func(ctx context.Context, projectPath string, cfg RuntimeConfig) (runtime.Runtime, error) {
		return fr, nil
	}
	return e, fr
}

// TestCreateWorkspace_NameCollisionRetry exercises spec.md §8 scenario S6:
// a directory-name collision on create is retried with fresh suffixes up
// to maxNameRetries before surfacing the error.
func TestCreateWorkspace_NameCollisionRetry(t *testing.T) {
	e, fr := newTestEngine(t, "/proj")
	fr.failCreates = 2 // first two suffixes collide, third succeeds

	identity, err := e.CreateWorkspace(context.Background(), CreateWorkspaceParams{
		ProjectPath: "/proj",
		Title:       "auth work",
	})
	if err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}
	if identity.Name == "" || identity.ID == "" {
		t.Fatalf("CreateWorkspace returned incomplete identity: %+v", identity)
	}

	found := false
	for _, w := range e.ListWorkspaces() {
		if w.ID == identity.ID {
			found = true
		}
	}
	if !found {
		t.Error("created workspace not present in ListWorkspaces")
	}
}

// TestCreateWorkspace_ExhaustsRetries verifies the error surfaces once
// every retry also collides.
func TestCreateWorkspace_ExhaustsRetries(t *testing.T) {
	e, fr := newTestEngine(t, "/proj")
	fr.failCreates = maxNameRetries + 1

	if _, err := e.CreateWorkspace(context.Background(), CreateWorkspaceParams{
		ProjectPath: "/proj",
		Title:       "auth work",
	}); err == nil {
		t.Fatal("expected error after exhausting retries, got nil")
	}
}

// TestDeleteWorkspace_Idempotent exercises spec.md §8: a second delete of
// an already-deleted (or never-existing) workspace returns success.
func TestDeleteWorkspace_Idempotent(t *testing.T) {
	e, _ := newTestEngine(t, "/proj")
	if err := e.DeleteWorkspace(context.Background(), "ws_never_existed", false); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := e.DeleteWorkspace(context.Background(), "ws_never_existed", false); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

// TestRenameWorkspace_SameNameNoop exercises spec.md §8: renaming to the
// same sanitized name is a no-op that succeeds.
func TestRenameWorkspace_SameNameNoop(t *testing.T) {
	e, _ := newTestEngine(t, "/proj")
	identity, err := e.CreateWorkspace(context.Background(), CreateWorkspaceParams{ProjectPath: "/proj", Title: "my-ws"})
	if err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}
	got, err := e.RenameWorkspace(context.Background(), identity.ID, identity.Name)
	if err != nil {
		t.Fatalf("RenameWorkspace: %v", err)
	}
	if got.Name != identity.Name {
		t.Errorf("Name = %q, want unchanged %q", got.Name, identity.Name)
	}
}

func TestSanitizeName(t *testing.T) {
	cases := []struct {
		title string
		want  string
	}{
		{"Fix the auth bug", "fix-the-auth-b"},
		{"UPPER CASE!!", "upper-case"},
		{"", "workspace"},
		{"a/b/c", "a-b-c"},
	}
	for _, c := range cases {
		if got := sanitizeName(c.title); got != c.want {
			t.Errorf("sanitizeName(%q) = %q, want %q", c.title, got, c.want)
		}
	}
}

// TestSendMessage_BasicFlow exercises spec.md §8 scenario S1: an empty
// history, one send, and the resulting event order plus final history.
func TestSendMessage_BasicFlow(t *testing.T) {
	cfg := &config.Config{
		Projects: []config.Project{{Path: "/proj", BaseBranch: "main"}},
		AI:       config.AIConfig{DefaultProvider: "anthropic", DefaultModel: "claude-test"},
	}
	e := New(cfg, t.TempDir())
	e.adapters.anthropic = &fakeAdapter{chunks: []provider.Chunk{
		{Type: provider.ChunkText, Text: "hi!"},
		{Type: provider.ChunkStop, StopReason: "end_turn"},
	}}

	identity := &WorkspaceIdentity{
		ID:                 "ws_1",
		Name:               "test-ws",
		ProjectPath:        "/proj",
		NamedWorkspacePath: t.TempDir(),
	}
	e.register(identity)

	ch, cancel, err := e.SubscribeChat(identity.ID)
	if err != nil {
		t.Fatalf("SubscribeChat: %v", err)
	}
	defer cancel()

	if err := e.SendMessage(context.Background(), identity.ID, "hello", session.SendOptions{}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	var gotEnd bool
	deadline := time.After(2 * time.Second)
	for !gotEnd {
		select {
		case ev := <-ch:
			if ev.Type == "stream-end" {
				gotEnd = true
				if len(ev.Parts) == 0 || ev.Parts[0].Text != "hi!" {
					t.Errorf("stream-end parts = %+v, want text %q", ev.Parts, "hi!")
				}
			}
		case <-deadline:
			t.Fatal("timed out waiting for stream-end")
		}
	}

	hist, err := e.History(identity.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("len(history) = %d, want 2", len(hist))
	}
	if hist[0].Role != message.RoleUser || hist[0].Metadata.HistorySequence != 1 {
		t.Errorf("history[0] = %+v, want user seq=1", hist[0])
	}
	if hist[1].Role != message.RoleAssistant || hist[1].Metadata.HistorySequence != 2 {
		t.Errorf("history[1] = %+v, want assistant seq=2", hist[1])
	}
	if hist[1].Text() != "hi!" {
		t.Errorf("assistant text = %q, want %q", hist[1].Text(), "hi!")
	}
}
