// Package engine is the process-wide supervisor: it holds the map of
// AgentSessions, creates and tears down workspaces, constructs a Runtime
// per operation from each workspace's RuntimeConfig, and publishes the two
// external event channels (chat, metadata) spec.md §6 defines. No session
// ever calls back into the engine except by the typed events it is handed
// at construction — cyclic references are broken by one-way ownership.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/mux-run/mux/backend/internal/config"
	"github.com/mux-run/mux/backend/internal/history"
	"github.com/mux-run/mux/backend/internal/initstate"
	"github.com/mux-run/mux/backend/internal/message"
	"github.com/mux-run/mux/backend/internal/partial"
	"github.com/mux-run/mux/backend/internal/provider"
	"github.com/mux-run/mux/backend/internal/provider/anthropicprov"
	"github.com/mux-run/mux/backend/internal/provider/openaiprov"
	"github.com/mux-run/mux/backend/internal/retry"
	"github.com/mux-run/mux/backend/internal/runtime"
	"github.com/mux-run/mux/backend/internal/session"
	"github.com/mux-run/mux/backend/internal/stream"
)

// maxNameRetries bounds the number of fresh-suffix retries CreateWorkspace
// attempts on a directory-name collision before surfacing the error.
const maxNameRetries = 3

// workspace bundles everything the engine owns for one live workspace:
// its identity, its AgentSession, and the retry manager driving it.
type workspace struct {
	identity *WorkspaceIdentity
	session  *session.Session
	retryMgr *retry.Manager
}

// Engine is the process-wide supervisor described by spec.md §2/§5.
type Engine struct {
	cfg *config.Config

	history   *history.Store
	partials  *partial.Store
	initMgr   *initstate.Manager
	streams   *stream.Manager
	chatHub   *chatHub
	metaHub   *metadataHub

	mu         sync.Mutex
	workspaces map[string]*workspace // keyed by WorkspaceIdentity.ID

	adapters providerAdapters

	// RuntimeFactory overrides runtime construction; nil uses the real
	// local/ssh/docker/devcontainer variants. Tests substitute a fake
	// runtime.Runtime here, the same seam task.Runner's ContainerBackend
	// field provides for container lifecycle ops.
	RuntimeFactory func(ctx context.Context, projectPath string, cfg RuntimeConfig) (runtime.Runtime, error)
}

// providerAdapters caches the one provider.Adapter per configured provider
// for the process lifetime; adapters are stateless HTTP clients and safe
// for concurrent use across workspaces.
type providerAdapters struct {
	mu        sync.Mutex
	anthropic provider.Adapter
	openai    provider.Adapter
}

// New constructs an Engine backed by muxHome for durable state (history,
// partials, init logs) and cfg for provider/project configuration.
func New(cfg *config.Config, muxHome string) *Engine {
	e := &Engine{
		cfg:        cfg,
		history:    history.New(muxHome),
		partials:   partial.New(muxHome),
		initMgr:    initstate.NewManager(),
		chatHub:    newChatHub(),
		metaHub:    newMetadataHub(),
		workspaces: make(map[string]*workspace),
	}
	e.streams = stream.New(e.partials, e.dispatchStreamEvent)
	return e
}

// dispatchStreamEvent is the StreamManager's publish callback: it first
// drives the owning AgentSession's state machine, then fans the event out
// to chat subscribers, preserving the ordering guarantee that state
// transitions are visible before (or with) the event that caused them.
func (e *Engine) dispatchStreamEvent(ev stream.Event) {
	if w, ok := e.workspaceByID(ev.WorkspaceID); ok {
		w.session.HandleStreamEvent(context.Background(), ev)
	}
	e.chatHub.publish(ev)
}

// providerFor returns the cached Adapter for name ("anthropic" | "openai"),
// constructing it on first use from cfg's secrets.
func (e *Engine) providerFor(name string) (provider.Adapter, error) {
	e.adapters.mu.Lock()
	defer e.adapters.mu.Unlock()

	switch name {
	case "anthropic":
		if e.adapters.anthropic == nil {
			if e.cfg.AnthropicAPIKey() == "" {
				return nil, fmt.Errorf("engine: no anthropic api key configured")
			}
			e.adapters.anthropic = anthropicprov.New(e.cfg.AnthropicAPIKey())
		}
		return e.adapters.anthropic, nil
	case "openai":
		if e.adapters.openai == nil {
			if e.cfg.OpenAIAPIKey() == "" {
				return nil, fmt.Errorf("engine: no openai api key configured")
			}
			e.adapters.openai = openaiprov.New(e.cfg.OpenAIAPIKey())
		}
		return e.adapters.openai, nil
	default:
		return nil, fmt.Errorf("engine: unsupported provider %q", name)
	}
}

// runtimeFor constructs a fresh Runtime instance for cfg; runtimes are
// stateless enough that the engine never caches them across operations.
func (e *Engine) runtimeFor(ctx context.Context, projectPath string, cfg RuntimeConfig) (runtime.Runtime, error) {
	if e.RuntimeFactory != nil {
		return e.RuntimeFactory(ctx, projectPath, cfg)
	}
	switch cfg.Kind {
	case RuntimeLocal, "":
		return localRuntime(cfg), nil
	case RuntimeSSH:
		return sshRuntime(cfg), nil
	case RuntimeDocker:
		return dockerRuntime(cfg)
	case RuntimeDevcontainer:
		return devcontainerRuntime(ctx, projectPath)
	default:
		return nil, fmt.Errorf("engine: unknown runtime kind %q", cfg.Kind)
	}
}

// workspaceByID returns the live workspace record, under lock.
func (e *Engine) workspaceByID(id string) (*workspace, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.workspaces[id]
	return w, ok
}

// History returns workspaceID's persisted chat history; callers combine
// this with SubscribeChat to reconstruct the full picture spec.md §6
// describes ("replays history plus any in-flight stream") without forcing
// every historical message through the live event shape.
func (e *Engine) History(workspaceID string) ([]message.Message, error) {
	if _, ok := e.workspaceByID(workspaceID); !ok {
		return nil, fmt.Errorf("engine: unknown workspace %q", workspaceID)
	}
	return e.history.GetHistory(workspaceID)
}

// SubscribeChat implements spec.md §6's per-workspace chat event channel:
// on subscribe it replays the in-flight stream, if any, then forwards live
// events. Pair with History for a full catch-up.
func (e *Engine) SubscribeChat(workspaceID string) (<-chan stream.Event, func(), error) {
	if _, ok := e.workspaceByID(workspaceID); !ok {
		return nil, nil, fmt.Errorf("engine: unknown workspace %q", workspaceID)
	}
	ch, cancel := e.chatHub.subscribe(workspaceID)
	e.streams.ReplayStream(workspaceID, func(ev stream.Event) {
		select {
		case ch <- ev:
		default:
		}
	})
	return ch, cancel, nil
}

// SubscribeMetadata implements spec.md §6's process-wide workspace
// metadata channel.
func (e *Engine) SubscribeMetadata() (<-chan MetadataEvent, func()) {
	ch, cancel := e.metaHub.subscribe()
	return ch, cancel
}

// ExecuteBash runs script in workspaceID's runtime, outside the agent
// stream (the "executeBash" command id in spec.md §6).
func (e *Engine) ExecuteBash(ctx context.Context, workspaceID, script string, opts runtime.ExecuteBashOptions) (runtime.ExecuteBashResult, error) {
	w, ok := e.workspaceByID(workspaceID)
	if !ok {
		return runtime.ExecuteBashResult{}, fmt.Errorf("engine: unknown workspace %q", workspaceID)
	}
	rt, err := e.runtimeFor(ctx, w.identity.ProjectPath, w.identity.RuntimeConfig)
	if err != nil {
		return runtime.ExecuteBashResult{}, err
	}
	if opts.Cwd == "" {
		opts.Cwd = w.identity.NamedWorkspacePath
	}
	return rt.ExecuteBash(ctx, script, opts)
}
