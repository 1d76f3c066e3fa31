// Package server provides the HTTP server exposing engine.Engine's command
// surface and the chat/metadata event channels over SSE and websocket.
package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/mux-run/mux/backend/internal/apierror"
	"github.com/mux-run/mux/backend/internal/engine"
	"github.com/mux-run/mux/backend/internal/message"
	"github.com/mux-run/mux/backend/internal/runtime"
	"github.com/mux-run/mux/backend/internal/session"
	v1 "github.com/mux-run/mux/backend/internal/server/dto/v1"
)

// Server is the HTTP server fronting one engine.Engine.
type Server struct {
	engine      *engine.Engine
	bearerToken string
}

// New creates a Server for e, gated by bearerToken (empty disables auth).
func New(e *engine.Engine, bearerToken string) *Server {
	return &Server{engine: e, bearerToken: bearerToken}
}

// ListenAndServe starts the HTTP server on addr until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	handler := compressMiddleware(bearerAuth(s.bearerToken, mux))
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	slog.Info("listening", "addr", addr)
	return srv.ListenAndServe()
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/workspaces", s.handleListWorkspaces)
	mux.HandleFunc("POST /api/v1/workspaces", handle(s.createWorkspace))
	mux.HandleFunc("POST /api/v1/workspaces/{id}/fork", handle(s.forkWorkspace))
	mux.HandleFunc("POST /api/v1/workspaces/{id}/rename", handle(s.renameWorkspace))
	mux.HandleFunc("DELETE /api/v1/workspaces/{id}", handle(s.deleteWorkspace))
	mux.HandleFunc("GET /api/v1/workspaces/{id}/branches", handle(s.listBranches))
	mux.HandleFunc("GET /api/v1/workspaces/{id}/history", handle(s.getHistory))

	mux.HandleFunc("POST /api/v1/workspaces/{id}/messages", handle(s.sendMessage))
	mux.HandleFunc("POST /api/v1/workspaces/{id}/resume", handle(s.resumeStream))
	mux.HandleFunc("POST /api/v1/workspaces/{id}/interrupt", handle(s.interruptStream))
	mux.HandleFunc("POST /api/v1/workspaces/{id}/history/truncate", handle(s.truncateHistory))
	mux.HandleFunc("POST /api/v1/workspaces/{id}/history/replace", handle(s.replaceHistory))
	mux.HandleFunc("POST /api/v1/workspaces/{id}/retry", handle(s.setRetryEnabled))
	mux.HandleFunc("POST /api/v1/workspaces/{id}/bash", handle(s.executeBash))

	mux.HandleFunc("GET /api/v1/workspaces/{id}/chat/events", s.handleSubscribeChat)
	mux.HandleFunc("GET /api/v1/server/workspaces/events", s.handleSubscribeMetadata)
}

func (s *Server) handleListWorkspaces(w http.ResponseWriter, _ *http.Request) {
	ids := s.engine.ListWorkspaces()
	out := make([]v1.Workspace, len(ids))
	for i, id := range ids {
		out[i] = workspaceToV1(id)
	}
	writeJSONResponse(w, &out, nil)
}

func (s *Server) createWorkspace(ctx context.Context, req *v1.CreateWorkspaceReq) (*v1.Workspace, error) {
	id, err := s.engine.CreateWorkspace(ctx, engine.CreateWorkspaceParams{
		ProjectPath:   req.ProjectPath,
		Title:         req.Title,
		RuntimeConfig: runtimeConfigFromV1(req.RuntimeConfig),
		InitHooks:     req.InitHooks,
	})
	if err != nil {
		return nil, apierror.Wrap(err)
	}
	out := workspaceToV1(id)
	return &out, nil
}

func (s *Server) forkWorkspace(ctx context.Context, req *v1.ForkWorkspaceReq) (*v1.Workspace, error) {
	id, err := s.engine.ForkWorkspace(ctx, req.WorkspaceID, req.Title)
	if err != nil {
		return nil, apierror.Wrap(err)
	}
	out := workspaceToV1(id)
	return &out, nil
}

func (s *Server) renameWorkspace(ctx context.Context, req *v1.RenameWorkspaceReq) (*v1.Workspace, error) {
	id, err := s.engine.RenameWorkspace(ctx, req.WorkspaceID, req.Title)
	if err != nil {
		return nil, apierror.Wrap(err)
	}
	out := workspaceToV1(id)
	return &out, nil
}

func (s *Server) deleteWorkspace(ctx context.Context, req *v1.DeleteWorkspaceReq) (*v1.StatusResp, error) {
	if err := s.engine.DeleteWorkspace(ctx, req.WorkspaceID, req.Force); err != nil {
		return nil, apierror.Wrap(err)
	}
	return &v1.StatusResp{Status: "deleted"}, nil
}

func (s *Server) listBranches(ctx context.Context, req *v1.WorkspaceIDReq) (*v1.BranchesResp, error) {
	branches, err := s.engine.ListBranches(ctx, req.WorkspaceID)
	if err != nil {
		return nil, apierror.Wrap(err)
	}
	return &v1.BranchesResp{Branches: branches}, nil
}

func (s *Server) getHistory(_ context.Context, req *v1.WorkspaceIDReq) (*v1.HistoryResp, error) {
	hist, err := s.engine.History(req.WorkspaceID)
	if err != nil {
		return nil, apierror.Wrap(err)
	}
	out := make([]v1.Message, len(hist))
	for i, m := range hist {
		out[i] = messageToV1(m)
	}
	return &v1.HistoryResp{Messages: out}, nil
}

func (s *Server) sendMessage(ctx context.Context, req *v1.SendMessageReq) (*v1.StatusResp, error) {
	opts := session.SendOptions{
		EditMessageID: req.EditMessageID,
		Mode:          message.Mode(req.Mode),
		Synthetic:     req.Synthetic,
	}
	if err := s.engine.SendMessage(ctx, req.WorkspaceID, req.Text, opts); err != nil {
		return nil, apierror.Wrap(err)
	}
	return &v1.StatusResp{Status: "sent"}, nil
}

func (s *Server) resumeStream(ctx context.Context, req *v1.WorkspaceIDReq) (*v1.StatusResp, error) {
	if err := s.engine.ResumeStream(ctx, req.WorkspaceID); err != nil {
		return nil, apierror.Wrap(err)
	}
	return &v1.StatusResp{Status: "resumed"}, nil
}

func (s *Server) interruptStream(_ context.Context, req *v1.InterruptStreamReq) (*v1.StatusResp, error) {
	if err := s.engine.InterruptStream(req.WorkspaceID, req.AbandonPartial); err != nil {
		return nil, apierror.Wrap(err)
	}
	return &v1.StatusResp{Status: "interrupted"}, nil
}

func (s *Server) truncateHistory(_ context.Context, req *v1.TruncateHistoryReq) (*v1.TruncateHistoryResp, error) {
	removed, err := s.engine.TruncateHistory(req.WorkspaceID, req.Fraction)
	if err != nil {
		return nil, apierror.Wrap(err)
	}
	return &v1.TruncateHistoryResp{RemovedSequences: removed}, nil
}

func (s *Server) replaceHistory(_ context.Context, req *v1.ReplaceHistoryReq) (*v1.StatusResp, error) {
	if err := s.engine.ReplaceHistory(req.WorkspaceID, messageFromV1(req.Summary)); err != nil {
		return nil, apierror.Wrap(err)
	}
	return &v1.StatusResp{Status: "replaced"}, nil
}

func (s *Server) setRetryEnabled(_ context.Context, req *v1.SetRetryEnabledReq) (*v1.StatusResp, error) {
	if err := s.engine.SetRetryEnabled(req.WorkspaceID, req.Enabled); err != nil {
		return nil, apierror.Wrap(err)
	}
	return &v1.StatusResp{Status: "ok"}, nil
}

func (s *Server) executeBash(ctx context.Context, req *v1.ExecuteBashReq) (*v1.ExecuteBashResp, error) {
	res, err := s.engine.ExecuteBash(ctx, req.WorkspaceID, req.Script, runtime.ExecuteBashOptions{
		Cwd:            req.Cwd,
		TimeoutSeconds: req.TimeoutSeconds,
	})
	if err != nil {
		return nil, apierror.Wrap(err)
	}
	return &v1.ExecuteBashResp{
		ExitCode:        res.ExitCode,
		Stdout:          res.Stdout,
		Stderr:          res.Stderr,
		TruncatedMarker: res.TruncatedMarker,
	}, nil
}
