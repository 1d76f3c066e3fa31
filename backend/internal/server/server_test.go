package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mux-run/mux/backend/internal/apierror"
)

type echoReq struct {
	WorkspaceID string `path:"id" json:"-"`
	Text        string `json:"text"`
}

func (r *echoReq) Validate() error {
	if r.Text == "" {
		return apierror.BadRequest("text is required")
	}
	return nil
}

type echoResp struct {
	WorkspaceID string `json:"workspaceId"`
	Text        string `json:"text"`
}

func TestHandle_DecodesBodyAndPathParams(t *testing.T) {
	h := handle(func(_ context.Context, in *echoReq) (*echoResp, error) {
		return &echoResp{WorkspaceID: in.WorkspaceID, Text: in.Text}, nil
	})

	mux := http.NewServeMux()
	mux.HandleFunc("POST /ws/{id}/echo", h)

	req := httptest.NewRequest(http.MethodPost, "/ws/abc123/echo", strings.NewReader(`{"text":"hi"}`))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", rr.Code, rr.Body.String())
	}
	var got echoResp
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.WorkspaceID != "abc123" || got.Text != "hi" {
		t.Fatalf("got %+v", got)
	}
}

func TestHandle_ValidateRejectsEmptyText(t *testing.T) {
	h := handle(func(_ context.Context, in *echoReq) (*echoResp, error) {
		t.Fatal("handler should not be called when validation fails")
		return nil, nil
	})

	mux := http.NewServeMux()
	mux.HandleFunc("POST /ws/{id}/echo", h)

	req := httptest.NewRequest(http.MethodPost, "/ws/abc123/echo", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400; body = %s", rr.Code, rr.Body.String())
	}
}

func TestHandle_UnknownFieldRejected(t *testing.T) {
	h := handle(func(_ context.Context, in *echoReq) (*echoResp, error) {
		return &echoResp{}, nil
	})

	req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(`{"text":"hi","bogus":true}`))
	rr := httptest.NewRecorder()
	h(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for unknown field; body = %s", rr.Code, rr.Body.String())
	}
}

func TestWriteError_StructuredBody(t *testing.T) {
	rr := httptest.NewRecorder()
	writeError(rr, apierror.NotFound("workspace not found").WithDetail("workspaceId", "ws-1"))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		Details map[string]any `json:"details"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Error.Code != string(apierror.CodeNotFound) {
		t.Fatalf("code = %q, want %q", body.Error.Code, apierror.CodeNotFound)
	}
	if body.Error.Message != "workspace not found" {
		t.Fatalf("message = %q", body.Error.Message)
	}
	if body.Details["workspaceId"] != "ws-1" {
		t.Fatalf("details = %+v", body.Details)
	}
}

func TestWriteError_WrapsUnknownError(t *testing.T) {
	rr := httptest.NewRecorder()
	writeError(rr, errors.New("boom"))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
}

func TestBearerAuth_RejectsMissingAndWrongToken(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := bearerAuth("secret", inner)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: status = %d, want 401", rr.Code)
	}

	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: status = %d, want 401", rr.Code)
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer secret")
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("correct token: status = %d, want 200", rr.Code)
	}
}

func TestBearerAuth_EmptyTokenDisablesAuth(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := bearerAuth("", inner)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with auth disabled", rr.Code)
	}
}
