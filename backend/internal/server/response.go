// JSON response writers for success and structured error responses.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/mux-run/mux/backend/internal/apierror"
)

// errorWithStatus mirrors the methods apierror.Error exposes, matched
// structurally so writeError also handles errors from other packages that
// happen to implement the same shape.
type errorWithStatus interface {
	error
	StatusCode() int
	Code() apierror.Code
	Details() map[string]any
}

// writeError writes a structured JSON error response. If err implements
// errorWithStatus (apierror.Error does), the HTTP status, error code and
// details are taken from it; otherwise it is wrapped as a 500.
func writeError(w http.ResponseWriter, err error) {
	var ews errorWithStatus
	if !errors.As(err, &ews) {
		ews = apierror.Wrap(err)
	}

	slog.Error("handler error", "err", err, "statusCode", ews.StatusCode(), "code", ews.Code())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ews.StatusCode())
	resp := map[string]any{
		"error": map[string]any{
			"code":    ews.Code(),
			"message": ews.Error(),
		},
	}
	if d := ews.Details(); len(d) > 0 {
		resp["details"] = d
	}
	if encErr := json.NewEncoder(w).Encode(resp); encErr != nil {
		slog.Warn("failed to encode error response", "err", encErr)
	}
}

// writeJSONResponse writes a JSON success response or a structured error
// response, unifying both paths into a single call.
func writeJSONResponse[Out any](w http.ResponseWriter, output *Out, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if encErr := json.NewEncoder(w).Encode(output); encErr != nil {
		slog.Warn("failed to encode JSON response", "err", encErr)
	}
}
