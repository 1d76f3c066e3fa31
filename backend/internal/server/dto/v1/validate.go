// Request validation methods, kept separate from types.go (excluded from
// tygo generation).
package v1

import "github.com/mux-run/mux/backend/internal/apierror"

// Validate is a no-op for empty requests.
func (EmptyReq) Validate() error { return nil }

// Validate is a no-op; path params are populated after decoding.
func (WorkspaceIDReq) Validate() error { return nil }

// Validate checks that text is non-empty.
func (r *SendMessageReq) Validate() error {
	if r.Text == "" {
		return apierror.BadRequest("text is required")
	}
	if r.Mode != "" && r.Mode != "plan" && r.Mode != "exec" {
		return apierror.BadRequest("invalid mode: " + r.Mode)
	}
	return nil
}

// Validate is a no-op for interrupt requests.
func (InterruptStreamReq) Validate() error { return nil }

// Validate checks fraction is within (0, 1].
func (r *TruncateHistoryReq) Validate() error {
	if r.Fraction <= 0 || r.Fraction > 1 {
		return apierror.BadRequest("fraction must be in (0, 1]")
	}
	return nil
}

// Validate checks that a summary message is supplied.
func (r *ReplaceHistoryReq) Validate() error {
	if r.Summary.ID == "" {
		return apierror.BadRequest("summary.id is required")
	}
	return nil
}

// Validate is a no-op for retry-toggle requests.
func (SetRetryEnabledReq) Validate() error { return nil }

// Validate checks that a script is supplied.
func (r *ExecuteBashReq) Validate() error {
	if r.Script == "" {
		return apierror.BadRequest("script is required")
	}
	return nil
}

// Validate checks that projectPath and title are supplied.
func (r *CreateWorkspaceReq) Validate() error {
	if r.ProjectPath == "" {
		return apierror.BadRequest("projectPath is required")
	}
	if r.Title == "" {
		return apierror.BadRequest("title is required")
	}
	return nil
}

// Validate checks that title is supplied.
func (r *ForkWorkspaceReq) Validate() error {
	if r.Title == "" {
		return apierror.BadRequest("title is required")
	}
	return nil
}

// Validate checks that title is supplied.
func (r *RenameWorkspaceReq) Validate() error {
	if r.Title == "" {
		return apierror.BadRequest("title is required")
	}
	return nil
}

// Validate is a no-op for delete requests.
func (DeleteWorkspaceReq) Validate() error { return nil }
