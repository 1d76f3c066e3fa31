// Package dto provides shared API infrastructure (the validation interface)
// used across all API versions. Error types live in apierror; version-specific
// request/response types live in sub-packages (e.g. dto/v1).
package dto

// Validatable is implemented by request types that can validate their fields.
type Validatable interface {
	Validate() error
}

// EmptyReq is used for endpoints that take no request body.
type EmptyReq struct{}

// Validate is a no-op for empty requests.
func (EmptyReq) Validate() error { return nil }
