package portal

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ValidationError is raised locally before any request is sent.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func Invalid(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// ConflictError is a 409 from the release endpoint: the milestone still holds
// unfinished work and was not closed.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	if e == nil {
		return ""
	}
	return "conflict: " + e.Message
}

// Summary returns the text before the first '|'. The delimiter is an informal
// convention, so a message without one is returned whole.
func (e *ConflictError) Summary() string {
	if e == nil {
		return ""
	}
	summary, _, _ := strings.Cut(e.Message, "|")
	return strings.TrimSpace(summary)
}

// Detail returns everything after the first '|', or "" when absent.
func (e *ConflictError) Detail() string {
	if e == nil {
		return ""
	}
	_, detail, _ := strings.Cut(e.Message, "|")
	return strings.TrimSpace(detail)
}

// CodeIdentityRequired marks a 403 caused by a missing tracker credential.
const CodeIdentityRequired = "IDENTITY_REQUIRED"

// IdentityError is a 403. Usually the acting user has no tracker credential
// bound; Code tells that apart from a role denial.
type IdentityError struct {
	Code    string
	Message string
	BindURL string
}

// RoleDenied reports a 403 from the role gate. Binding an identity does not
// resolve it. A missing code is treated as an unbound identity.
func (e *IdentityError) RoleDenied() bool {
	return e != nil && e.Code != "" && e.Code != CodeIdentityRequired
}

func (e *IdentityError) Error() string {
	if e == nil {
		return ""
	}
	return "identity required: " + e.Message
}

// TransportError covers network failures and every other non-2xx response.
type TransportError struct {
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("unexpected status code: %d", e.Status)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// classify turns a non-2xx response into the error taxonomy.
func classify(status int, body errorBody) error {
	message := strings.TrimSpace(body.Error)
	switch status {
	case http.StatusConflict:
		return &ConflictError{Message: message}
	case http.StatusForbidden:
		bindURL := ""
		if body.Details != nil {
			if v, ok := body.Details["bind_url"].(string); ok {
				bindURL = v
			}
		}
		return &IdentityError{Code: body.Code, Message: message, BindURL: bindURL}
	default:
		return &TransportError{Status: status, Code: body.Code, Message: message}
	}
}

func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

func IsIdentity(err error) bool {
	var target *IdentityError
	return errors.As(err, &target)
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
