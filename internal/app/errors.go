package app

import (
	"errors"
	"fmt"
	"net/http"

	"cadence/api/internal/identity"
	"cadence/api/internal/tracker"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

func (s *Service) identityRequired(message string) *DomainError {
	return domainError(http.StatusForbidden, "IDENTITY_REQUIRED", message, map[string]any{
		"bind_url": s.cfg.IdentityBindURL,
	})
}

// trackerError translates tracker failures into API errors. A rejected
// credential is reported like a missing one so the caller re-binds.
func (s *Service) trackerError(op string, err error) error {
	var domainErr *DomainError
	switch {
	case errors.As(err, &domainErr):
		return err
	case errors.Is(err, tracker.ErrNotFound):
		return domainError(http.StatusNotFound, "NOT_FOUND", op+": not found", nil)
	case errors.Is(err, tracker.ErrUnauthorized), errors.Is(err, identity.ErrUnbound):
		return s.identityRequired("GitLab account is not bound or the credential was rejected")
	default:
		return domainError(http.StatusBadGateway, "TRACKER_ERROR", op+": "+err.Error(), nil)
	}
}
