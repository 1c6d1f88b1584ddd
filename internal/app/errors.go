package app

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/zskreisz01/RepeatNoMore-sub000/internal/models"
	"github.com/zskreisz01/RepeatNoMore-sub000/internal/permission"
	"github.com/zskreisz01/RepeatNoMore-sub000/internal/storage"
)

const (
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeNotFound         = "NOT_FOUND"
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeValidation       = "VALIDATION_FAILED"
	CodeConflict         = "CONFLICT"
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
	return domainError(http.StatusBadRequest, CodeValidation, message, nil)
}

func notFound(kind, id string) *DomainError {
	return domainError(http.StatusNotFound, CodeNotFound, fmt.Sprintf("%s %s not found", kind, id), map[string]any{"id": id})
}

// classify turns repository and gate errors into domain errors. Anything it
// does not recognise is returned unchanged.
func classify(kind, id string, err error) error {
	var denied *permission.DeniedError
	var conflict *storage.ConflictError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &denied):
		return domainError(http.StatusForbidden, CodePermissionDenied,
			fmt.Sprintf("Permission denied: %s is not allowed to %s", denied.Identity, denied.Action), nil)
	case errors.Is(err, storage.ErrNotFound):
		return notFound(kind, id)
	case errors.As(err, &conflict):
		return domainError(http.StatusConflict, CodeConflict,
			fmt.Sprintf("%s %s was modified concurrently", kind, id),
			map[string]any{"expected_version": conflict.Expected, "current_version": conflict.Actual})
	case errors.Is(err, storage.ErrConflict):
		return domainError(http.StatusConflict, CodeConflict, fmt.Sprintf("%s %s was modified concurrently", kind, id), nil)
	case errors.Is(err, models.ErrInvalidTransition):
		return domainError(http.StatusConflict, CodeConflict, err.Error(), nil)
	}
	return err
}
