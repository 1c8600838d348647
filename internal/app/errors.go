package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"bizmatrix/api/internal/attachments"
	"bizmatrix/api/internal/auth"
	"bizmatrix/api/internal/export"
	"bizmatrix/api/internal/kv"
	"bizmatrix/api/internal/orchestrator"
	"bizmatrix/api/internal/repo"
	"bizmatrix/api/internal/session"
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

func validationError(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, details)
}

func notFound(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

// persistenceError marks a failed write. Reads never produce it: they degrade to
// defaults inside the repositories.
type persistenceError struct {
	op  string
	err error
}

func (e *persistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.op, e.err)
}

func (e *persistenceError) Unwrap() error {
	return e.err
}

func writeFailed(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, kv.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
		return err
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	return &persistenceError{op: op, err: err}
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var parseErr *orchestrator.ErrParse
	if errors.As(err, &parseErr) {
		return http.StatusUnprocessableEntity, "PARSE_FAILED", parseErr.Error(), map[string]any{"operation": parseErr.Operation}
	}
	var collabErr *orchestrator.ErrCollaborator
	if errors.As(err, &collabErr) {
		return http.StatusBadGateway, "AI_UNAVAILABLE", "AI could not produce a result", map[string]any{"operation": collabErr.Operation}
	}
	var persistErr *persistenceError
	if errors.As(err, &persistErr) {
		return http.StatusInternalServerError, "PERSISTENCE_FAILED", "Could not save: " + persistErr.op, nil
	}
	switch {
	case errors.Is(err, kv.ErrNotFound), errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken), errors.Is(err, session.ErrSessionNotFound):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, orchestrator.ErrNotRunning), errors.Is(err, orchestrator.ErrNotPaused),
		errors.Is(err, orchestrator.ErrAlreadyBusy), errors.Is(err, orchestrator.ErrStepInFlight):
		return http.StatusConflict, "ANALYSIS_STATE", err.Error(), nil
	case errors.Is(err, orchestrator.ErrClosed):
		return http.StatusGone, "ANALYSIS_CLOSED", err.Error(), nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be md, pdf or docx", nil
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", err.Error(), nil
	case errors.Is(err, attachments.ErrTooLarge), errors.Is(err, attachments.ErrEmpty):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, repo.ErrNoSecret):
		return http.StatusServiceUnavailable, "API_KEYS_UNAVAILABLE", err.Error(), nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
