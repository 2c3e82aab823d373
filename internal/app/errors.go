package app

import (
	"errors"
	"fmt"
	"net/http"

	"logbook/api/internal/attachments"
	"logbook/api/internal/directory"
	"logbook/api/internal/doctree"
	"logbook/api/internal/export"
	"logbook/api/internal/history"
	"logbook/api/internal/mentions"
	"logbook/api/internal/store"
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

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var missing *mentions.MissingFilesError
	if errors.As(err, &missing) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", mentions.MissingFilesMessage, missing.FieldErrors()
	}
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, history.ErrUnknownVersion):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, doctree.ErrInvalidEntityType):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Unknown entity type", nil
	case errors.Is(err, doctree.ErrInvalidMention):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Mentionable needs an id, a type and a label", nil
	case errors.Is(err, attachments.ErrInvalidAttachment):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Unsupported export format", nil
	case errors.Is(err, export.ErrContentUnavailable):
		return http.StatusConflict, "CONTENT_UNAVAILABLE", "Entry has no content to export", nil
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not available on this server", nil
	case errors.Is(err, directory.ErrIndexUnavailable):
		return http.StatusServiceUnavailable, "INDEX_UNAVAILABLE", "Search index is not available", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
