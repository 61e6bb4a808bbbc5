package app

import (
	"errors"
	"fmt"
	"net/http"

	"groundwrite/api/internal/auth"
	"groundwrite/api/internal/drafts"
	"groundwrite/api/internal/entitlement"
	"groundwrite/api/internal/essay"
	"groundwrite/api/internal/session"
	"groundwrite/api/internal/sources"
	"groundwrite/api/internal/uploads"
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

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var validationErr *essay.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", validationErr.Message, map[string]any{"field": validationErr.Field}
	}
	var notFoundErr *essay.NotFoundError
	if errors.As(err, &notFoundErr) {
		return http.StatusNotFound, "NOT_FOUND", notFoundErr.Error(), map[string]any{"resource": notFoundErr.Resource}
	}
	if errors.Is(err, essay.ErrExpansionInProgress) {
		return http.StatusConflict, "EXPANSION_IN_PROGRESS", "Paragraph is already being expanded", nil
	}
	if errors.Is(err, essay.ErrExpansionSuperseded) {
		return http.StatusConflict, "EXPANSION_SUPERSEDED", "A newer expansion of this paragraph replaced this one", nil
	}
	var generationErr *essay.GenerationError
	if errors.As(err, &generationErr) {
		return http.StatusBadGateway, "GENERATION_FAILED", generationErr.Error(), nil
	}
	if errors.Is(err, entitlement.ErrNotEntitled) {
		return http.StatusForbidden, "USAGE_LIMIT", "Your plan does not include this feature", nil
	}
	if errors.Is(err, session.ErrNotFound) {
		return http.StatusNotFound, "SESSION_NOT_FOUND", "Draft session not found or expired", nil
	}
	if errors.Is(err, sources.ErrDuplicateID) {
		return http.StatusConflict, "DUPLICATE_SOURCE", err.Error(), nil
	}
	if errors.Is(err, sources.ErrInvalidID) || errors.Is(err, sources.ErrInvalidGroup) || errors.Is(err, sources.ErrInvalidOrigin) || errors.Is(err, sources.ErrOutOfRange) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	}
	if errors.Is(err, uploads.ErrNotFound) {
		return http.StatusNotFound, "UPLOAD_NOT_FOUND", err.Error(), nil
	}
	if errors.Is(err, drafts.ErrNotFound) {
		return http.StatusNotFound, "DRAFT_NOT_FOUND", err.Error(), nil
	}
	if errors.Is(err, uploads.ErrInvalidID) || errors.Is(err, drafts.ErrInvalidID) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrMissingToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
