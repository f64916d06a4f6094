package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"verse/api/internal/comments"
	"verse/api/internal/identity"
	"verse/api/internal/likes"
	"verse/api/internal/posts"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string) *DomainError {
	return &DomainError{Status: status, Code: code, Message: message}
}

// classified maps the identity provider's error set and the write
// preconditions to HTTP responses with fixed user-facing messages.
var classified = []struct {
	err    error
	status int
	code   string
}{
	{identity.ErrMalformedEmail, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
	{identity.ErrWeakCredential, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
	{identity.ErrAlreadyRegistered, http.StatusConflict, "ALREADY_REGISTERED"},
	{identity.ErrNoAccount, http.StatusNotFound, "NO_ACCOUNT"},
	{identity.ErrWrongCredential, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
	{identity.ErrRateLimited, http.StatusTooManyRequests, "RATE_LIMITED"},
	{identity.ErrFederatedAccount, http.StatusConflict, "FEDERATED_ACCOUNT"},
	{posts.ErrEmptyPost, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
	{likes.ErrPostNotFound, http.StatusNotFound, "NOT_FOUND"},
	{likes.ErrAuthRequired, http.StatusUnauthorized, "AUTH_REQUIRED"},
	{comments.ErrAuthRequired, http.StatusUnauthorized, "AUTH_REQUIRED"},
}

func mapError(err error) (status int, code, message string) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message
	}
	for _, c := range classified {
		if errors.Is(err, c.err) {
			return c.status, c.code, c.err.Error()
		}
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found"
	}
	if errors.Is(err, identity.ErrInvalidToken) || errors.Is(err, identity.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized"
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error"
}
