// Package errors provides structured error handling for the auth core.
package errors

import (
	"net/http"
)

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Token errors
	CodeInvalidToken       Code = "TOKEN_INVALID"
	CodeTokenBadFormat     Code = "TOKEN_BAD_FORMAT"
	CodeTokenDuplicate     Code = "TOKEN_DUPLICATE"
	CodeTokenNotFound      Code = "TOKEN_NOT_FOUND"
	CodeTokenMissingTarget Code = "TOKEN_MISSING_TARGET"

	// Identity errors
	CodeUserAlreadyExists    Code = "USER_ALREADY_EXISTS"
	CodeUserNotFound         Code = "USER_NOT_FOUND"
	CodeUserHasNoCredentials Code = "USER_HAS_NO_CREDENTIALS"
	CodeUsernameEmpty        Code = "USERNAME_EMPTY"
	CodeConflict             Code = "CONFLICT"

	// Ceremony errors
	CodeCorruptSession     Code = "CORRUPT_SESSION"
	CodeVerificationFailed Code = "VERIFICATION_FAILED"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
	CodeDatabase Code = "DATABASE_ERROR"
)

// HTTPStatus maps domain codes to user-visible HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidToken,
		CodeTokenBadFormat,
		CodeTokenMissingTarget,
		CodeUsernameEmpty,
		CodeCorruptSession,
		CodeVerificationFailed,
		CodeUserHasNoCredentials:
		return http.StatusBadRequest

	case CodeNotFound,
		CodeTokenNotFound,
		CodeUserNotFound:
		return http.StatusNotFound

	case CodeUserAlreadyExists,
		CodeTokenDuplicate,
		CodeConflict:
		return http.StatusConflict

	default:
		return http.StatusInternalServerError
	}
}
