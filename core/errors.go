package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ClientErrorBadInput           = "CLIENT_BAD_INPUT"
	ClientErrorUnauthorized       = "CLIENT_UNAUTHORIZED"
	ClientErrorRefreshRejected    = "CLIENT_REFRESH_REJECTED"
	ClientErrorReauthRequired     = "CLIENT_REAUTH_REQUIRED"
	ClientErrorExternalFailure    = "CLIENT_EXTERNAL_FAILURE"
	ClientErrorStreamDisconnected = "CLIENT_STREAM_DISCONNECTED"
	ClientErrorInternal           = "CLIENT_INTERNAL_ERROR"
)

func clientErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureClientErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "refresh token") && (strings.Contains(msg, "rejected") || strings.Contains(msg, "invalid") || strings.Contains(msg, "expired")):
		return newClientError(err.Error(), goerrors.CategoryAuth, ClientErrorRefreshRejected)
	case strings.Contains(msg, "invalid_grant"), strings.Contains(msg, "re-auth required"), strings.Contains(msg, "reauthorization required"):
		return newClientError(err.Error(), goerrors.CategoryAuth, ClientErrorReauthRequired)
	case strings.Contains(msg, "unauthorized"):
		return newClientError(err.Error(), goerrors.CategoryAuth, ClientErrorUnauthorized)
	case strings.Contains(msg, "reconnect"), strings.Contains(msg, "connection closed"):
		return newClientError(err.Error(), goerrors.CategoryExternal, ClientErrorStreamDisconnected)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "mismatch"):
		return newClientError(err.Error(), goerrors.CategoryBadInput, ClientErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureClientErrorEnvelope(mapped)
}

func newClientError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureClientErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureClientErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = clientHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultClientTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultClientTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ClientErrorBadInput
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ClientErrorUnauthorized
	case goerrors.CategoryExternal:
		return ClientErrorExternalFailure
	default:
		return ClientErrorInternal
	}
}

func clientHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// IsRefreshRejected reports whether the error marks a fatal refresh outcome:
// the refresh token itself was refused and credential state was torn down.
func IsRefreshRejected(err error) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		if strings.TrimSpace(richErr.TextCode) == ClientErrorRefreshRejected {
			return true
		}
	}
	return false
}

// IsNotFoundClass reports whether the error represents the missing-endpoint
// failure class that allows one legacy-path refresh fallback.
func IsNotFoundClass(err error) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		if richErr.Category == goerrors.CategoryNotFound {
			return true
		}
		if richErr.Code == http.StatusNotFound || richErr.Code == http.StatusGone {
			return true
		}
	}
	return false
}
