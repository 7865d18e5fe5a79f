package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorBadInput          = "ESCROW_BAD_INPUT"
	ErrorSignatureInvalid  = "ESCROW_SIGNATURE_INVALID"
	ErrorMalformedPayload  = "ESCROW_MALFORMED_PAYLOAD"
	ErrorNotFound          = "ESCROW_NOT_FOUND"
	ErrorPolicyDenied      = "ESCROW_POLICY_DENIED"
	ErrorDependencyMissing = "ESCROW_DEPENDENCY_MISSING"
	ErrorRateLimited       = "ESCROW_RATE_LIMITED"
	ErrorInternal          = "ESCROW_INTERNAL_ERROR"
)

func errorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "signature"):
		return newError(err.Error(), goerrors.CategoryAuth, ErrorSignatureInvalid)
	case strings.Contains(msg, "malformed"), strings.Contains(msg, "unrecognized"):
		return newError(err.Error(), goerrors.CategoryBadInput, ErrorMalformedPayload)
	case strings.Contains(msg, "not found"):
		return newError(err.Error(), goerrors.CategoryNotFound, ErrorNotFound)
	case strings.Contains(msg, "policy"), strings.Contains(msg, "disallow"), strings.Contains(msg, "not permitted"):
		return newError(err.Error(), goerrors.CategoryOperation, ErrorPolicyDenied)
	case strings.Contains(msg, "throttled"), strings.Contains(msg, "rate limit"):
		return newError(err.Error(), goerrors.CategoryRateLimit, ErrorRateLimited)
	case strings.Contains(msg, "is not configured"):
		return newError(err.Error(), goerrors.CategoryInternal, ErrorDependencyMissing)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "mismatch"):
		return newError(err.Error(), goerrors.CategoryBadInput, ErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureErrorEnvelope(mapped)
}

func newError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = httpStatusFor(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorBadInput
	case goerrors.CategoryNotFound:
		return ErrorNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ErrorSignatureInvalid
	case goerrors.CategoryOperation:
		return ErrorPolicyDenied
	default:
		return ErrorInternal
	}
}

func httpStatusFor(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// MapError exposes the mapper for boundary layers (HTTP handlers, command
// error envelopes) outside this package.
func MapError(err error) *goerrors.Error {
	return errorMapper(err)
}

// DependencyError produces a stable-shape internal error for a missing
// collaborator (unconfigured port, nil dependency).
func DependencyError(message string) error {
	return goerrors.New(message, goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(ErrorDependencyMissing)
}

// ValidationError produces a stable-shape bad-input error for a single field.
func ValidationError(field, message string) error {
	return goerrors.NewValidation("core: validation failed", goerrors.FieldError{
		Field:   field,
		Message: message,
	}).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorBadInput).
		WithSeverity(goerrors.SeverityError)
}
