package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation Kind = "VALIDATION"
	KindNotFound   Kind = "NOT_FOUND"
	KindProxy      Kind = "PROXY_ERROR"
	KindRateLimit  Kind = "RATE_LIMIT"
	KindScraper    Kind = "SCRAPER_ERROR"
	KindDatabase   Kind = "DATABASE_ERROR"
	KindInternal   Kind = "INTERNAL"
)

// Sentinel causes for the scraper sub-cases, checkable with errors.Is.
var (
	ErrContentMismatch    = errors.New("rendered content does not match requested identity")
	ErrChallengeNotPassed = errors.New("challenge page not bypassed within timeout")
	ErrNoCredential       = errors.New("no proxy credential available")
)

type AppError struct {
	Kind        Kind
	Message     string
	Err         error
	Retryable   bool
	Operational bool
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindProxy:
		return http.StatusBadGateway
	case KindScraper:
		return http.StatusBadGateway
	case KindDatabase:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func Validation(msg string) *AppError {
	return &AppError{Kind: KindValidation, Message: msg, Operational: true}
}

func NotFound(msg string) *AppError {
	return &AppError{Kind: KindNotFound, Message: msg, Operational: true}
}

func Proxy(msg string, err error) *AppError {
	return &AppError{Kind: KindProxy, Message: msg, Err: err, Retryable: true, Operational: true}
}

func RateLimit(msg string, err error) *AppError {
	return &AppError{Kind: KindRateLimit, Message: msg, Err: err, Retryable: true, Operational: true}
}

func Scraper(msg string, err error) *AppError {
	return &AppError{Kind: KindScraper, Message: msg, Err: err, Operational: true}
}

func Database(msg string, err error) *AppError {
	return &AppError{Kind: KindDatabase, Message: msg, Err: err, Operational: true}
}

func Internal(msg string, err error) *AppError {
	return &AppError{Kind: KindInternal, Message: msg, Err: err}
}

// KindOf classifies any error; unclassified errors report KindInternal.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

func IsOperational(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Operational
	}
	return false
}
