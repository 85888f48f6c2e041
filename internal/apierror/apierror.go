// Package apierror defines the typed error taxonomy shared by every layer of
// the client. Transport failures, HTTP status codes, and upstream error
// bodies are all converted into an APIError; nothing above this package deals
// with raw errors from the wire.
package apierror

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Kind identifies the category of an upstream failure.
type Kind string

const (
	KindRateLimit    Kind = "rate_limit"
	KindAuthExpired  Kind = "auth_expired"
	KindNotFound     Kind = "not_found"
	KindUnavailable  Kind = "unavailable"
	KindNetworkError Kind = "network_error"
	KindUnknown      Kind = "unknown"
)

const (
	retryAfterHeaderName     = "Retry-After"
	rateLimitResetHeaderName = "X-Rate-Limit-Reset"

	defaultRateLimitRetrySeconds = 900
	maxBodyExcerptLength         = 200

	messageRateLimited    = "rate limited by upstream service"
	messageAuthExpired    = "session expired or unauthorized"
	messageNotFound       = "resource not found"
	messageUnavailable    = "upstream service unavailable"
	messageNetworkFailure = "network failure"
)

// APIError is the classified form of any upstream failure. Code carries the
// upstream's numeric error code when the body declared one (for example 467,
// the automation-rejection code on post creation).
type APIError struct {
	Kind       Kind
	Message    string
	StatusCode int
	Code       int
	RetryAfter time.Duration
	ResetAt    time.Time
}

// Error renders the classified failure for logs and diagnostics.
func (apiError *APIError) Error() string {
	if apiError.StatusCode > 0 {
		return fmt.Sprintf("%s (%d): %s", apiError.Kind, apiError.StatusCode, apiError.Message)
	}
	return fmt.Sprintf("%s: %s", apiError.Kind, apiError.Message)
}

// New constructs an APIError with the given kind and message.
func New(kind Kind, message string) *APIError {
	return &APIError{Kind: kind, Message: message}
}

// NetworkError wraps a transport-level failure (timeout, DNS, reset).
func NetworkError(cause error) *APIError {
	message := messageNetworkFailure
	if cause != nil {
		message = fmt.Sprintf("%s: %v", messageNetworkFailure, cause)
	}
	return &APIError{Kind: KindNetworkError, Message: message}
}

// From extracts an *APIError from an error returned by this module. Callers
// that receive a plain error get an unknown-kind wrapper instead of nil.
func From(err error) *APIError {
	if err == nil {
		return nil
	}
	if apiError, ok := err.(*APIError); ok {
		return apiError
	}
	return &APIError{Kind: KindUnknown, Message: err.Error()}
}

// ClassifyResponse converts an HTTP status, response body, and headers into a
// typed APIError. The header set may be nil.
func ClassifyResponse(statusCode int, body string, header http.Header) *APIError {
	switch statusCode {
	case http.StatusTooManyRequests:
		return rateLimitError(statusCode, header)
	case http.StatusUnauthorized, http.StatusForbidden:
		return &APIError{Kind: KindAuthExpired, Message: messageAuthExpired, StatusCode: statusCode}
	case http.StatusNotFound:
		return &APIError{Kind: KindNotFound, Message: messageNotFound, StatusCode: statusCode}
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return &APIError{Kind: KindUnavailable, Message: messageUnavailable, StatusCode: statusCode}
	}

	classified := ClassifyMessage(body)
	classified.StatusCode = statusCode
	return classified
}

// ClassifyMessage applies the substring heuristics used where only a textual
// error is available rather than a live HTTP response.
func ClassifyMessage(text string) *APIError {
	lowered := strings.ToLower(text)
	switch {
	case strings.Contains(lowered, "rate limit"), strings.Contains(lowered, "too many requests"):
		return &APIError{Kind: KindRateLimit, Message: messageRateLimited, RetryAfter: defaultRateLimitRetrySeconds * time.Second}
	case strings.Contains(lowered, "unauthorized"), strings.Contains(lowered, "authenticate"), strings.Contains(lowered, "bad guest token"):
		return &APIError{Kind: KindAuthExpired, Message: messageAuthExpired}
	case strings.Contains(lowered, "not found"), strings.Contains(lowered, "no status found"):
		return &APIError{Kind: KindNotFound, Message: messageNotFound}
	case strings.Contains(lowered, "over capacity"), strings.Contains(lowered, "internal error"), strings.Contains(lowered, "unavailable"):
		return &APIError{Kind: KindUnavailable, Message: messageUnavailable}
	}
	return &APIError{Kind: KindUnknown, Message: excerpt(text)}
}

func rateLimitError(statusCode int, header http.Header) *APIError {
	classified := &APIError{
		Kind:       KindRateLimit,
		Message:    messageRateLimited,
		StatusCode: statusCode,
		RetryAfter: defaultRateLimitRetrySeconds * time.Second,
	}
	if header == nil {
		return classified
	}
	if retryAfter := header.Get(retryAfterHeaderName); retryAfter != "" {
		if seconds, parseErr := strconv.Atoi(retryAfter); parseErr == nil && seconds > 0 {
			classified.RetryAfter = time.Duration(seconds) * time.Second
		}
	}
	if reset := header.Get(rateLimitResetHeaderName); reset != "" {
		if epoch, parseErr := strconv.ParseInt(reset, 10, 64); parseErr == nil && epoch > 0 {
			classified.ResetAt = time.Unix(epoch, 0)
		}
	}
	return classified
}

func excerpt(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "unexpected upstream response"
	}
	runes := []rune(trimmed)
	if len(runes) <= maxBodyExcerptLength {
		return trimmed
	}
	return string(runes[:maxBodyExcerptLength])
}
