package llm

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds, matching the runtime error taxonomy. Classification is carried
// on the error value, never inferred from message strings.
const (
	KindTimeout   = "timeout"
	KindTransient = "transient"  // 5xx, connection resets
	KindRateLimit = "rate_limit" // 429
	KindPermanent = "permanent"  // 4xx other than 429, schema rejections
)

// Error is a classified provider failure.
type Error struct {
	Provider   string
	Kind       string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("llm %s: %s (status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the error should be retried within the turn.
// Rate limits are surfaced to the user instead of retried.
func Retryable(err error) bool {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind == KindTimeout || le.Kind == KindTransient
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsRateLimit reports whether the error is a provider rate limit.
func IsRateLimit(err error) bool {
	var le *Error
	return errors.As(err, &le) && le.Kind == KindRateLimit
}

// IsPermanent reports whether the error is not worth retrying.
func IsPermanent(err error) bool {
	var le *Error
	return errors.As(err, &le) && le.Kind == KindPermanent
}

// classifyStatus maps an HTTP status to an error kind.
func classifyStatus(status int) string {
	switch {
	case status == 429:
		return KindRateLimit
	case status >= 500:
		return KindTransient
	case status == 408:
		return KindTimeout
	default:
		return KindPermanent
	}
}
