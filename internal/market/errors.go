package market

import (
	"errors"
	"fmt"
)

// ConfigurationError marks a bad provider, symbol mapping, interval or
// period. It fails the call, never the process.
type ConfigurationError struct {
	Field  string
	Value  string
	Reason string
}

func NewConfigurationError(field, value, reason string) *ConfigurationError {
	return &ConfigurationError{Field: field, Value: value, Reason: reason}
}

func (e *ConfigurationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("configuration: %s=%q: %s", e.Field, e.Value, e.Reason)
}

// ProviderRequestError is a recoverable failure of one request against one
// sub-window.
type ProviderRequestError struct {
	Provider    string
	Symbol      string
	Window      FetchWindow
	StatusCode  int
	RateLimited bool
	Err         error
}

func (e *ProviderRequestError) Error() string {
	msg := fmt.Sprintf("%s %s %s", e.Provider, e.Symbol, e.Window)
	if e.StatusCode > 0 {
		msg += fmt.Sprintf(" status=%d", e.StatusCode)
	}
	if e.RateLimited {
		msg += " rate-limited"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderRequestError) Unwrap() error { return e.Err }

// Retryable is false for client errors other than rate limiting.
func (e *ProviderRequestError) Retryable() bool {
	if e.RateLimited {
		return true
	}
	if e.StatusCode >= 400 && e.StatusCode < 500 {
		return false
	}
	var cfgErr *ConfigurationError
	return !errors.As(e.Err, &cfgErr)
}

type InsufficientDataError struct {
	Symbol string
	Got    int
	Want   int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for %s: got %d bars, need %d", e.Symbol, e.Got, e.Want)
}

// PersistenceError means the series for Key was not written; the caller must
// retry on its next pass.
type PersistenceError struct {
	Key SeriesKey
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s (%s): %v", e.Key, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ErrorKind maps an error onto the taxonomy name used in API payloads.
func ErrorKind(err error) string {
	var (
		cfgErr  *ConfigurationError
		reqErr  *ProviderRequestError
		dataErr *InsufficientDataError
		perErr  *PersistenceError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &cfgErr):
		return "configuration"
	case errors.As(err, &dataErr):
		return "insufficient_data"
	case errors.As(err, &perErr):
		return "persistence"
	case errors.As(err, &reqErr):
		return "provider_request"
	default:
		return "internal"
	}
}
