// Package provider holds the plumbing shared by the embedding and LLM
// provider abstractions: the error taxonomy, per-provider statistics, rate
// gates, timeouts and health probing.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Error taxonomy. Every provider failure is classified into one of the
// first four kinds; only ErrAllProvidersExhausted reaches callers of the
// abstractions.
var (
	ErrProviderUnavailable   = errors.New("provider unavailable")
	ErrTimeout               = errors.New("provider timeout")
	ErrInvalidResponse       = errors.New("invalid provider response")
	ErrRateLimited           = errors.New("provider rate limited")
	ErrAllProvidersExhausted = errors.New("all providers exhausted")
)

var kinds = []error{ErrProviderUnavailable, ErrTimeout, ErrInvalidResponse, ErrRateLimited, ErrAllProvidersExhausted}

// Error is a classified provider failure. It unwraps to both Kind and the
// underlying cause.
type Error struct {
	Provider string
	Op       string
	Kind     error
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil || e.Err == e.Kind {
		return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Kind)
	}
	return fmt.Sprintf("%s %s: %v: %v", e.Provider, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Wrap classifies err and attaches the provider name and operation. nil
// stays nil.
func Wrap(providerName, op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	return &Error{Provider: providerName, Op: op, Kind: Kind(err), Err: err}
}

// Kind returns the taxonomy sentinel for err. Unknown failures count as
// ErrProviderUnavailable.
func Kind(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrTimeout
	}
	return ErrProviderUnavailable
}

// KindForStatus maps an HTTP status code from a provider to the taxonomy.
// It returns nil for 2xx codes.
func KindForStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return ErrTimeout
	case code == http.StatusUnauthorized || code == http.StatusForbidden || code >= 500:
		return ErrProviderUnavailable
	default:
		return ErrInvalidResponse
	}
}

// StatusError builds a classified error from an HTTP status code.
func StatusError(providerName, op string, code int, body string) error {
	kind := KindForStatus(code)
	if kind == nil {
		return nil
	}
	return &Error{Provider: providerName, Op: op, Kind: kind, Err: fmt.Errorf("status %d: %s", code, body)}
}

// Retryable reports whether a failure is transient enough to retry against
// the same provider.
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTimeout)
}
