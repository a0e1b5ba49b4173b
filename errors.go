package armada

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ErrProviderNotConfigured is returned when a driver name does not resolve
// to any configured provider.
type ErrProviderNotConfigured struct {
	Driver string
}

func (e *ErrProviderNotConfigured) Error() string {
	return fmt.Sprintf("provider not configured: %s", e.Driver)
}

// ErrRequestFailed is a transport-level failure from a provider backend.
// Status is the HTTP status code, Body the raw response body.
type ErrRequestFailed struct {
	Provider string
	Status   int
	Body     string
	// RetryAfter is the parsed Retry-After header, when the server sent one.
	RetryAfter time.Duration
}

func (e *ErrRequestFailed) Error() string {
	return fmt.Sprintf("%s: http %d: %s", e.Provider, e.Status, e.Body)
}

// ParseRetryAfter parses an HTTP Retry-After header value. Both the
// delay-seconds and HTTP-date forms are accepted; anything else yields 0.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// ErrInput is returned when a role, goal, description, or config value
// fails sanitization (dangerous content or over the length cap).
type ErrInput struct {
	Field  string
	Reason string
}

func (e *ErrInput) Error() string {
	return fmt.Sprintf("input rejected: %s: %s", e.Field, e.Reason)
}

// ErrToolInput is returned when a tool input fails schema validation.
type ErrToolInput struct {
	Field  string
	Reason string
}

func (e *ErrToolInput) Error() string {
	return fmt.Sprintf("invalid tool input: %s: %s", e.Field, e.Reason)
}

// ErrAgentNotInCrew is returned when a task references an agent role
// that has not been added to the crew.
type ErrAgentNotInCrew struct {
	Role string
}

func (e *ErrAgentNotInCrew) Error() string {
	return fmt.Sprintf("agent not in crew: %s", e.Role)
}

// ErrTimeout is returned when a crew or flow exceeds its deadline.
// Partial results are carried on the CrewResult/FlowResult, not here.
type ErrTimeout struct {
	Scope string // "crew" or "flow"
}

func (e *ErrTimeout) Error() string {
	return e.Scope + " timed out"
}

// ErrHandlerMissing is returned when a custom step names a handler that
// is not registered.
type ErrHandlerMissing struct {
	Name string
}

func (e *ErrHandlerMissing) Error() string {
	return fmt.Sprintf("step handler missing: %s", e.Name)
}
