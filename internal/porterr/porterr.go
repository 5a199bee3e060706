// Package porterr defines Porter's error taxonomy: a small, closed set of
// error kinds that every component returns instead of ad-hoc wrapped
// errors, so registry and gateway code can branch on Kind rather than on
// message text.
package porterr

import (
	"errors"
	"fmt"
)

// Kind identifies a category of Porter error.
type Kind int

const (
	// DuplicateSlug means two configured backends share the same slug.
	DuplicateSlug Kind = iota
	// InvalidConfig means a config entry failed validation.
	InvalidConfig
	// InitializationFailed means a backend's handshake did not complete.
	InitializationFailed
	// ServerUnhealthy means a call was routed to a backend currently
	// classified Unhealthy and was rejected without forwarding.
	ServerUnhealthy
	// Protocol means a registry-level routing or framing error occurred
	// (unknown slug, missing namespace prefix, dropped response channel).
	Protocol
	// Transport means the underlying transport returned an error.
	Transport
	// CallTimeout means a tool call exceeded its configured timeout.
	CallTimeout
	// ShuttingDown means the call arrived after cancellation began.
	ShuttingDown
	// HelpParseFailed means `--help` output could not be parsed into a
	// schema.
	HelpParseFailed
	// HelpTimeout means a `--help` invocation did not return in time.
	HelpTimeout
	// AccessDenied means the access guard rejected a CLI invocation.
	AccessDenied
	// DiscoveryTimeout means subcommand discovery exceeded its budget.
	DiscoveryTimeout
)

func (k Kind) String() string {
	switch k {
	case DuplicateSlug:
		return "duplicate_slug"
	case InvalidConfig:
		return "invalid_config"
	case InitializationFailed:
		return "initialization_failed"
	case ServerUnhealthy:
		return "server_unhealthy"
	case Protocol:
		return "protocol"
	case Transport:
		return "transport"
	case CallTimeout:
		return "call_timeout"
	case ShuttingDown:
		return "shutting_down"
	case HelpParseFailed:
		return "help_parse_failed"
	case HelpTimeout:
		return "help_timeout"
	case AccessDenied:
		return "access_denied"
	case DiscoveryTimeout:
		return "discovery_timeout"
	default:
		return "unknown"
	}
}

// Error is Porter's single error type. Slug identifies the backend the
// error pertains to, where applicable (empty for config-wide errors).
// Detail carries the kind-specific message text.
type Error struct {
	Kind   Kind
	Slug   string
	Detail string
}

func (e *Error) Error() string {
	switch e.Kind {
	case DuplicateSlug:
		return fmt.Sprintf("duplicate server slug: %s", e.Slug)
	case InvalidConfig:
		return fmt.Sprintf("invalid config for server '%s': %s", e.Slug, e.Detail)
	case InitializationFailed:
		return fmt.Sprintf("initialization failed for server '%s': %s", e.Slug, e.Detail)
	case ServerUnhealthy:
		return fmt.Sprintf("server '%s' is unhealthy: %s", e.Slug, e.Detail)
	case Protocol:
		return fmt.Sprintf("protocol error for '%s': %s", e.Slug, e.Detail)
	case Transport:
		return fmt.Sprintf("transport error for server '%s': %s", e.Slug, e.Detail)
	case CallTimeout:
		return fmt.Sprintf("call timeout for server '%s'", e.Slug)
	case ShuttingDown:
		return fmt.Sprintf("server '%s' is shutting down", e.Slug)
	case HelpParseFailed:
		return fmt.Sprintf("help parse failed for '%s': %s", e.Slug, e.Detail)
	case HelpTimeout:
		return fmt.Sprintf("help invocation timed out for '%s'", e.Slug)
	case AccessDenied:
		return fmt.Sprintf("access denied for '%s': %s", e.Slug, e.Detail)
	case DiscoveryTimeout:
		return fmt.Sprintf("discovery timed out for '%s'", e.Slug)
	default:
		return fmt.Sprintf("porter error (%s) for '%s': %s", e.Kind, e.Slug, e.Detail)
	}
}

// Is supports errors.Is(err, &Error{Kind: X}) style comparisons against a
// bare Kind sentinel (Slug/Detail left zero on the target).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an Error of the given kind.
func New(kind Kind, slug, detail string) *Error {
	return &Error{Kind: kind, Slug: slug, Detail: detail}
}

// KindOf reports the Kind of err if it is (or wraps) a *Error, with ok=false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var pe *Error
	if !errors.As(err, &pe) {
		return 0, false
	}
	return pe.Kind, true
}
