// Package events provides the event bus used to propagate backend health
// transitions and hot-reload notifications inside the gateway process.
package events

import "time"

// EventType identifies the kind of event.
type EventType int

const (
	EventHealthChanged EventType = iota
	EventStderrLine
	EventRegistryReloaded
	EventReloadFailed
)

func (e EventType) String() string {
	switch e {
	case EventHealthChanged:
		return "health_changed"
	case EventStderrLine:
		return "stderr_line"
	case EventRegistryReloaded:
		return "registry_reloaded"
	case EventReloadFailed:
		return "reload_failed"
	default:
		return "unknown"
	}
}

// Event is the base interface for all events on the bus.
type Event interface {
	Type() EventType
	Slug() string
	Timestamp() time.Time
}

type baseEvent struct {
	slug      string
	timestamp time.Time
}

func (e baseEvent) Slug() string         { return e.slug }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

// HealthChangedEvent is emitted whenever a backend's health classification
// changes (see internal/health).
type HealthChangedEvent struct {
	baseEvent
	OldState string
	NewState string
}

func (e HealthChangedEvent) Type() EventType { return EventHealthChanged }

// NewHealthChangedEvent creates a new health-changed event.
func NewHealthChangedEvent(slug, oldState, newState string) HealthChangedEvent {
	return HealthChangedEvent{
		baseEvent: baseEvent{slug: slug, timestamp: time.Now()},
		OldState:  oldState,
		NewState:  newState,
	}
}

// StderrLineEvent is emitted when a subprocess backend writes a line to
// stderr. Consumers (e.g. the gateway's own logger) may subscribe for
// diagnostics without holding a reference to the backend's stderr buffer.
type StderrLineEvent struct {
	baseEvent
	Line string
}

func (e StderrLineEvent) Type() EventType { return EventStderrLine }

// NewStderrLineEvent creates a new stderr-line event.
func NewStderrLineEvent(slug, line string) StderrLineEvent {
	return StderrLineEvent{
		baseEvent: baseEvent{slug: slug, timestamp: time.Now()},
		Line:      line,
	}
}

// RegistryReloadedEvent is emitted after a hot-reload swaps in a new
// registry built from an updated config file.
type RegistryReloadedEvent struct {
	baseEvent
	ServerCount int
}

func (e RegistryReloadedEvent) Type() EventType { return EventRegistryReloaded }

// NewRegistryReloadedEvent creates a new registry-reloaded event.
func NewRegistryReloadedEvent(serverCount int) RegistryReloadedEvent {
	return RegistryReloadedEvent{
		baseEvent:   baseEvent{slug: "", timestamp: time.Now()},
		ServerCount: serverCount,
	}
}

// ReloadFailedEvent is emitted when a config change is detected but the
// rebuilt registry fails validation or construction; the previous registry
// remains active.
type ReloadFailedEvent struct {
	baseEvent
	Err error
}

func (e ReloadFailedEvent) Type() EventType { return EventReloadFailed }

// NewReloadFailedEvent creates a new reload-failed event.
func NewReloadFailedEvent(err error) ReloadFailedEvent {
	return ReloadFailedEvent{
		baseEvent: baseEvent{slug: "", timestamp: time.Now()},
		Err:       err,
	}
}
