package events

import (
	"time"
)

// Type identifies a mixer notification
type Type int

const (
	// DuckingStateChanged signals a channel entered or left a ducking phase
	// Payload: duck.Status snapshot for the affected channel
	DuckingStateChanged Type = iota

	// ConfigurationChanged signals the ducking configuration was replaced
	// Payload: duck.Configuration (the new active configuration)
	ConfigurationChanged

	// TransitionStarted signals a fade or crossfade began
	// Payload: fade.Transition
	TransitionStarted

	// TransitionProgress signals interpolation progress during a transition
	// Payload: fade.ProgressReport | Cadence: controller tick rate (>= 20 Hz)
	TransitionProgress

	// TransitionCompleted signals a transition ran to its full duration
	// Payload: fade.Transition
	TransitionCompleted

	// TransitionCancelled signals a transition was stopped mid-ramp
	// Payload: fade.Transition with the progress reached at cancellation
	TransitionCancelled
)

// String returns the notification name
func (t Type) String() string {
	switch t {
	case DuckingStateChanged:
		return "DuckingStateChanged"
	case ConfigurationChanged:
		return "ConfigurationChanged"
	case TransitionStarted:
		return "TransitionStarted"
	case TransitionProgress:
		return "TransitionProgress"
	case TransitionCompleted:
		return "TransitionCompleted"
	case TransitionCancelled:
		return "TransitionCancelled"
	default:
		return "Unknown"
	}
}

// Event is a single notification with metadata
type Event struct {
	Type      Type
	Payload   any
	Timestamp time.Time
}
