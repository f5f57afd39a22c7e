package duck

import (
	"time"

	"github.com/lixenwraith/priomix/mixer"
)

// Phase is the envelope state for a ducked channel
type Phase int

const (
	PhaseNone Phase = iota
	PhaseAttack
	PhaseHold
	PhaseRelease
)

// String returns the phase name
func (p Phase) String() string {
	switch p {
	case PhaseNone:
		return "none"
	case PhaseAttack:
		return "attack"
	case PhaseHold:
		return "hold"
	case PhaseRelease:
		return "release"
	default:
		return "invalid"
	}
}

// Status is a point-in-time snapshot of one channel's ducking state
// Reads never block on in-flight envelope updates: the engine publishes
// fresh snapshots after each tick and readers load the last consistent one
type Status struct {
	Channel mixer.Channel
	// IsDucked is true while any envelope holds the channel below original
	IsDucked bool
	// CurrentLevel is the channel's present volume, original x duck factor
	CurrentLevel float64
	// OriginalLevel is the base volume captured when ducking engaged
	OriginalLevel float64
	// TriggeringChannels lists the trigger buses currently ducking this channel
	TriggeringChannels []mixer.Channel
	// TriggeringSources lists the source ids currently ducking this channel
	TriggeringSources []string
	// StartedAt is when the first active trigger engaged; zero when not ducked
	StartedAt time.Time
	Phase     Phase
}
