package mixer

import (
	"time"
)

// rampKind selects which scalar a ramp interpolates
type rampKind int

const (
	rampMaster rampKind = iota
	rampChannel
	rampSource
)

// rampKey addresses an active ramp in the arena
// At most one ramp per target: scheduling a new ramp replaces the old one
type rampKey struct {
	kind    rampKind
	channel Channel
	source  string
}

// ramp is a linear interpolation toward a target volume
type ramp struct {
	from     float64
	to       float64
	started  time.Time
	duration time.Duration
}

// valueAt returns the interpolated volume and whether the ramp finished
func (r ramp) valueAt(now time.Time) (float64, bool) {
	elapsed := now.Sub(r.started)
	if elapsed >= r.duration || r.duration <= 0 {
		return r.to, true
	}
	progress := float64(elapsed) / float64(r.duration)
	return r.from + (r.to-r.from)*progress, false
}
