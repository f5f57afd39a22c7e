package duck

import (
	"time"
)

// envelope is the attack-hold-release state for one (trigger, target) pair
//
// Timing is frozen when the envelope is created or re-armed: configuration
// swaps never rewrite an in-flight envelope. The pair factor ramps in
// [target, 1]; 1 means no duck. All access is under the engine lock
type envelope struct {
	pair   PairKey
	timing TimingSettings

	phase      Phase
	level      float64
	from       float64
	target     float64
	phaseStart time.Time
	startedAt  time.Time
	holdUntil  time.Time

	// triggers maps active source ids to the duck level each requested
	triggers map[string]float64
}

func newEnvelope(pair PairKey, now time.Time) *envelope {
	return &envelope{
		pair:      pair,
		phase:     PhaseNone,
		level:     1.0,
		from:      1.0,
		target:    1.0,
		startedAt: now,
		triggers:  make(map[string]float64),
	}
}

// retarget recomputes the effective floor: the deepest level wins when
// several triggers cascade onto the same pair
func (e *envelope) retarget() {
	e.target = 1.0
	for _, level := range e.triggers {
		if level < e.target {
			e.target = level
		}
	}
}

// addTrigger engages or re-arms the envelope for a new trigger source
// A trigger arriving mid-release re-attacks from the current partial level
// rather than resetting, avoiding audible jumps
func (e *envelope) addTrigger(sourceID string, timing TimingSettings, attackStart time.Time) {
	e.triggers[sourceID] = timing.DuckLevel
	e.retarget()
	e.holdUntil = time.Time{}

	switch e.phase {
	case PhaseNone:
		e.timing = timing
		e.from = 1.0
		e.level = 1.0
		e.phase = PhaseAttack
		e.phaseStart = attackStart
		e.startedAt = attackStart
	case PhaseHold, PhaseRelease:
		// Re-arm with the incoming trigger's timing, keep the partial level
		e.timing = timing
		e.from = e.level
		e.phase = PhaseAttack
		e.phaseStart = attackStart
	case PhaseAttack:
		// Already attacking; the retarget above deepens the floor if needed
	}
}

// removeTrigger drops a source; returns false if it was never a trigger here
// When the last trigger leaves, the hold floor starts counting
func (e *envelope) removeTrigger(sourceID string, now time.Time) bool {
	if _, ok := e.triggers[sourceID]; !ok {
		return false
	}
	delete(e.triggers, sourceID)

	if len(e.triggers) == 0 {
		e.holdUntil = now.Add(e.timing.Hold)
		return true
	}

	// Remaining triggers may be shallower; ramp to the new floor
	prev := e.target
	e.retarget()
	if e.target != prev && e.phase == PhaseHold {
		e.from = e.level
		e.phase = PhaseAttack
		e.phaseStart = now
	}
	return true
}

// forceHold snaps the envelope to the floor with no ramp (emergency path)
func (e *envelope) forceHold(sourceID string, timing TimingSettings, now time.Time) {
	e.triggers[sourceID] = timing.DuckLevel
	e.timing = timing
	e.retarget()
	e.level = e.target
	e.from = e.target
	e.phase = PhaseHold
	e.phaseStart = now
	if e.startedAt.IsZero() || len(e.triggers) == 1 {
		e.startedAt = now
	}
	e.holdUntil = time.Time{}
}

// stepResult reports phase transitions observed during advance
type stepResult struct {
	attackDone     bool
	attackElapsed  time.Duration
	finished       bool
	releaseElapsed time.Duration
}

// advance moves the envelope forward to now
func (e *envelope) advance(now time.Time) stepResult {
	var res stepResult

	switch e.phase {
	case PhaseAttack:
		elapsed := now.Sub(e.phaseStart)
		if elapsed >= e.timing.Attack {
			e.level = e.target
			e.phase = PhaseHold
			res.attackDone = true
			res.attackElapsed = elapsed
			break
		}
		progress := float64(elapsed) / float64(e.timing.Attack)
		e.level = e.from + (e.target-e.from)*progress

	case PhaseHold:
		e.level = e.target
		if len(e.triggers) == 0 && !e.holdUntil.IsZero() && !now.Before(e.holdUntil) {
			e.phase = PhaseRelease
			e.from = e.level
			e.phaseStart = now
		}

	case PhaseRelease:
		elapsed := now.Sub(e.phaseStart)
		if e.timing.Release <= 0 || elapsed >= e.timing.Release {
			e.level = 1.0
			e.phase = PhaseNone
			res.finished = true
			res.releaseElapsed = elapsed
			break
		}
		progress := float64(elapsed) / float64(e.timing.Release)
		e.level = e.from + (1.0-e.from)*progress
	}

	return res
}
