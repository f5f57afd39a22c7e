package duck

import (
	"errors"
	"fmt"
	"time"

	"github.com/lixenwraith/priomix/mixer"
)

// ErrValidation marks caller-supplied values outside their contract
// Configuration updates failing validation leave prior state untouched
var ErrValidation = errors.New("validation failed")

// TimingSettings describes one attack-hold-release envelope
type TimingSettings struct {
	// Attack is the ramp-down time; must be at least one millisecond
	Attack time.Duration
	// Release is the ramp-back time after the hold floor elapses
	Release time.Duration
	// Hold keeps the duck engaged after the last trigger ends,
	// preventing flap on short bursts
	Hold time.Duration
	// DuckLevel is the floor multiplier at full duck:
	// 0.0 mutes the target, 1.0 is a no-op
	DuckLevel float64
}

// Validate checks the envelope parameters
func (t TimingSettings) Validate() error {
	if t.Attack < time.Millisecond {
		return fmt.Errorf("%w: attack %v below 1ms minimum", ErrValidation, t.Attack)
	}
	if t.Release < 0 {
		return fmt.Errorf("%w: negative release %v", ErrValidation, t.Release)
	}
	if t.Hold < 0 {
		return fmt.Errorf("%w: negative hold %v", ErrValidation, t.Hold)
	}
	if t.DuckLevel < 0 || t.DuckLevel > 1 {
		return fmt.Errorf("%w: duck level %v outside [0,1]", ErrValidation, t.DuckLevel)
	}
	return nil
}

// PairKey addresses the settings for one ordered (trigger, target) pair
// Channels form a closed set, so pairs key a fixed-size map instead of
// concatenated strings
type PairKey struct {
	Trigger mixer.Channel
	Target  mixer.Channel
}

// String renders the key for logs and persistence
func (k PairKey) String() string {
	return k.Trigger.String() + "-" + k.Target.String()
}

// PairSettings configures ducking for one ordered channel pair
type PairSettings struct {
	Trigger mixer.Channel
	Target  mixer.Channel
	Enabled bool
	// Priority ranks pairs when cascading ducks overlap; higher wins ties
	Priority int
	Timing   TimingSettings
}

// Validate checks pair coherence
func (p PairSettings) Validate() error {
	if !p.Trigger.Valid() || !p.Target.Valid() {
		return fmt.Errorf("%w: invalid channel in pair %s-%s", ErrValidation, p.Trigger, p.Target)
	}
	if p.Trigger == p.Target {
		return fmt.Errorf("%w: pair cannot duck its own trigger channel %s", ErrValidation, p.Trigger)
	}
	return p.Timing.Validate()
}

// Configuration is the full ducking policy
type Configuration struct {
	Enabled      bool
	ActivePreset Preset
	// Default supplies timing for triggers with no matching pair entry
	// and carries the duck-percentage scalar
	Default TimingSettings
	// Pairs holds at most one settings entry per ordered (trigger, target) pair
	Pairs map[PairKey]PairSettings
	// EnableLookAhead gives attacks a head start of LookAhead
	EnableLookAhead bool
	LookAhead       time.Duration
}

// Validate checks the whole configuration; all-or-nothing
func (c Configuration) Validate() error {
	if !c.ActivePreset.Valid() {
		return fmt.Errorf("%w: unknown preset %d", ErrValidation, int(c.ActivePreset))
	}
	if err := c.Default.Validate(); err != nil {
		return fmt.Errorf("default settings: %w", err)
	}
	if c.LookAhead < 0 {
		return fmt.Errorf("%w: negative look-ahead %v", ErrValidation, c.LookAhead)
	}
	for key, pair := range c.Pairs {
		if key.Trigger != pair.Trigger || key.Target != pair.Target {
			return fmt.Errorf("%w: pair %s keyed under %s", ErrValidation,
				PairKey{pair.Trigger, pair.Target}, key)
		}
		if err := pair.Validate(); err != nil {
			return fmt.Errorf("pair %s: %w", key, err)
		}
	}
	return nil
}

// Clone returns a deep copy so callers cannot mutate engine state
func (c Configuration) Clone() Configuration {
	out := c
	out.Pairs = make(map[PairKey]PairSettings, len(c.Pairs))
	for k, v := range c.Pairs {
		out.Pairs[k] = v
	}
	return out
}

// PairsForTrigger returns the enabled pairs fired by the given channel
func (c Configuration) PairsForTrigger(trigger mixer.Channel) []PairSettings {
	var out []PairSettings
	for _, ch := range mixer.AllChannels {
		if pair, ok := c.Pairs[PairKey{Trigger: trigger, Target: ch}]; ok && pair.Enabled {
			out = append(out, pair)
		}
	}
	return out
}
