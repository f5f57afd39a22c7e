package duck

import (
	"strings"
	"time"

	"github.com/lixenwraith/priomix/mixer"
)

// Preset names a canonical ducking configuration
type Preset int

const (
	// PresetDJMode cuts fast and recovers fast for live track talk-over
	PresetDJMode Preset = iota
	// PresetBackgroundMode dips gently for unobtrusive announcements
	PresetBackgroundMode
	// PresetEmergencyMode mutes everything under the trigger immediately
	PresetEmergencyMode
	// PresetMusicMode is the default: music yields clearly to voice
	PresetMusicMode
	// PresetCustom marks a configuration edited away from any canonical preset
	PresetCustom
	presetCount
)

// Valid reports whether p names a known preset
func (p Preset) Valid() bool {
	return p >= PresetDJMode && p < presetCount
}

// String returns the preset name
func (p Preset) String() string {
	switch p {
	case PresetDJMode:
		return "dj"
	case PresetBackgroundMode:
		return "background"
	case PresetEmergencyMode:
		return "emergency"
	case PresetMusicMode:
		return "music"
	case PresetCustom:
		return "custom"
	default:
		return "invalid"
	}
}

// ParsePreset resolves a preset by name, case-insensitive
func ParsePreset(name string) (Preset, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "dj":
		return PresetDJMode, true
	case "background":
		return PresetBackgroundMode, true
	case "emergency":
		return PresetEmergencyMode, true
	case "music":
		return PresetMusicMode, true
	case "custom":
		return PresetCustom, true
	default:
		return PresetCustom, false
	}
}

// presetTimings are the canonical envelope values per preset
// PresetCustom starts from the music values until edited
var presetTimings = map[Preset]TimingSettings{
	PresetDJMode: {
		Attack:    20 * time.Millisecond,
		Release:   100 * time.Millisecond,
		Hold:      50 * time.Millisecond,
		DuckLevel: 0.45,
	},
	PresetBackgroundMode: {
		Attack:    150 * time.Millisecond,
		Release:   800 * time.Millisecond,
		Hold:      500 * time.Millisecond,
		DuckLevel: 0.30,
	},
	PresetEmergencyMode: {
		Attack:    5 * time.Millisecond,
		Release:   500 * time.Millisecond,
		Hold:      time.Second,
		DuckLevel: 0.0,
	},
	PresetMusicMode: {
		Attack:    80 * time.Millisecond,
		Release:   400 * time.Millisecond,
		Hold:      250 * time.Millisecond,
		DuckLevel: 0.25,
	},
	PresetCustom: {
		Attack:    80 * time.Millisecond,
		Release:   400 * time.Millisecond,
		Hold:      250 * time.Millisecond,
		DuckLevel: 0.25,
	},
}

// NewPresetConfiguration builds the canonical configuration for a preset
// Voice ducks Main; Event outranks both and ducks Main and Voice.
// This factory is the only producer of non-custom pair tables, which keeps
// the preset/pairs consistency invariant local
func NewPresetConfiguration(p Preset) Configuration {
	if !p.Valid() {
		p = PresetMusicMode
	}
	timing := presetTimings[p]

	pairs := map[PairKey]PairSettings{
		{Trigger: mixer.Voice, Target: mixer.Main}: {
			Trigger: mixer.Voice, Target: mixer.Main,
			Enabled: true, Priority: 1, Timing: timing,
		},
		{Trigger: mixer.Event, Target: mixer.Main}: {
			Trigger: mixer.Event, Target: mixer.Main,
			Enabled: true, Priority: 2, Timing: timing,
		},
		{Trigger: mixer.Event, Target: mixer.Voice}: {
			Trigger: mixer.Event, Target: mixer.Voice,
			Enabled: true, Priority: 2, Timing: timing,
		},
	}

	return Configuration{
		Enabled:      true,
		ActivePreset: p,
		Default:      timing,
		Pairs:        pairs,
	}
}
