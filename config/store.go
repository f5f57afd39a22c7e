// Package config persists the ducking configuration as a TOML document
// Loaded at startup, saved on configuration updates
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/lixenwraith/priomix/duck"
	"github.com/lixenwraith/priomix/mixer"
)

// Environment overrides, applied on top of the loaded file
const (
	EnvEnabled   = "PRIOMIX_DUCKING_ENABLED"
	EnvPreset    = "PRIOMIX_PRESET"
	EnvDuckLevel = "PRIOMIX_DUCK_LEVEL"
)

// fileConfig is the TOML shape; durations persist as milliseconds
type fileConfig struct {
	Enabled         bool         `toml:"enabled"`
	Preset          string       `toml:"preset"`
	EnableLookAhead bool         `toml:"enable_look_ahead"`
	LookAheadMs     int64        `toml:"look_ahead_ms"`
	Default         fileTiming   `toml:"default"`
	Pairs           []filePair   `toml:"pair"`
}

type fileTiming struct {
	AttackMs  int64   `toml:"attack_ms"`
	ReleaseMs int64   `toml:"release_ms"`
	HoldMs    int64   `toml:"hold_ms"`
	DuckLevel float64 `toml:"duck_level"`
}

type filePair struct {
	Trigger  string `toml:"trigger"`
	Target   string `toml:"target"`
	Enabled  bool   `toml:"enabled"`
	Priority int    `toml:"priority"`
	fileTiming
}

// Store reads and writes one configuration file
type Store struct {
	path string
	log  *zap.Logger
}

// NewStore creates a store for the given path
func NewStore(path string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{path: path, log: log}
}

// DefaultPath is the per-user configuration location
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "resolve home directory")
	}
	return filepath.Join(home, ".config", "priomix", "ducking.toml"), nil
}

// Load reads the configuration, applying environment overrides
// A missing file yields the music preset defaults, not an error. Named
// presets rebuild their pair table from the preset factory so external
// edits cannot desynchronize a canonical preset
func (s *Store) Load() (duck.Configuration, error) {
	cfg, err := s.loadFile()
	if err != nil {
		return duck.Configuration{}, err
	}
	cfg = applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return duck.Configuration{}, errors.Wrap(err, "loaded configuration")
	}
	return cfg, nil
}

func (s *Store) loadFile() (duck.Configuration, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.log.Info("no configuration file, using music preset defaults",
			zap.String("path", s.path))
		return duck.NewPresetConfiguration(duck.PresetMusicMode), nil
	}
	if err != nil {
		return duck.Configuration{}, errors.Wrapf(err, "read %s", s.path)
	}

	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return duck.Configuration{}, errors.Wrapf(err, "parse %s", s.path)
	}
	return fromFile(fc)
}

// Save writes the configuration atomically: temp file then rename
func (s *Store) Save(cfg duck.Configuration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := toml.Marshal(toFile(cfg))
	if err != nil {
		return errors.Wrap(err, "encode configuration")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create %s", dir)
	}

	tmp, err := os.CreateTemp(dir, ".ducking-*.toml")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "write configuration")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "close temp file")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "rename to %s", s.path)
	}
	return nil
}

// fromFile converts the TOML shape to a domain configuration
func fromFile(fc fileConfig) (duck.Configuration, error) {
	preset, ok := duck.ParsePreset(fc.Preset)
	if !ok && fc.Preset != "" {
		return duck.Configuration{}, errors.Errorf("unknown preset %q", fc.Preset)
	}

	var cfg duck.Configuration
	if preset != duck.PresetCustom {
		// Canonical presets come from the factory, never from file pairs
		cfg = duck.NewPresetConfiguration(preset)
	} else {
		cfg = duck.Configuration{
			ActivePreset: duck.PresetCustom,
			Default:      fc.Default.toTiming(),
			Pairs:        make(map[duck.PairKey]duck.PairSettings, len(fc.Pairs)),
		}
		for _, fp := range fc.Pairs {
			trigger, ok := mixer.ParseChannel(fp.Trigger)
			if !ok {
				return duck.Configuration{}, errors.Errorf("unknown trigger channel %q", fp.Trigger)
			}
			target, ok := mixer.ParseChannel(fp.Target)
			if !ok {
				return duck.Configuration{}, errors.Errorf("unknown target channel %q", fp.Target)
			}
			key := duck.PairKey{Trigger: trigger, Target: target}
			cfg.Pairs[key] = duck.PairSettings{
				Trigger:  trigger,
				Target:   target,
				Enabled:  fp.Enabled,
				Priority: fp.Priority,
				Timing:   fp.fileTiming.toTiming(),
			}
		}
	}

	cfg.Enabled = fc.Enabled
	cfg.EnableLookAhead = fc.EnableLookAhead
	cfg.LookAhead = time.Duration(fc.LookAheadMs) * time.Millisecond
	return cfg, nil
}

// toFile converts a domain configuration to the TOML shape
func toFile(cfg duck.Configuration) fileConfig {
	fc := fileConfig{
		Enabled:         cfg.Enabled,
		Preset:          cfg.ActivePreset.String(),
		EnableLookAhead: cfg.EnableLookAhead,
		LookAheadMs:     cfg.LookAhead.Milliseconds(),
		Default:         timingToFile(cfg.Default),
	}
	// Stable order: iterate the closed channel set, not the map
	for _, trigger := range mixer.AllChannels {
		for _, target := range mixer.AllChannels {
			pair, ok := cfg.Pairs[duck.PairKey{Trigger: trigger, Target: target}]
			if !ok {
				continue
			}
			fc.Pairs = append(fc.Pairs, filePair{
				Trigger:    pair.Trigger.String(),
				Target:     pair.Target.String(),
				Enabled:    pair.Enabled,
				Priority:   pair.Priority,
				fileTiming: timingToFile(pair.Timing),
			})
		}
	}
	return fc
}

func (ft fileTiming) toTiming() duck.TimingSettings {
	return duck.TimingSettings{
		Attack:    time.Duration(ft.AttackMs) * time.Millisecond,
		Release:   time.Duration(ft.ReleaseMs) * time.Millisecond,
		Hold:      time.Duration(ft.HoldMs) * time.Millisecond,
		DuckLevel: ft.DuckLevel,
	}
}

func timingToFile(t duck.TimingSettings) fileTiming {
	return fileTiming{
		AttackMs:  t.Attack.Milliseconds(),
		ReleaseMs: t.Release.Milliseconds(),
		HoldMs:    t.Hold.Milliseconds(),
		DuckLevel: t.DuckLevel,
	}
}

// applyEnv layers environment overrides onto a loaded configuration
func applyEnv(cfg duck.Configuration) duck.Configuration {
	if v := os.Getenv(EnvEnabled); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Enabled = enabled
		}
	}
	if v := os.Getenv(EnvPreset); v != "" {
		if preset, ok := duck.ParsePreset(v); ok && preset != duck.PresetCustom {
			rebuilt := duck.NewPresetConfiguration(preset)
			rebuilt.Enabled = cfg.Enabled
			rebuilt.EnableLookAhead = cfg.EnableLookAhead
			rebuilt.LookAhead = cfg.LookAhead
			cfg = rebuilt
		}
	}
	if v := os.Getenv(EnvDuckLevel); v != "" {
		if level, err := strconv.ParseFloat(v, 64); err == nil && level >= 0 && level <= 1 {
			cfg.Default.DuckLevel = level
			for key, pair := range cfg.Pairs {
				pair.Timing.DuckLevel = level
				cfg.Pairs[key] = pair
			}
			cfg.ActivePreset = duck.PresetCustom
		}
	}
	return cfg
}
