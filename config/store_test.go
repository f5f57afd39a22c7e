package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lixenwraith/priomix/duck"
	"github.com/lixenwraith/priomix/mixer"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "ducking.toml"), nil)
}

func TestLoadMissingFileYieldsMusicDefaults(t *testing.T) {
	store := tempStore(t)

	cfg, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ActivePreset != duck.PresetMusicMode {
		t.Errorf("expected music preset, got %s", cfg.ActivePreset)
	}
	if !cfg.Enabled {
		t.Error("expected ducking enabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default configuration invalid: %v", err)
	}
}

func TestSaveLoadRoundTripCustom(t *testing.T) {
	store := tempStore(t)

	want := duck.Configuration{
		Enabled:         true,
		ActivePreset:    duck.PresetCustom,
		EnableLookAhead: true,
		LookAhead:       30 * time.Millisecond,
		Default: duck.TimingSettings{
			Attack:    70 * time.Millisecond,
			Release:   300 * time.Millisecond,
			Hold:      200 * time.Millisecond,
			DuckLevel: 0.35,
		},
		Pairs: map[duck.PairKey]duck.PairSettings{
			{Trigger: mixer.Voice, Target: mixer.Main}: {
				Trigger: mixer.Voice, Target: mixer.Main,
				Enabled: true, Priority: 3,
				Timing: duck.TimingSettings{
					Attack:    25 * time.Millisecond,
					Release:   150 * time.Millisecond,
					Hold:      100 * time.Millisecond,
					DuckLevel: 0.15,
				},
			},
		},
	}

	if err := store.Save(want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if got.ActivePreset != duck.PresetCustom {
		t.Errorf("preset = %s, want custom", got.ActivePreset)
	}
	if got.Default != want.Default {
		t.Errorf("default = %+v, want %+v", got.Default, want.Default)
	}
	if !got.EnableLookAhead || got.LookAhead != want.LookAhead {
		t.Errorf("look-ahead = (%v, %v), want (true, %v)", got.EnableLookAhead, got.LookAhead, want.LookAhead)
	}
	if len(got.Pairs) != 1 {
		t.Fatalf("expected 1 pair, got %d", len(got.Pairs))
	}
	key := duck.PairKey{Trigger: mixer.Voice, Target: mixer.Main}
	if got.Pairs[key] != want.Pairs[key] {
		t.Errorf("pair = %+v, want %+v", got.Pairs[key], want.Pairs[key])
	}
}

func TestLoadRebuildsNamedPresetPairs(t *testing.T) {
	store := tempStore(t)

	cfg := duck.NewPresetConfiguration(duck.PresetDJMode)
	if err := store.Save(cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.ActivePreset != duck.PresetDJMode {
		t.Errorf("preset = %s, want dj", got.ActivePreset)
	}

	// Named presets come from the factory, byte for byte
	canonical := duck.NewPresetConfiguration(duck.PresetDJMode)
	if len(got.Pairs) != len(canonical.Pairs) {
		t.Fatalf("expected %d pairs, got %d", len(canonical.Pairs), len(got.Pairs))
	}
	for key, pair := range canonical.Pairs {
		if got.Pairs[key] != pair {
			t.Errorf("pair %s = %+v, want %+v", key, got.Pairs[key], pair)
		}
	}
}

func TestSaveRejectsInvalidConfiguration(t *testing.T) {
	store := tempStore(t)

	bad := duck.NewPresetConfiguration(duck.PresetMusicMode)
	bad.Default.DuckLevel = 5.0
	if err := store.Save(bad); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ducking.toml")
	if err := os.WriteFile(path, []byte("enabled = maybe\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	store := NewStore(path, nil)
	if _, err := store.Load(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadRejectsUnknownChannel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ducking.toml")
	doc := `
enabled = true
preset = "custom"

[default]
attack_ms = 80
release_ms = 400
hold_ms = 250
duck_level = 0.25

[[pair]]
trigger = "subwoofer"
target = "main"
enabled = true
attack_ms = 80
release_ms = 400
hold_ms = 250
duck_level = 0.25
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	store := NewStore(path, nil)
	if _, err := store.Load(); err == nil {
		t.Fatal("expected unknown channel error")
	}
}

func TestEnvOverrides(t *testing.T) {
	store := tempStore(t)
	if err := store.Save(duck.NewPresetConfiguration(duck.PresetMusicMode)); err != nil {
		t.Fatalf("save: %v", err)
	}

	t.Setenv(EnvEnabled, "false")
	t.Setenv(EnvPreset, "dj")
	t.Setenv(EnvDuckLevel, "0.4")

	got, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Enabled {
		t.Error("enabled override ignored")
	}
	// The level override edits the dj preset into a custom configuration
	if got.ActivePreset != duck.PresetCustom {
		t.Errorf("preset = %s, want custom after level override", got.ActivePreset)
	}
	if got.Default.DuckLevel != 0.4 {
		t.Errorf("default level = %v, want 0.4", got.Default.DuckLevel)
	}
	for key, pair := range got.Pairs {
		if pair.Timing.DuckLevel != 0.4 {
			t.Errorf("pair %s level = %v, want 0.4", key, pair.Timing.DuckLevel)
		}
		if pair.Timing.Attack != 20*time.Millisecond {
			t.Errorf("pair %s lost dj attack timing: %v", key, pair.Timing.Attack)
		}
	}
}

func TestEnvInvalidValuesIgnored(t *testing.T) {
	store := tempStore(t)

	t.Setenv(EnvEnabled, "definitely")
	t.Setenv(EnvPreset, "party")
	t.Setenv(EnvDuckLevel, "7")

	got, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !got.Enabled {
		t.Error("unparseable enabled override applied")
	}
	if got.ActivePreset != duck.PresetMusicMode {
		t.Errorf("unknown preset override applied: %s", got.ActivePreset)
	}
	if got.Default.DuckLevel != 0.25 {
		t.Errorf("out-of-range level override applied: %v", got.Default.DuckLevel)
	}
}

func TestSaveCreatesParentDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "deeper", "ducking.toml")
	store := NewStore(path, nil)

	if err := store.Save(duck.NewPresetConfiguration(duck.PresetBackgroundMode)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("saved file missing: %v", err)
	}

	// No temp files left behind by the atomic write
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the config file, found %d entries", len(entries))
	}
}
