package duck

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/lixenwraith/priomix/events"
	"github.com/lixenwraith/priomix/mixer"
)

// waitUntil polls cond until true or the timeout expires
func waitUntil(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 0.02
}

// pairCfg builds an enabled custom configuration from explicit pairs
func pairCfg(pairs ...PairSettings) Configuration {
	cfg := Configuration{
		Enabled:      true,
		ActivePreset: PresetCustom,
		Default:      validTiming(),
		Pairs:        make(map[PairKey]PairSettings, len(pairs)),
	}
	for _, p := range pairs {
		cfg.Pairs[PairKey{Trigger: p.Trigger, Target: p.Target}] = p
	}
	return cfg
}

func voiceDucksMain(timing TimingSettings) PairSettings {
	return PairSettings{
		Trigger: mixer.Voice, Target: mixer.Main,
		Enabled: true, Priority: 1, Timing: timing,
	}
}

func eventDucksMain(timing TimingSettings) PairSettings {
	return PairSettings{
		Trigger: mixer.Event, Target: mixer.Main,
		Enabled: true, Priority: 2, Timing: timing,
	}
}

func newTestEngine(t *testing.T, cfg Configuration, opts ...EngineOption) (*Engine, *mixer.Model) {
	t.Helper()
	model := mixer.NewModel(nil)
	opts = append([]EngineOption{
		WithConfiguration(cfg),
		WithEnvelopeTick(2 * time.Millisecond),
	}, opts...)
	e := NewEngine(model, opts...)
	if err := e.Start(); err != nil {
		t.Fatalf("engine start: %v", err)
	}
	t.Cleanup(e.Stop)
	return e, model
}

func TestStartDuckingReachesFloor(t *testing.T) {
	timing := TimingSettings{
		Attack: 40 * time.Millisecond, Hold: 50 * time.Millisecond,
		Release: 40 * time.Millisecond, DuckLevel: 0.3,
	}
	e, model := newTestEngine(t, pairCfg(voiceDucksMain(timing)))

	if err := e.StartDucking(mixer.Voice, "tts-1"); err != nil {
		t.Fatalf("start ducking: %v", err)
	}

	status := e.ChannelStatus(mixer.Main)
	if !status.IsDucked {
		t.Error("expected main ducked immediately after trigger")
	}
	if status.OriginalLevel != 1.0 {
		t.Errorf("expected original level 1.0, got %v", status.OriginalLevel)
	}

	if !waitUntil(time.Second, func() bool {
		s := e.ChannelStatus(mixer.Main)
		return s.Phase == PhaseHold && near(s.CurrentLevel, 0.3)
	}) {
		t.Fatalf("attack never settled at floor, status %+v", e.ChannelStatus(mixer.Main))
	}
	if got := model.ChannelDuckFactor(mixer.Main); !near(got, 0.3) {
		t.Errorf("expected model duck factor 0.3, got %v", got)
	}

	// The trigger channel itself is never attenuated
	if got := model.ChannelDuckFactor(mixer.Voice); got != 1.0 {
		t.Errorf("trigger channel ducked to %v", got)
	}
}

func TestOriginalLevelCapturedAtEngagement(t *testing.T) {
	timing := TimingSettings{
		Attack: 60 * time.Millisecond, Hold: 50 * time.Millisecond,
		Release: 40 * time.Millisecond, DuckLevel: 0.25,
	}
	e, model := newTestEngine(t, pairCfg(voiceDucksMain(timing)))
	model.SetChannelVolume(mixer.Main, 0.8, 0)

	if err := e.StartDucking(mixer.Voice, "tts-1"); err != nil {
		t.Fatalf("start ducking: %v", err)
	}

	status := e.ChannelStatus(mixer.Main)
	if status.OriginalLevel != 0.8 {
		t.Errorf("expected original level 0.8, got %v", status.OriginalLevel)
	}
	// The envelope has barely moved this close to the trigger
	if status.CurrentLevel < 0.6 {
		t.Errorf("attack jumped immediately, current level %v", status.CurrentLevel)
	}

	if !waitUntil(time.Second, func() bool {
		return near(e.ChannelStatus(mixer.Main).CurrentLevel, 0.8*0.25)
	}) {
		t.Fatalf("expected floor 0.2, status %+v", e.ChannelStatus(mixer.Main))
	}
}

func TestEndDuckingReleasesAndIsIdempotent(t *testing.T) {
	timing := TimingSettings{
		Attack: 20 * time.Millisecond, Hold: 30 * time.Millisecond,
		Release: 40 * time.Millisecond, DuckLevel: 0.4,
	}
	e, model := newTestEngine(t, pairCfg(voiceDucksMain(timing)))

	if err := e.StartDucking(mixer.Voice, "tts-1"); err != nil {
		t.Fatalf("start ducking: %v", err)
	}
	waitUntil(time.Second, func() bool {
		return e.ChannelStatus(mixer.Main).Phase == PhaseHold
	})

	e.EndDucking("tts-1")
	if !waitUntil(2*time.Second, func() bool {
		return !e.ChannelStatus(mixer.Main).IsDucked
	}) {
		t.Fatalf("duck never released, status %+v", e.ChannelStatus(mixer.Main))
	}
	if got := model.ChannelDuckFactor(mixer.Main); got != 1.0 {
		t.Errorf("expected duck factor restored to 1.0, got %v", got)
	}

	// Repeated and unknown ends are no-ops
	e.EndDucking("tts-1")
	e.EndDucking("never-registered")
	if e.ChannelStatus(mixer.Main).IsDucked {
		t.Error("repeated end re-engaged ducking")
	}
}

func TestHoldFloorDelaysRelease(t *testing.T) {
	timing := TimingSettings{
		Attack: 20 * time.Millisecond, Hold: 150 * time.Millisecond,
		Release: 30 * time.Millisecond, DuckLevel: 0.3,
	}
	e, _ := newTestEngine(t, pairCfg(voiceDucksMain(timing)))

	if err := e.StartDucking(mixer.Voice, "tts-1"); err != nil {
		t.Fatalf("start ducking: %v", err)
	}
	waitUntil(time.Second, func() bool {
		return e.ChannelStatus(mixer.Main).Phase == PhaseHold
	})

	e.EndDucking("tts-1")

	// Inside the hold window the floor must not move
	time.Sleep(60 * time.Millisecond)
	status := e.ChannelStatus(mixer.Main)
	if !status.IsDucked || status.Phase != PhaseHold {
		t.Errorf("release started inside hold window, status %+v", status)
	}
	if !near(status.CurrentLevel, 0.3) {
		t.Errorf("level drifted during hold: %v", status.CurrentLevel)
	}

	if !waitUntil(2*time.Second, func() bool {
		return !e.ChannelStatus(mixer.Main).IsDucked
	}) {
		t.Fatal("duck never released after hold window")
	}
}

func TestCascadingDeepestLevelWins(t *testing.T) {
	voiceTiming := TimingSettings{
		Attack: 20 * time.Millisecond, Hold: 30 * time.Millisecond,
		Release: 30 * time.Millisecond, DuckLevel: 0.5,
	}
	eventTiming := TimingSettings{
		Attack: 20 * time.Millisecond, Hold: 30 * time.Millisecond,
		Release: 30 * time.Millisecond, DuckLevel: 0.2,
	}
	e, model := newTestEngine(t, pairCfg(voiceDucksMain(voiceTiming), eventDucksMain(eventTiming)))

	if err := e.StartDucking(mixer.Voice, "tts-1"); err != nil {
		t.Fatalf("voice trigger: %v", err)
	}
	waitUntil(time.Second, func() bool {
		return near(model.ChannelDuckFactor(mixer.Main), 0.5)
	})

	if err := e.StartDucking(mixer.Event, "doorbell"); err != nil {
		t.Fatalf("event trigger: %v", err)
	}
	if !waitUntil(time.Second, func() bool {
		return near(model.ChannelDuckFactor(mixer.Main), 0.2)
	}) {
		t.Fatalf("deepest level did not win, factor %v", model.ChannelDuckFactor(mixer.Main))
	}
	if got := e.Snapshot().CascadingDuckCount; got == 0 {
		t.Error("expected a cascading duck to be counted")
	}

	// Ending the shallower trigger must not lift the deeper floor
	e.EndDucking("tts-1")
	time.Sleep(100 * time.Millisecond)
	if got := model.ChannelDuckFactor(mixer.Main); !near(got, 0.2) {
		t.Errorf("floor lifted while deeper trigger active, factor %v", got)
	}
	if !e.ChannelStatus(mixer.Main).IsDucked {
		t.Error("main released while a trigger is still active")
	}

	// Only the last trigger ending releases the channel
	e.EndDucking("doorbell")
	if !waitUntil(2*time.Second, func() bool {
		return !e.ChannelStatus(mixer.Main).IsDucked && model.ChannelDuckFactor(mixer.Main) == 1.0
	}) {
		t.Fatalf("never restored, factor %v", model.ChannelDuckFactor(mixer.Main))
	}
}

func TestRetriggerDuringReleaseReattacksFromPartialLevel(t *testing.T) {
	timing := TimingSettings{
		Attack: 30 * time.Millisecond, Hold: 20 * time.Millisecond,
		Release: 300 * time.Millisecond, DuckLevel: 0.3,
	}
	e, _ := newTestEngine(t, pairCfg(voiceDucksMain(timing)))

	if err := e.StartDucking(mixer.Voice, "tts-1"); err != nil {
		t.Fatalf("start ducking: %v", err)
	}
	waitUntil(time.Second, func() bool {
		return e.ChannelStatus(mixer.Main).Phase == PhaseHold
	})
	e.EndDucking("tts-1")
	if !waitUntil(time.Second, func() bool {
		return e.ChannelStatus(mixer.Main).Phase == PhaseRelease
	}) {
		t.Fatal("release never started")
	}

	// Retrigger mid-release: level must ramp back down without unducking
	if err := e.StartDucking(mixer.Voice, "tts-2"); err != nil {
		t.Fatalf("retrigger: %v", err)
	}
	if !e.ChannelStatus(mixer.Main).IsDucked {
		t.Error("retrigger dropped the ducked state")
	}
	if !waitUntil(time.Second, func() bool {
		s := e.ChannelStatus(mixer.Main)
		return s.Phase == PhaseHold && near(s.CurrentLevel, 0.3)
	}) {
		t.Fatalf("retrigger never settled, status %+v", e.ChannelStatus(mixer.Main))
	}
}

func TestEmergencyDuckIsImmediate(t *testing.T) {
	// No pair is configured for the event trigger; the engine synthesizes
	// full-mute pairs for all other channels
	e, model := newTestEngine(t, pairCfg(voiceDucksMain(validTiming())))

	if err := e.ApplyEmergencyDuck(mixer.Event, "alarm"); err != nil {
		t.Fatalf("emergency duck: %v", err)
	}

	for _, ch := range []mixer.Channel{mixer.Main, mixer.Voice} {
		status := e.ChannelStatus(ch)
		if !status.IsDucked || status.Phase != PhaseHold {
			t.Errorf("%s: expected immediate hold, status %+v", ch, status)
		}
		if status.CurrentLevel != 0 {
			t.Errorf("%s: expected full mute, level %v", ch, status.CurrentLevel)
		}
		if got := model.ChannelDuckFactor(ch); got != 0 {
			t.Errorf("%s: expected duck factor 0, got %v", ch, got)
		}
	}
	if got := model.ChannelDuckFactor(mixer.Event); got != 1.0 {
		t.Errorf("emergency ducked its own trigger channel to %v", got)
	}

	snap := e.Snapshot()
	if snap.EmergencyDuckCount != 1 {
		t.Errorf("expected 1 emergency duck, got %d", snap.EmergencyDuckCount)
	}

	// Recovery still uses the normal hold and release path
	e.EndDucking("alarm")
	if !waitUntil(2*time.Second, func() bool {
		return !e.ChannelStatus(mixer.Main).IsDucked && !e.ChannelStatus(mixer.Voice).IsDucked
	}) {
		t.Fatal("emergency duck never recovered")
	}
}

func TestLookAheadShortensPerceivedAttack(t *testing.T) {
	timing := TimingSettings{
		Attack: 300 * time.Millisecond, Hold: 50 * time.Millisecond,
		Release: 40 * time.Millisecond, DuckLevel: 0.3,
	}
	cfg := pairCfg(voiceDucksMain(timing))
	cfg.EnableLookAhead = true
	cfg.LookAhead = 300 * time.Millisecond
	e, _ := newTestEngine(t, cfg)

	if err := e.StartDucking(mixer.Voice, "tts-1"); err != nil {
		t.Fatalf("start ducking: %v", err)
	}

	// With the head start covering the whole attack, the floor is reached
	// far sooner than the nominal attack time
	if !waitUntil(150*time.Millisecond, func() bool {
		return e.ChannelStatus(mixer.Main).Phase == PhaseHold
	}) {
		t.Fatalf("look-ahead gave no head start, status %+v", e.ChannelStatus(mixer.Main))
	}
}

func TestDisabledConfigurationSkipsDucking(t *testing.T) {
	cfg := pairCfg(voiceDucksMain(validTiming()))
	cfg.Enabled = false
	e, model := newTestEngine(t, cfg)

	if err := e.StartDucking(mixer.Voice, "tts-1"); err != nil {
		t.Fatalf("start ducking: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if e.ChannelStatus(mixer.Main).IsDucked {
		t.Error("disabled engine ducked a channel")
	}
	if got := model.ChannelDuckFactor(mixer.Main); got != 1.0 {
		t.Errorf("disabled engine wrote duck factor %v", got)
	}
}

func TestInvalidTriggerChannelRejected(t *testing.T) {
	e, _ := newTestEngine(t, pairCfg(voiceDucksMain(validTiming())))

	if err := e.StartDucking(mixer.Channel(9), "x"); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
	if err := e.ApplyEmergencyDuck(mixer.Channel(-1), "x"); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestUpdateConfigurationRejectsInvalidAtomically(t *testing.T) {
	e, _ := newTestEngine(t, pairCfg(voiceDucksMain(validTiming())))

	bad := pairCfg(voiceDucksMain(validTiming()))
	pair := bad.Pairs[PairKey{Trigger: mixer.Voice, Target: mixer.Main}]
	pair.Timing.DuckLevel = 1.5
	bad.Pairs[PairKey{Trigger: mixer.Voice, Target: mixer.Main}] = pair

	if err := e.UpdateConfiguration(bad); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}

	// Prior configuration is untouched
	got := e.Configuration()
	if level := got.Pairs[PairKey{Trigger: mixer.Voice, Target: mixer.Main}].Timing.DuckLevel; level != 0.3 {
		t.Errorf("rejected update leaked, duck level %v", level)
	}
}

func TestConfigurationSwapLeavesInFlightEnvelopes(t *testing.T) {
	timing := TimingSettings{
		Attack: 20 * time.Millisecond, Hold: 400 * time.Millisecond,
		Release: 40 * time.Millisecond, DuckLevel: 0.3,
	}
	e, _ := newTestEngine(t, pairCfg(voiceDucksMain(timing)))

	if err := e.StartDucking(mixer.Voice, "tts-1"); err != nil {
		t.Fatalf("start ducking: %v", err)
	}
	waitUntil(time.Second, func() bool {
		return e.ChannelStatus(mixer.Main).Phase == PhaseHold
	})

	// Swap to a much shallower floor; the active envelope keeps its timing
	shallow := timing
	shallow.DuckLevel = 0.8
	if err := e.UpdateConfiguration(pairCfg(voiceDucksMain(shallow))); err != nil {
		t.Fatalf("update configuration: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if got := e.ChannelStatus(mixer.Main).CurrentLevel; !near(got, 0.3) {
		t.Errorf("configuration swap rewrote an in-flight envelope, level %v", got)
	}
}

func TestSetPresetKeepsEnabledFlag(t *testing.T) {
	cfg := pairCfg(voiceDucksMain(validTiming()))
	cfg.Enabled = false
	e, _ := newTestEngine(t, cfg)

	if err := e.SetPreset(PresetDJMode); err != nil {
		t.Fatalf("set preset: %v", err)
	}
	got := e.Configuration()
	if got.ActivePreset != PresetDJMode {
		t.Errorf("expected dj preset, got %s", got.ActivePreset)
	}
	if got.Enabled {
		t.Error("preset swap flipped the enabled flag")
	}

	if err := e.SetPreset(Preset(42)); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for unknown preset, got %v", err)
	}
}

func TestSetDefaultDuckLevel(t *testing.T) {
	e, _ := newTestEngine(t, NewPresetConfiguration(PresetMusicMode))

	if err := e.SetDefaultDuckLevel(0.5); err != nil {
		t.Fatalf("set duck level: %v", err)
	}
	got := e.Configuration()
	if got.Default.DuckLevel != 0.5 {
		t.Errorf("default level not updated: %v", got.Default.DuckLevel)
	}
	for key, pair := range got.Pairs {
		if pair.Timing.DuckLevel != 0.5 {
			t.Errorf("pair %s level not updated: %v", key, pair.Timing.DuckLevel)
		}
	}
	if got.ActivePreset != PresetCustom {
		t.Errorf("expected custom preset after edit, got %s", got.ActivePreset)
	}

	if err := e.SetDefaultDuckLevel(1.5); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
	if level := e.Configuration().Default.DuckLevel; level != 0.5 {
		t.Errorf("rejected level leaked: %v", level)
	}
}

func TestResetRestoresAllChannels(t *testing.T) {
	e, model := newTestEngine(t, NewPresetConfiguration(PresetMusicMode))

	if err := e.StartDucking(mixer.Voice, "tts-1"); err != nil {
		t.Fatalf("start ducking: %v", err)
	}
	waitUntil(time.Second, func() bool {
		return model.ChannelDuckFactor(mixer.Main) < 0.9
	})

	e.Reset()
	if got := model.ChannelDuckFactor(mixer.Main); got != 1.0 {
		t.Errorf("expected duck factor restored, got %v", got)
	}
	if e.ChannelStatus(mixer.Main).IsDucked {
		t.Error("expected no ducking after reset")
	}
}

func TestStopRestoresDuckFactors(t *testing.T) {
	model := mixer.NewModel(nil)
	e := NewEngine(model,
		WithConfiguration(NewPresetConfiguration(PresetMusicMode)),
		WithEnvelopeTick(2*time.Millisecond))
	if err := e.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := e.StartDucking(mixer.Voice, "tts-1"); err != nil {
		t.Fatalf("start ducking: %v", err)
	}
	waitUntil(time.Second, func() bool {
		return model.ChannelDuckFactor(mixer.Main) < 0.9
	})

	e.Stop()
	if got := model.ChannelDuckFactor(mixer.Main); got != 1.0 {
		t.Errorf("stop left duck factor %v", got)
	}
}

func TestDuckingEventsPublished(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	ch, cancel := bus.Subscribe(16)
	defer cancel()

	model := mixer.NewModel(nil)
	e := NewEngine(model,
		WithConfiguration(NewPresetConfiguration(PresetDJMode)),
		WithEnvelopeTick(2*time.Millisecond),
		WithBus(bus))
	if err := e.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.Stop()

	if err := e.StartDucking(mixer.Voice, "tts-1"); err != nil {
		t.Fatalf("start ducking: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type != events.DuckingStateChanged {
				continue
			}
			status, ok := ev.Payload.(Status)
			if !ok {
				t.Fatalf("unexpected payload type %T", ev.Payload)
			}
			if status.Channel == mixer.Main && status.IsDucked {
				return
			}
		case <-deadline:
			t.Fatal("no DuckingStateChanged event for main")
		}
	}
}

func TestMetricsCountEvents(t *testing.T) {
	timing := TimingSettings{
		Attack: 10 * time.Millisecond, Hold: 10 * time.Millisecond,
		Release: 10 * time.Millisecond, DuckLevel: 0.3,
	}
	e, _ := newTestEngine(t, pairCfg(voiceDucksMain(timing)))

	if err := e.StartDucking(mixer.Voice, "a"); err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	if err := e.StartDucking(mixer.Voice, "b"); err != nil {
		t.Fatalf("second trigger: %v", err)
	}
	e.EndDucking("a")
	e.EndDucking("b")

	if !waitUntil(2*time.Second, func() bool {
		return !e.ChannelStatus(mixer.Main).IsDucked
	}) {
		t.Fatal("never released")
	}

	snap := e.Snapshot()
	if snap.TotalDuckingEvents != 2 {
		t.Errorf("expected 2 ducking events, got %d", snap.TotalDuckingEvents)
	}
	if snap.CascadingDuckCount != 1 {
		t.Errorf("expected 1 cascade, got %d", snap.CascadingDuckCount)
	}
	if snap.AverageAttackTime <= 0 {
		t.Error("expected a recorded attack time")
	}
	if snap.MaxAttackTime < snap.AverageAttackTime {
		t.Errorf("max attack %v below average %v", snap.MaxAttackTime, snap.AverageAttackTime)
	}

	e.Metrics().Reset()
	if got := e.Snapshot().TotalDuckingEvents; got != 0 {
		t.Errorf("expected counters cleared, got %d events", got)
	}
}
