package duck

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/lixenwraith/priomix/events"
	"github.com/lixenwraith/priomix/mixer"
)

// DefaultEnvelopeTick is the envelope interpolation resolution
const DefaultEnvelopeTick = 5 * time.Millisecond

// levelEpsilon bounds float comparison when deciding whether a factor moved
const levelEpsilon = 1e-9

// Engine is the ducking policy brain
//
// Given (trigger channel, source) events it resolves which target channels
// to attenuate, by how much and with what attack/hold/release timing, then
// drives the mixer model's per-channel duck factors from a fixed-rate tick
// loop. It exclusively owns ducking status and metrics
type Engine struct {
	model   *mixer.Model
	bus     *events.Bus
	log     *zap.Logger
	metrics *Metrics

	mu   sync.Mutex
	cfg  Configuration
	envs map[PairKey]*envelope

	// Per-channel aggregates, written under mu
	original   [mixer.NumChannels]float64
	lastFactor [mixer.NumChannels]float64

	// statuses hold the last consistent snapshot per channel; reads never
	// block on in-flight envelope updates
	statuses [mixer.NumChannels]atomic.Pointer[Status]

	tick     time.Duration
	running  atomic.Bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// EngineOption adjusts engine construction
type EngineOption func(*Engine)

// WithLogger attaches a logger; default is a nop logger
func WithLogger(log *zap.Logger) EngineOption {
	return func(e *Engine) { e.log = log }
}

// WithBus attaches a notification bus for DuckingStateChanged and
// ConfigurationChanged events
func WithBus(bus *events.Bus) EngineOption {
	return func(e *Engine) { e.bus = bus }
}

// WithConfiguration replaces the initial configuration
// Panics on an invalid configuration; use UpdateConfiguration for runtime swaps
func WithConfiguration(cfg Configuration) EngineOption {
	return func(e *Engine) {
		if err := cfg.Validate(); err != nil {
			panic(fmt.Sprintf("duck: initial configuration: %v", err))
		}
		e.cfg = cfg.Clone()
	}
}

// WithEnvelopeTick overrides the tick loop resolution
func WithEnvelopeTick(tick time.Duration) EngineOption {
	return func(e *Engine) {
		if tick > 0 {
			e.tick = tick
		}
	}
}

// NewEngine creates a ducking engine driving the given model
// The initial configuration is the music preset
func NewEngine(model *mixer.Model, opts ...EngineOption) *Engine {
	e := &Engine{
		model:   model,
		log:     zap.NewNop(),
		metrics: &Metrics{},
		cfg:     NewPresetConfiguration(PresetMusicMode),
		envs:    make(map[PairKey]*envelope),
		tick:    DefaultEnvelopeTick,
	}
	for i := range e.lastFactor {
		e.lastFactor[i] = 1.0
	}
	for _, opt := range opts {
		opt(e)
	}
	for _, ch := range mixer.AllChannels {
		e.statuses[ch].Store(e.idleStatus(ch))
	}
	return e
}

// Start launches the envelope tick loop
func (e *Engine) Start() error {
	if !e.running.CompareAndSwap(false, true) {
		return nil
	}
	e.stopChan = make(chan struct{})
	e.wg.Add(1)
	go e.envelopeLoop()
	return nil
}

// Stop halts the tick loop and restores all duck factors
func (e *Engine) Stop() {
	if !e.running.CompareAndSwap(true, false) {
		return
	}
	close(e.stopChan)
	e.wg.Wait()
	e.Reset()
}

// StartDucking engages ducking for every enabled pair whose trigger matches
// the given channel. Concurrent triggers cascade: the deepest duck level wins
// and release waits for the last trigger to end
func (e *Engine) StartDucking(trigger mixer.Channel, sourceID string) error {
	if !trigger.Valid() {
		return fmt.Errorf("%w: invalid trigger channel %d", ErrValidation, int(trigger))
	}

	e.mu.Lock()
	if !e.cfg.Enabled {
		e.mu.Unlock()
		return nil
	}

	pairs := e.cfg.PairsForTrigger(trigger)
	if len(pairs) == 0 {
		e.mu.Unlock()
		e.log.Debug("no enabled ducking pairs for trigger", zap.Stringer("trigger", trigger))
		return nil
	}

	now := time.Now()
	attackStart := now
	if e.cfg.EnableLookAhead && e.cfg.LookAhead > 0 {
		// Head start: the envelope behaves as if the attack began earlier
		attackStart = now.Add(-e.cfg.LookAhead)
	}

	for _, pair := range pairs {
		key := PairKey{Trigger: pair.Trigger, Target: pair.Target}
		if e.activeTriggerCount(pair.Target) > 0 {
			e.metrics.recordCascade()
		}
		env, ok := e.envs[key]
		if !ok {
			env = newEnvelope(key, now)
			e.envs[key] = env
		}
		if env.phase == PhaseNone {
			e.captureOriginal(pair.Target)
		}
		env.addTrigger(sourceID, pair.Timing, attackStart)
	}
	e.metrics.recordEvent()

	writes, changed := e.refreshLocked(now)
	e.mu.Unlock()

	e.applyAndNotify(writes, changed)
	e.log.Debug("ducking started",
		zap.Stringer("trigger", trigger),
		zap.String("source", sourceID),
		zap.Int("pairs", len(pairs)))
	return nil
}

// EndDucking withdraws a trigger source from every envelope referencing it
// Release begins only after the hold floor elapses and no other trigger for
// the pair remains. Unknown sources are a no-op: the priority registry may
// retry ends safely
func (e *Engine) EndDucking(sourceID string) {
	now := time.Now()

	e.mu.Lock()
	removed := false
	for _, env := range e.envs {
		if env.removeTrigger(sourceID, now) {
			removed = true
		}
	}
	writes, changed := e.refreshLocked(now)
	e.mu.Unlock()

	e.applyAndNotify(writes, changed)
	if removed {
		e.log.Debug("ducking trigger ended", zap.String("source", sourceID))
	}
}

// ApplyEmergencyDuck bypasses the envelope: target channels drop to the duck
// floor within one control tick and report PhaseHold immediately
// Without a configured pair for the trigger, every other channel is muted
// under the default timing
func (e *Engine) ApplyEmergencyDuck(trigger mixer.Channel, sourceID string) error {
	if !trigger.Valid() {
		return fmt.Errorf("%w: invalid trigger channel %d", ErrValidation, int(trigger))
	}
	now := time.Now()

	e.mu.Lock()
	pairs := e.cfg.PairsForTrigger(trigger)
	if len(pairs) == 0 {
		// Synthesize full-mute pairs so an emergency never silently no-ops
		for _, ch := range mixer.AllChannels {
			if ch == trigger {
				continue
			}
			timing := e.cfg.Default
			timing.DuckLevel = 0
			pairs = append(pairs, PairSettings{
				Trigger: trigger, Target: ch, Enabled: true, Timing: timing,
			})
		}
	}

	for _, pair := range pairs {
		key := PairKey{Trigger: pair.Trigger, Target: pair.Target}
		if e.activeTriggerCount(pair.Target) > 0 {
			e.metrics.recordCascade()
		}
		env, ok := e.envs[key]
		if !ok {
			env = newEnvelope(key, now)
			e.envs[key] = env
		}
		if env.phase == PhaseNone {
			e.captureOriginal(pair.Target)
		}
		env.forceHold(sourceID, pair.Timing, now)
	}
	e.metrics.recordEmergency()
	e.metrics.recordEvent()

	writes, changed := e.refreshLocked(now)
	e.mu.Unlock()

	e.applyAndNotify(writes, changed)
	e.log.Info("emergency duck applied",
		zap.Stringer("trigger", trigger),
		zap.String("source", sourceID))
	return nil
}

// ChannelStatus returns the last consistent snapshot for a channel
// Never blocks on in-flight envelope updates
func (e *Engine) ChannelStatus(ch mixer.Channel) Status {
	if !ch.Valid() {
		return Status{Channel: ch, Phase: PhaseNone}
	}
	if s := e.statuses[ch].Load(); s != nil {
		return *s
	}
	return *e.idleStatus(ch)
}

// SetPreset swaps the pair table and defaults to a canonical preset
// In-flight envelopes finish under their original timing
func (e *Engine) SetPreset(p Preset) error {
	if !p.Valid() {
		return fmt.Errorf("%w: unknown preset %d", ErrValidation, int(p))
	}

	e.mu.Lock()
	next := NewPresetConfiguration(p)
	next.Enabled = e.cfg.Enabled
	next.EnableLookAhead = e.cfg.EnableLookAhead
	next.LookAhead = e.cfg.LookAhead
	e.cfg = next
	snapshot := e.cfg.Clone()
	e.mu.Unlock()

	e.publish(events.ConfigurationChanged, snapshot)
	e.log.Info("ducking preset applied", zap.Stringer("preset", p))
	return nil
}

// UpdateConfiguration atomically replaces the configuration
// Validation failures reject the update and leave the prior configuration
// intact; in-flight envelopes are never rewritten
func (e *Engine) UpdateConfiguration(cfg Configuration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	e.cfg = cfg.Clone()
	snapshot := e.cfg.Clone()
	e.mu.Unlock()

	e.publish(events.ConfigurationChanged, snapshot)
	return nil
}

// Configuration returns a copy of the active configuration
func (e *Engine) Configuration() Configuration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.Clone()
}

// SetDefaultDuckLevel maps a single scalar onto the default duck level and
// every pair's floor, marking the configuration custom
func (e *Engine) SetDefaultDuckLevel(level float64) error {
	if level < 0 || level > 1 {
		return fmt.Errorf("%w: duck level %v outside [0,1]", ErrValidation, level)
	}

	e.mu.Lock()
	e.cfg.Default.DuckLevel = level
	for key, pair := range e.cfg.Pairs {
		pair.Timing.DuckLevel = level
		e.cfg.Pairs[key] = pair
	}
	e.cfg.ActivePreset = PresetCustom
	snapshot := e.cfg.Clone()
	e.mu.Unlock()

	e.publish(events.ConfigurationChanged, snapshot)
	return nil
}

// Reset cancels all in-flight envelopes and restores every channel
// Used for error recovery; safe with no active ducking
func (e *Engine) Reset() {
	now := time.Now()

	e.mu.Lock()
	e.envs = make(map[PairKey]*envelope)
	writes, changed := e.refreshLocked(now)
	e.mu.Unlock()

	e.applyAndNotify(writes, changed)
}

// Metrics exposes the engine's counters
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// Snapshot returns current metric values
func (e *Engine) Snapshot() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// activeTriggerCount counts distinct active trigger sources on a target
// channel across all envelopes; caller holds mu
func (e *Engine) activeTriggerCount(target mixer.Channel) int {
	count := 0
	for key, env := range e.envs {
		if key.Target == target {
			count += len(env.triggers)
		}
	}
	return count
}

// captureOriginal records the channel's base volume at duck engagement
// Caller holds mu
func (e *Engine) captureOriginal(ch mixer.Channel) {
	e.original[ch] = e.model.ChannelVolume(ch)
}

// idleStatus is the snapshot for a channel with no ducking in effect
func (e *Engine) idleStatus(ch mixer.Channel) *Status {
	vol := 1.0
	if e.model != nil {
		vol = e.model.ChannelVolume(ch)
	}
	return &Status{
		Channel:       ch,
		CurrentLevel:  vol,
		OriginalLevel: vol,
		Phase:         PhaseNone,
	}
}

// channelWrite pairs a channel with its new duck factor
type channelWrite struct {
	channel mixer.Channel
	factor  float64
}

// refreshLocked recomputes per-channel aggregates from the envelope set,
// publishes fresh status snapshots, and returns the factor writes plus the
// statuses whose ducked/phase state changed. Caller holds mu
func (e *Engine) refreshLocked(now time.Time) ([]channelWrite, []Status) {
	var writes []channelWrite
	var changed []Status

	for _, ch := range mixer.AllChannels {
		factor := 1.0
		phase := PhaseNone
		startedAt := time.Time{}
		var triggerChannels []mixer.Channel
		var triggerSources []string

		seenChannel := make(map[mixer.Channel]bool)
		seenSource := make(map[string]bool)
		anyAttack, anyHold, anyRelease := false, false, false

		for key, env := range e.envs {
			if key.Target != ch || env.phase == PhaseNone {
				continue
			}
			if env.level < factor {
				factor = env.level
			}
			switch env.phase {
			case PhaseAttack:
				anyAttack = true
			case PhaseHold:
				anyHold = true
			case PhaseRelease:
				anyRelease = true
			}
			if startedAt.IsZero() || env.startedAt.Before(startedAt) {
				startedAt = env.startedAt
			}
			if len(env.triggers) > 0 && !seenChannel[key.Trigger] {
				seenChannel[key.Trigger] = true
				triggerChannels = append(triggerChannels, key.Trigger)
			}
			for src := range env.triggers {
				if !seenSource[src] {
					seenSource[src] = true
					triggerSources = append(triggerSources, src)
				}
			}
		}

		switch {
		case anyAttack:
			phase = PhaseAttack
		case anyHold:
			phase = PhaseHold
		case anyRelease:
			phase = PhaseRelease
		}

		if diff := factor - e.lastFactor[ch]; diff > levelEpsilon || diff < -levelEpsilon {
			e.lastFactor[ch] = factor
			writes = append(writes, channelWrite{channel: ch, factor: factor})
		}

		var status *Status
		if phase == PhaseNone {
			status = e.idleStatus(ch)
		} else {
			status = &Status{
				Channel:            ch,
				IsDucked:           true,
				CurrentLevel:       e.original[ch] * factor,
				OriginalLevel:      e.original[ch],
				TriggeringChannels: triggerChannels,
				TriggeringSources:  triggerSources,
				StartedAt:          startedAt,
				Phase:              phase,
			}
		}

		prev := e.statuses[ch].Load()
		e.statuses[ch].Store(status)
		if prev == nil || prev.IsDucked != status.IsDucked || prev.Phase != status.Phase {
			changed = append(changed, *status)
		}
	}

	return writes, changed
}

// applyAndNotify pushes factor writes to the model and publishes status
// changes; called outside mu so envelope callbacks can re-enter safely
func (e *Engine) applyAndNotify(writes []channelWrite, changed []Status) {
	for _, w := range writes {
		e.model.SetChannelDuckFactor(w.channel, w.factor)
	}
	for _, status := range changed {
		e.publish(events.DuckingStateChanged, status)
	}
}

func (e *Engine) publish(t events.Type, payload any) {
	if e.bus != nil {
		e.bus.Publish(events.Event{Type: t, Payload: payload})
	}
}

// envelopeLoop advances all envelopes on a fixed tick
func (e *Engine) envelopeLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case now := <-ticker.C:
			e.step(now)
		}
	}
}

// step runs one envelope tick
func (e *Engine) step(now time.Time) {
	e.mu.Lock()
	for key, env := range e.envs {
		res := env.advance(now)
		if res.attackDone {
			e.metrics.recordAttack(res.attackElapsed)
		}
		if res.finished {
			e.metrics.recordRelease(res.releaseElapsed)
			delete(e.envs, key)
		}
	}
	writes, changed := e.refreshLocked(now)
	e.mu.Unlock()

	e.applyAndNotify(writes, changed)
}
