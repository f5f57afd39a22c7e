package mixer

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultRampTick is the interpolation resolution of the ramp loop
const DefaultRampTick = 10 * time.Millisecond

// Sink receives effective volume writes
// Implemented by the backend package; the model is the only writer
type Sink interface {
	SetChannelVolume(ch Channel, vol float64) error
	SetSourceVolume(id string, vol float64) error
}

// sourceState tracks the gain stages of one attached source
type sourceState struct {
	channel Channel
	base    float64
	fade    float64
}

// Model is the shared channel/source volume state
//
// It is the single place where effective volumes are written to the sink.
// Conflicting writers compose multiplicatively and never overwrite each other:
//
//	effective channel volume = master x base(channel) x duckFactor(channel)
//	effective source volume  = base(source) x fadeFactor(source)
//
// The ducking engine owns duck factors, the crossfade controller owns fade
// factors, callers own base volumes. Ramped sets never block: they schedule
// work for the ramp loop and return once the intent is recorded.
type Model struct {
	sink Sink
	log  *zap.Logger

	mu       sync.RWMutex
	master   float64
	channels [channelCount]float64
	duck     [channelCount]float64
	sources  map[string]*sourceState
	ramps    map[rampKey]ramp

	tick     time.Duration
	running  atomic.Bool
	muted    atomic.Bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// Option adjusts model construction
type Option func(*Model)

// WithLogger attaches a logger; default is a nop logger
func WithLogger(log *zap.Logger) Option {
	return func(m *Model) { m.log = log }
}

// WithRampTick overrides the ramp loop resolution
func WithRampTick(tick time.Duration) Option {
	return func(m *Model) {
		if tick > 0 {
			m.tick = tick
		}
	}
}

// NewModel creates a volume model writing to sink
// All channels start at full volume with no duck applied
func NewModel(sink Sink, opts ...Option) *Model {
	m := &Model{
		sink:    sink,
		log:     zap.NewNop(),
		master:  1.0,
		sources: make(map[string]*sourceState),
		ramps:   make(map[rampKey]ramp),
		tick:    DefaultRampTick,
	}
	for i := range m.channels {
		m.channels[i] = 1.0
		m.duck[i] = 1.0
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the ramp loop
func (m *Model) Start() error {
	if !m.running.CompareAndSwap(false, true) {
		return nil
	}
	m.stopChan = make(chan struct{})
	m.wg.Add(1)
	go m.rampLoop()
	return nil
}

// Stop halts the ramp loop; pending ramps are abandoned at their current value
func (m *Model) Stop() {
	if !m.running.CompareAndSwap(true, false) {
		return
	}
	close(m.stopChan)
	m.wg.Wait()
}

// ChannelVolume returns the base volume of a channel
func (m *Model) ChannelVolume(ch Channel) float64 {
	if !ch.Valid() {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.channels[ch]
}

// SetChannelVolume sets a channel's base volume
// Out-of-range volumes are clamped, not rejected. With ramp > 0 the change is
// interpolated by the background loop and the call returns immediately.
func (m *Model) SetChannelVolume(ch Channel, vol float64, rampDuration time.Duration) {
	if !ch.Valid() {
		return
	}
	vol = clamp01(vol)

	m.mu.Lock()
	key := rampKey{kind: rampChannel, channel: ch}
	if rampDuration > 0 && m.running.Load() {
		m.ramps[key] = ramp{from: m.channels[ch], to: vol, started: time.Now(), duration: rampDuration}
		m.mu.Unlock()
		return
	}
	delete(m.ramps, key)
	m.channels[ch] = vol
	w := m.channelWrite(ch)
	m.mu.Unlock()

	m.apply(w)
}

// MasterVolume returns the top-level scalar multiplying all channels
func (m *Model) MasterVolume() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.master
}

// SetMasterVolume sets the master scalar; clamped like channel volumes
func (m *Model) SetMasterVolume(vol float64, rampDuration time.Duration) {
	vol = clamp01(vol)

	m.mu.Lock()
	key := rampKey{kind: rampMaster}
	if rampDuration > 0 && m.running.Load() {
		m.ramps[key] = ramp{from: m.master, to: vol, started: time.Now(), duration: rampDuration}
		m.mu.Unlock()
		return
	}
	delete(m.ramps, key)
	m.master = vol
	writes := m.allChannelWrites()
	m.mu.Unlock()

	m.apply(writes...)
}

// AttachSource adds a source to the catalogue on the given channel
// Fade factor starts at full volume
func (m *Model) AttachSource(id string, ch Channel) {
	if !ch.Valid() {
		return
	}
	m.mu.Lock()
	if _, exists := m.sources[id]; !exists {
		m.sources[id] = &sourceState{channel: ch, base: 1.0, fade: 1.0}
	}
	m.mu.Unlock()
}

// DetachSource removes a source and any ramp targeting it
func (m *Model) DetachSource(id string) {
	m.mu.Lock()
	delete(m.sources, id)
	delete(m.ramps, rampKey{kind: rampSource, source: id})
	m.mu.Unlock()
}

// SourceChannel resolves the channel a source is attached to
func (m *Model) SourceChannel(id string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if src, ok := m.sources[id]; ok {
		return src.channel, true
	}
	return Main, false
}

// SourceVolume returns a source's base volume
// Unknown sources yield (0, false), not an error
func (m *Model) SourceVolume(id string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if src, ok := m.sources[id]; ok {
		return src.base, true
	}
	return 0, false
}

// SetSourceVolume sets a source's base gain, independent of channel gain
// Unknown sources are ignored
func (m *Model) SetSourceVolume(id string, vol float64, rampDuration time.Duration) {
	vol = clamp01(vol)

	m.mu.Lock()
	src, ok := m.sources[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	key := rampKey{kind: rampSource, source: id}
	if rampDuration > 0 && m.running.Load() {
		m.ramps[key] = ramp{from: src.base, to: vol, started: time.Now(), duration: rampDuration}
		m.mu.Unlock()
		return
	}
	delete(m.ramps, key)
	src.base = vol
	w := m.sourceWrite(id, src)
	m.mu.Unlock()

	m.apply(w)
}

// SetChannelDuckFactor sets the ducking multiplier for a channel
// Written only by the ducking engine, which performs its own envelope
// interpolation; values are applied immediately
func (m *Model) SetChannelDuckFactor(ch Channel, factor float64) {
	if !ch.Valid() {
		return
	}
	factor = clamp01(factor)

	m.mu.Lock()
	m.duck[ch] = factor
	w := m.channelWrite(ch)
	m.mu.Unlock()

	m.apply(w)
}

// ChannelDuckFactor returns the current ducking multiplier for a channel
func (m *Model) ChannelDuckFactor(ch Channel) float64 {
	if !ch.Valid() {
		return 1.0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.duck[ch]
}

// SetSourceFadeFactor sets the transition multiplier for a source
// Written only by the crossfade controller; applied immediately
func (m *Model) SetSourceFadeFactor(id string, factor float64) {
	factor = clamp01(factor)

	m.mu.Lock()
	src, ok := m.sources[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	src.fade = factor
	w := m.sourceWrite(id, src)
	m.mu.Unlock()

	m.apply(w)
}

// SourceFadeFactor returns the transition multiplier for a source
func (m *Model) SourceFadeFactor(id string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if src, ok := m.sources[id]; ok {
		return src.fade
	}
	return 1.0
}

// EffectiveChannelVolume returns the volume the sink currently sees
func (m *Model) EffectiveChannelVolume(ch Channel) float64 {
	if !ch.Valid() {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.effectiveMaster() * m.channels[ch] * m.duck[ch]
}

// ToggleMute flips the mute state, returns true if audio is now audible
// Mute zeroes the effective master without losing the stored value
func (m *Model) ToggleMute() bool {
	nowMuted := !m.muted.Load()
	m.muted.Store(nowMuted)

	m.mu.Lock()
	writes := m.allChannelWrites()
	m.mu.Unlock()
	m.apply(writes...)

	return !nowMuted
}

// IsMuted returns the current mute state
func (m *Model) IsMuted() bool {
	return m.muted.Load()
}

// sinkWrite is one pending effectful call, executed outside the model lock
type sinkWrite struct {
	isSource bool
	channel  Channel
	source   string
	volume   float64
}

func (m *Model) effectiveMaster() float64 {
	if m.muted.Load() {
		return 0
	}
	return m.master
}

// channelWrite builds the effective write for one channel; caller holds mu
func (m *Model) channelWrite(ch Channel) sinkWrite {
	return sinkWrite{
		channel: ch,
		volume:  m.effectiveMaster() * m.channels[ch] * m.duck[ch],
	}
}

// allChannelWrites builds writes for every channel; caller holds mu
func (m *Model) allChannelWrites() []sinkWrite {
	writes := make([]sinkWrite, 0, channelCount)
	for _, ch := range AllChannels {
		writes = append(writes, m.channelWrite(ch))
	}
	return writes
}

// sourceWrite builds the effective write for one source; caller holds mu
func (m *Model) sourceWrite(id string, src *sourceState) sinkWrite {
	return sinkWrite{
		isSource: true,
		source:   id,
		volume:   src.base * src.fade,
	}
}

// apply pushes effective values to the sink
// Sink failures are logged, never propagated to control-plane callers.
// A failed write is followed by a mute write for the same target: settled
// values are not re-issued, so the sink must never be left holding a stale
// level after a failure
func (m *Model) apply(writes ...sinkWrite) {
	if m.sink == nil {
		return
	}
	for _, w := range writes {
		err := m.writeSink(w)
		if err == nil {
			continue
		}
		m.log.Warn("sink volume write failed, muting target",
			zap.Bool("source", w.isSource),
			zap.String("target", w.source),
			zap.Stringer("channel", w.channel),
			zap.Float64("volume", w.volume),
			zap.Error(err))

		if w.volume == 0 {
			continue
		}
		fallback := w
		fallback.volume = 0
		if err := m.writeSink(fallback); err != nil {
			m.log.Error("sink fallback mute failed",
				zap.Bool("source", w.isSource),
				zap.String("target", w.source),
				zap.Stringer("channel", w.channel),
				zap.Error(err))
		}
	}
}

func (m *Model) writeSink(w sinkWrite) error {
	if w.isSource {
		return m.sink.SetSourceVolume(w.source, w.volume)
	}
	return m.sink.SetChannelVolume(w.channel, w.volume)
}

// rampLoop advances active ramps on a fixed tick
func (m *Model) rampLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case now := <-ticker.C:
			m.stepRamps(now)
		}
	}
}

// stepRamps applies one interpolation step to every active ramp
func (m *Model) stepRamps(now time.Time) {
	m.mu.Lock()
	var writes []sinkWrite
	for key, r := range m.ramps {
		val, done := r.valueAt(now)
		switch key.kind {
		case rampMaster:
			m.master = val
			writes = append(writes, m.allChannelWrites()...)
		case rampChannel:
			m.channels[key.channel] = val
			writes = append(writes, m.channelWrite(key.channel))
		case rampSource:
			if src, ok := m.sources[key.source]; ok {
				src.base = val
				writes = append(writes, m.sourceWrite(key.source, src))
			} else {
				done = true
			}
		}
		if done {
			delete(m.ramps, key)
		}
	}
	m.mu.Unlock()

	m.apply(writes...)
}

// clamp01 bounds a volume to [0, 1]
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
