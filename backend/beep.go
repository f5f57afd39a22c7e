package backend

import (
	"math"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/effects"
	"github.com/gopxl/beep/speaker"
	"github.com/pkg/errors"

	"github.com/lixenwraith/priomix/mixer"
)

// DefaultSampleRate matches common consumer hardware
const DefaultSampleRate = beep.SampleRate(48000)

// speakerBuffer trades latency for underrun safety
const speakerBuffer = 100 * time.Millisecond

// beepSource is one streamer with its gain chain
type beepSource struct {
	channel mixer.Channel
	gain    float64
	ctrl    *beep.Ctrl
	volume  *effects.Volume
}

// BeepSink plays sources through the beep speaker and applies the control
// plane's channel and source gains as logarithmic volume effects
//
// Channel gain and source gain multiply into one effects.Volume per source;
// beep volumes are powers of Base, so the combined linear gain maps through
// log2. Zero gain switches the effect silent instead of taking log2(0)
type BeepSink struct {
	sampleRate beep.SampleRate

	mu       sync.Mutex
	mix      *beep.Mixer
	sources  map[string]*beepSource
	channels [mixer.NumChannels]float64
	closed   bool
}

// NewBeepSink initializes the speaker and starts an empty mix
func NewBeepSink(sampleRate beep.SampleRate) (*BeepSink, error) {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if err := speaker.Init(sampleRate, sampleRate.N(speakerBuffer)); err != nil {
		return nil, errors.Wrap(err, "speaker init")
	}

	s := &BeepSink{
		sampleRate: sampleRate,
		mix:        &beep.Mixer{},
		sources:    make(map[string]*beepSource),
	}
	for i := range s.channels {
		s.channels[i] = 1.0
	}
	speaker.Play(s.mix)
	return s, nil
}

// SampleRate returns the rate the speaker was initialized with
func (s *BeepSink) SampleRate() beep.SampleRate {
	return s.sampleRate
}

// AddSource attaches a streamer to the mix on the given channel
// The streamer starts at the channel's current effective gain
func (s *BeepSink) AddSource(id string, ch mixer.Channel, streamer beep.Streamer) error {
	if !ch.Valid() {
		return errors.Errorf("invalid channel %d for source %s", int(ch), id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("sink closed")
	}
	if _, exists := s.sources[id]; exists {
		return errors.Errorf("source %s already attached", id)
	}

	ctrl := &beep.Ctrl{Streamer: streamer}
	volume := &effects.Volume{Streamer: ctrl, Base: 2, Silent: true}
	src := &beepSource{channel: ch, gain: 1.0, ctrl: ctrl, volume: volume}
	s.sources[id] = src

	speaker.Lock()
	s.applyGain(src)
	speaker.Unlock()
	s.mix.Add(volume)
	return nil
}

// RemoveSource detaches a streamer; the beep mixer drops it once drained
func (s *BeepSink) RemoveSource(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.sources[id]
	if !ok {
		return
	}
	delete(s.sources, id)

	speaker.Lock()
	src.ctrl.Streamer = nil
	speaker.Unlock()
}

// SetChannelVolume implements Sink
func (s *BeepSink) SetChannelVolume(ch mixer.Channel, vol float64) error {
	if !ch.Valid() {
		return errors.Errorf("invalid channel %d", int(ch))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.channels[ch] = vol
	speaker.Lock()
	for _, src := range s.sources {
		if src.channel == ch {
			s.applyGain(src)
		}
	}
	speaker.Unlock()
	return nil
}

// SetSourceVolume implements Sink
// Unknown sources are ignored: the control plane may set volumes for
// sources that were never given a streamer
func (s *BeepSink) SetSourceVolume(id string, vol float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.sources[id]
	if !ok {
		return nil
	}
	src.gain = vol
	speaker.Lock()
	s.applyGain(src)
	speaker.Unlock()
	return nil
}

// Close silences and shuts down the speaker
func (s *BeepSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	speaker.Clear()
	speaker.Close()
	return nil
}

// applyGain maps the combined linear gain onto the volume effect
// Caller holds s.mu and the speaker lock
func (s *BeepSink) applyGain(src *beepSource) {
	combined := s.channels[src.channel] * src.gain
	volume, silent := VolumeForGain(combined)
	src.volume.Volume = volume
	src.volume.Silent = silent
}

// VolumeForGain converts a linear gain to a base-2 beep volume
// Gains at or below zero are silent: log2(0) is -Inf
func VolumeForGain(gain float64) (volume float64, silent bool) {
	if gain <= 0 {
		return 0, true
	}
	return math.Log2(gain), false
}
