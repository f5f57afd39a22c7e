// Package backend adapts the control plane's volume writes to an actual
// audio engine. The mixer model is the only caller; the control plane never
// touches samples itself
package backend

import (
	"sync"

	"github.com/lixenwraith/priomix/mixer"
)

// Sink receives effective volume values computed by the mixer model
type Sink interface {
	SetChannelVolume(ch mixer.Channel, vol float64) error
	SetSourceVolume(id string, vol float64) error
	Close() error
}

// MemorySink records the last written volumes
// Used by tests and as the silent-mode fallback when no audio device is
// available; the control plane keeps running either way
type MemorySink struct {
	mu       sync.Mutex
	channels map[mixer.Channel]float64
	sources  map[string]float64
	writes   uint64
}

// NewMemorySink creates an empty recording sink
func NewMemorySink() *MemorySink {
	return &MemorySink{
		channels: make(map[mixer.Channel]float64),
		sources:  make(map[string]float64),
	}
}

// SetChannelVolume implements Sink
func (s *MemorySink) SetChannelVolume(ch mixer.Channel, vol float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[ch] = vol
	s.writes++
	return nil
}

// SetSourceVolume implements Sink
func (s *MemorySink) SetSourceVolume(id string, vol float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[id] = vol
	s.writes++
	return nil
}

// Close implements Sink
func (s *MemorySink) Close() error {
	return nil
}

// ChannelVolume returns the last value written for a channel
func (s *MemorySink) ChannelVolume(ch mixer.Channel) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.channels[ch]
	return v, ok
}

// SourceVolume returns the last value written for a source
func (s *MemorySink) SourceVolume(id string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.sources[id]
	return v, ok
}

// WriteCount returns the number of volume writes received
func (s *MemorySink) WriteCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}
