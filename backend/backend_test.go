package backend

import (
	"math"
	"testing"

	"github.com/lixenwraith/priomix/mixer"
)

func TestMemorySinkRecordsWrites(t *testing.T) {
	s := NewMemorySink()

	if _, ok := s.ChannelVolume(mixer.Main); ok {
		t.Error("expected no recorded value before any write")
	}

	if err := s.SetChannelVolume(mixer.Main, 0.5); err != nil {
		t.Fatalf("channel write: %v", err)
	}
	if err := s.SetSourceVolume("deck-a", 0.25); err != nil {
		t.Fatalf("source write: %v", err)
	}

	if v, ok := s.ChannelVolume(mixer.Main); !ok || v != 0.5 {
		t.Errorf("channel volume = (%v, %v), want (0.5, true)", v, ok)
	}
	if v, ok := s.SourceVolume("deck-a"); !ok || v != 0.25 {
		t.Errorf("source volume = (%v, %v), want (0.25, true)", v, ok)
	}
	if got := s.WriteCount(); got != 2 {
		t.Errorf("write count = %d, want 2", got)
	}
	if err := s.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
}

func TestMemorySinkKeepsLastValue(t *testing.T) {
	s := NewMemorySink()
	s.SetChannelVolume(mixer.Voice, 1.0)
	s.SetChannelVolume(mixer.Voice, 0.3)

	if v, _ := s.ChannelVolume(mixer.Voice); v != 0.3 {
		t.Errorf("expected last write 0.3, got %v", v)
	}
}

func TestVolumeForGain(t *testing.T) {
	cases := []struct {
		gain   float64
		volume float64
		silent bool
	}{
		{1.0, 0, false},
		{0.5, -1, false},
		{0.25, -2, false},
		{2.0, 1, false},
		{0, 0, true},
		{-0.1, 0, true},
	}
	for _, tc := range cases {
		volume, silent := VolumeForGain(tc.gain)
		if silent != tc.silent {
			t.Errorf("VolumeForGain(%v) silent = %v, want %v", tc.gain, silent, tc.silent)
			continue
		}
		if !silent && math.Abs(volume-tc.volume) > 1e-9 {
			t.Errorf("VolumeForGain(%v) = %v, want %v", tc.gain, volume, tc.volume)
		}
	}
}
