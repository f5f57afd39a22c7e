package main

import (
	"fmt"
	"time"

	"github.com/gopxl/beep/generators"
	"go.uber.org/zap"

	"github.com/lixenwraith/priomix/backend"
	"github.com/lixenwraith/priomix/duck"
	"github.com/lixenwraith/priomix/fade"
	"github.com/lixenwraith/priomix/mixer"
	"github.com/lixenwraith/priomix/priority"
)

// Demo sources: two music decks on the main bus, an announcement voice,
// and a doorbell-style event trigger
const (
	srcDeckA    = "deck-a"
	srcDeckB    = "deck-b"
	srcTTS      = "tts-1"
	srcDoorbell = "doorbell"
)

// runDemo plays a scripted scenario: fade in a deck, crossfade to the
// second deck, duck both under an announcement, then fire an emergency
// event cut. With no audio device the script still exercises the whole
// control plane against the memory sink
func runDemo(
	model *mixer.Model,
	registry *priority.Registry,
	controller *fade.Controller,
	engine *duck.Engine,
	beepSink *backend.BeepSink,
	logger *zap.Logger,
) {
	model.AttachSource(srcDeckA, mixer.Main)
	model.AttachSource(srcDeckB, mixer.Main)
	model.AttachSource(srcTTS, mixer.Voice)
	model.AttachSource(srcDoorbell, mixer.Event)

	if beepSink != nil {
		attachTone(beepSink, srcDeckA, mixer.Main, 220)
		attachTone(beepSink, srcDeckB, mixer.Main, 330)
		attachTone(beepSink, srcTTS, mixer.Voice, 880)
		attachTone(beepSink, srcDoorbell, mixer.Event, 660)
	}

	check(logger, registry.RegisterSource(srcDeckA, priority.Low))
	check(logger, registry.RegisterSource(srcDeckB, priority.Low))
	check(logger, registry.RegisterSource(srcTTS, priority.High))
	check(logger, registry.RegisterSource(srcDoorbell, priority.High))

	// Decks start silent; fade the first one in
	model.SetSourceFadeFactor(srcDeckA, 0)
	model.SetSourceFadeFactor(srcDeckB, 0)

	fmt.Println("demo: fade in deck-a")
	check(logger, controller.FadeIn(srcDeckA, 1500*time.Millisecond))
	waitIdle(controller, 3*time.Second)

	fmt.Println("demo: crossfade deck-a -> deck-b")
	check(logger, controller.Crossfade(srcDeckA, srcDeckB, 2*time.Second))
	waitIdle(controller, 4*time.Second)

	fmt.Println("demo: announcement starts, music ducks")
	check(logger, registry.OnHighPriorityStart(srcTTS))
	waitFor(2*time.Second, func() bool {
		return engine.ChannelStatus(mixer.Main).Phase == duck.PhaseHold
	})
	time.Sleep(1500 * time.Millisecond)

	fmt.Println("demo: announcement ends, music recovers")
	registry.OnHighPriorityEnd(srcTTS)
	waitFor(5*time.Second, func() bool {
		return !engine.ChannelStatus(mixer.Main).IsDucked
	})

	fmt.Println("demo: doorbell emergency duck")
	check(logger, engine.ApplyEmergencyDuck(mixer.Event, srcDoorbell))
	time.Sleep(time.Second)
	engine.EndDucking(srcDoorbell)
	waitFor(5*time.Second, func() bool {
		return !engine.ChannelStatus(mixer.Main).IsDucked
	})

	fmt.Println("demo: fade out deck-b")
	check(logger, controller.FadeOut(srcDeckB, time.Second))
	waitIdle(controller, 3*time.Second)

	registry.UnregisterSource(srcDeckA)
	registry.UnregisterSource(srcDeckB)
	registry.UnregisterSource(srcTTS)
	registry.UnregisterSource(srcDoorbell)
}

// attachTone adds an endless sine test tone for one demo source
func attachTone(sink *backend.BeepSink, id string, ch mixer.Channel, freq int) {
	tone, err := generators.SineTone(sink.SampleRate(), float64(freq))
	if err != nil {
		return
	}
	_ = sink.AddSource(id, ch, tone)
}

// waitIdle blocks until the controller has no active transition
func waitIdle(controller *fade.Controller, timeout time.Duration) {
	waitFor(timeout, func() bool {
		_, active := controller.Active()
		return !active
	})
}

func check(logger *zap.Logger, err error) {
	if err != nil {
		logger.Warn("demo step failed", zap.Error(err))
	}
}
