// priomix is a demo and monitor harness for the priority-ducking mix
// control plane. It assembles the full stack (backend sink, volume model,
// ducking engine, priority registry, crossfade controller), optionally runs
// a scripted source scenario, and can show a live channel-level monitor
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/lixenwraith/priomix/backend"
	"github.com/lixenwraith/priomix/config"
	"github.com/lixenwraith/priomix/duck"
	"github.com/lixenwraith/priomix/events"
	"github.com/lixenwraith/priomix/fade"
	"github.com/lixenwraith/priomix/mixer"
	"github.com/lixenwraith/priomix/priority"
	"github.com/lixenwraith/priomix/service"
)

func main() {
	var (
		configPath = flag.String("config", "", "ducking configuration file (default: ~/.config/priomix/ducking.toml)")
		presetName = flag.String("preset", "", "apply a ducking preset: dj, background, emergency, music")
		duckPct    = flag.Float64("duck", -1, "duck percentage in [0,1]; overrides the configured level")
		silent     = flag.Bool("silent", false, "skip audio output, run the control plane only")
		demo       = flag.Bool("demo", false, "run the scripted crossfade/duck scenario")
		monitor    = flag.Bool("monitor", false, "show the live channel-level monitor")
		debug      = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	if err := run(*configPath, *presetName, *duckPct, *silent, *demo, *monitor, *debug); err != nil {
		fmt.Fprintf(os.Stderr, "priomix: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, presetName string, duckPct float64, silent, demo, monitor, debug bool) error {
	logger := zap.NewNop()
	if debug {
		var err error
		logger, err = zap.NewDevelopment()
		if err != nil {
			return err
		}
		defer logger.Sync()
	}

	if configPath == "" {
		var err error
		configPath, err = config.DefaultPath()
		if err != nil {
			return err
		}
	}
	store := config.NewStore(configPath, logger)
	cfg, err := store.Load()
	if err != nil {
		return err
	}

	// Graceful degradation: without a device the control plane still runs
	var sink backend.Sink
	var beepSink *backend.BeepSink
	if silent {
		sink = backend.NewMemorySink()
	} else {
		beepSink, err = backend.NewBeepSink(backend.DefaultSampleRate)
		if err != nil {
			logger.Warn("audio device unavailable, running silent", zap.Error(err))
			sink = backend.NewMemorySink()
		} else {
			sink = beepSink
		}
	}

	bus := events.NewBus()
	model := mixer.NewModel(sink, mixer.WithLogger(logger))
	engine := duck.NewEngine(model,
		duck.WithConfiguration(cfg),
		duck.WithBus(bus),
		duck.WithLogger(logger))
	registry := priority.NewRegistry(engine, model, priority.WithLogger(logger))
	controller := fade.NewController(model,
		fade.WithBus(bus),
		fade.WithLogger(logger))

	hub := service.NewHub(logger)
	mustRegister(hub, &service.Lifecycle{
		ServiceName: "backend",
		StopFunc:    sink.Close,
	})
	mustRegister(hub, &service.Lifecycle{
		ServiceName: "mixer",
		Deps:        []string{"backend"},
		StartFunc:   model.Start,
		StopFunc:    func() error { model.Stop(); return nil },
	})
	mustRegister(hub, &service.Lifecycle{
		ServiceName: "ducking",
		Deps:        []string{"mixer"},
		StartFunc:   engine.Start,
		StopFunc:    func() error { engine.Stop(); return nil },
	})
	mustRegister(hub, &service.Lifecycle{
		ServiceName: "fade",
		Deps:        []string{"mixer"},
		StopFunc:    func() error { controller.CancelTransition(); return nil },
	})

	if err := hub.StartAll(); err != nil {
		return err
	}
	defer func() {
		bus.Close()
		hub.StopAll()
	}()

	if presetName != "" {
		preset, ok := duck.ParsePreset(presetName)
		if !ok {
			return fmt.Errorf("unknown preset %q", presetName)
		}
		if err := engine.SetPreset(preset); err != nil {
			return err
		}
		if err := store.Save(engine.Configuration()); err != nil {
			logger.Warn("configuration save failed", zap.Error(err))
		}
	}
	if duckPct >= 0 {
		if err := registry.SetDuckPercentage(duckPct); err != nil {
			return err
		}
	}

	switch {
	case demo && monitor:
		go runDemo(model, registry, controller, engine, beepSink, logger)
		return runMonitor(model, engine, controller, registry)
	case demo:
		runDemo(model, registry, controller, engine, beepSink, logger)
		printSummary(engine, bus)
		return nil
	case monitor:
		return runMonitor(model, engine, controller, registry)
	default:
		order, err := hub.StartOrder()
		if err != nil {
			return err
		}
		fmt.Printf("services: %v\n", order)
		fmt.Printf("preset: %s, ducking enabled: %v\n",
			engine.Configuration().ActivePreset, engine.Configuration().Enabled)
		fmt.Println("nothing to do; pass -demo and/or -monitor")
		return nil
	}
}

func mustRegister(hub *service.Hub, svc service.Service) {
	if err := hub.Register(svc); err != nil {
		panic(err)
	}
}

func printSummary(engine *duck.Engine, bus *events.Bus) {
	snap := engine.Snapshot()
	fmt.Printf("ducking events: %d (cascading %d, emergency %d)\n",
		snap.TotalDuckingEvents, snap.CascadingDuckCount, snap.EmergencyDuckCount)
	fmt.Printf("attack avg %v max %v, release avg %v\n",
		snap.AverageAttackTime, snap.MaxAttackTime, snap.AverageReleaseTime)
	if dropped := bus.Dropped(); dropped > 0 {
		fmt.Printf("events dropped for slow subscribers: %d\n", dropped)
	}
}

// waitFor polls until cond is true or the timeout passes
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}
