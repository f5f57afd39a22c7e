package main

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"

	"github.com/lixenwraith/priomix/duck"
	"github.com/lixenwraith/priomix/fade"
	"github.com/lixenwraith/priomix/mixer"
	"github.com/lixenwraith/priomix/priority"
)

const (
	monitorFrame = 33 * time.Millisecond // ~30 fps
	barWidth     = 40
)

// runMonitor renders a live view of channel levels, ducking phases and
// transition progress. Keys: q/esc quit, m toggles mute, d/b/e/u apply
// the dj/background/emergency/music presets
func runMonitor(
	model *mixer.Model,
	engine *duck.Engine,
	controller *fade.Controller,
	registry *priority.Registry,
) error {
	screen, err := tcell.NewScreen()
	if err != nil {
		return err
	}
	if err := screen.Init(); err != nil {
		return err
	}
	defer screen.Fini()
	screen.Clear()

	quit := make(chan struct{})
	go func() {
		defer close(quit)
		for {
			switch ev := screen.PollEvent().(type) {
			case *tcell.EventKey:
				switch {
				case ev.Key() == tcell.KeyEscape || ev.Key() == tcell.KeyCtrlC:
					return
				case ev.Rune() == 'q':
					return
				case ev.Rune() == 'm':
					model.ToggleMute()
				case ev.Rune() == 'd':
					engine.SetPreset(duck.PresetDJMode)
				case ev.Rune() == 'b':
					engine.SetPreset(duck.PresetBackgroundMode)
				case ev.Rune() == 'e':
					engine.SetPreset(duck.PresetEmergencyMode)
				case ev.Rune() == 'u':
					engine.SetPreset(duck.PresetMusicMode)
				}
			case *tcell.EventResize:
				screen.Sync()
			case nil:
				return
			}
		}
	}()

	ticker := time.NewTicker(monitorFrame)
	defer ticker.Stop()

	for {
		select {
		case <-quit:
			return nil
		case <-ticker.C:
			drawFrame(screen, model, engine, controller, registry)
		}
	}
}

// drawFrame renders one monitor frame
func drawFrame(
	screen tcell.Screen,
	model *mixer.Model,
	engine *duck.Engine,
	controller *fade.Controller,
	registry *priority.Registry,
) {
	screen.Clear()

	header := tcell.StyleDefault.Bold(true)
	plain := tcell.StyleDefault
	dim := tcell.StyleDefault.Foreground(tcell.ColorGray)

	cfg := engine.Configuration()
	title := fmt.Sprintf("priomix  preset=%s  master=%.2f  muted=%v  high-priority=%v",
		cfg.ActivePreset, model.MasterVolume(), model.IsMuted(), registry.IsHighPriorityActive())
	drawText(screen, 0, 0, header, title)

	row := 2
	for _, ch := range mixer.AllChannels {
		status := engine.ChannelStatus(ch)
		effective := model.EffectiveChannelVolume(ch)

		style := plain
		if status.IsDucked {
			style = tcell.StyleDefault.Foreground(tcell.ColorYellow)
		}
		label := fmt.Sprintf("%-6s %s %.2f", ch, levelBar(effective), effective)
		drawText(screen, 0, row, style, label)

		detail := fmt.Sprintf("phase=%-7s level=%.2f original=%.2f triggers=%v",
			status.Phase, status.CurrentLevel, status.OriginalLevel, status.TriggeringSources)
		drawText(screen, 2, row+1, dim, detail)
		row += 3
	}

	if t, active := controller.Active(); active {
		line := fmt.Sprintf("transition %s %s->%s %s %.0f%%",
			t.Type, t.OutgoingID, t.IncomingID, levelBar(t.Progress), t.Progress*100)
		drawText(screen, 0, row, plain, line)
	} else {
		drawText(screen, 0, row, dim, "no transition")
	}
	row += 2

	snap := engine.Snapshot()
	metrics := fmt.Sprintf("ducks=%d cascades=%d emergencies=%d attack avg=%v max=%v",
		snap.TotalDuckingEvents, snap.CascadingDuckCount, snap.EmergencyDuckCount,
		snap.AverageAttackTime.Round(time.Millisecond), snap.MaxAttackTime.Round(time.Millisecond))
	drawText(screen, 0, row, dim, metrics)

	drawText(screen, 0, row+2, dim, "q quit  m mute  d/b/e/u presets")
	screen.Show()
}

// levelBar renders a fixed-width volume bar
func levelBar(level float64) string {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	filled := int(level * barWidth)
	bar := make([]rune, barWidth)
	for i := range bar {
		if i < filled {
			bar[i] = '█'
		} else {
			bar[i] = '░'
		}
	}
	return string(bar)
}

func drawText(screen tcell.Screen, x, y int, style tcell.Style, text string) {
	col := x
	for _, r := range text {
		screen.SetContent(col, y, r, nil, style)
		col++
	}
}
