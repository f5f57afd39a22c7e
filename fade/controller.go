package fade

import (
	"errors"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lixenwraith/priomix/events"
	"github.com/lixenwraith/priomix/mixer"
)

// ErrTransitionInProgress rejects a second transition while one is active
// The controller's policy is reject, not cancel-and-replace: deliberate
// transitions should never be silently discarded by a racing caller.
// Use CancelTransition or EmergencyCut to preempt explicitly
var ErrTransitionInProgress = errors.New("transition already in progress")

// DefaultProgressTick drives interpolation and progress events at 25 Hz
const DefaultProgressTick = 40 * time.Millisecond

// TransitionType identifies the kind of fade
type TransitionType int

const (
	TransitionCrossfade TransitionType = iota
	TransitionFadeIn
	TransitionFadeOut
	TransitionEmergencyCut
)

// String returns the transition name
func (t TransitionType) String() string {
	switch t {
	case TransitionCrossfade:
		return "crossfade"
	case TransitionFadeIn:
		return "fade-in"
	case TransitionFadeOut:
		return "fade-out"
	case TransitionEmergencyCut:
		return "emergency-cut"
	default:
		return "invalid"
	}
}

// Curve selects the interpolation shape
type Curve int

const (
	// CurveLinear is the documented default
	CurveLinear Curve = iota
	// CurveEqualPower keeps perceived loudness steady during crossfades
	CurveEqualPower
)

// Transition describes one fade; Progress is a single shared scalar
// driving both the outgoing and incoming ramps in lock-step
type Transition struct {
	Type       TransitionType
	OutgoingID string
	IncomingID string
	Duration   time.Duration
	Progress   float64
	StartedAt  time.Time
	// FromVolume is the outgoing source's fade factor when the transition
	// began. Fade-outs ramp down from here; a partially faded source is
	// never snapped back to full volume first
	FromVolume float64
}

// ProgressReport is the TransitionProgress event payload
type ProgressReport struct {
	Transition
	OutgoingVolume float64
	IncomingVolume float64
	Elapsed        time.Duration
	Remaining      time.Duration
}

// transitionState is the in-flight bookkeeping for one transition
type transitionState struct {
	Transition
	cancel     chan struct{}
	cancelOnce sync.Once
	done       chan struct{}
}

// Controller runs deliberate source-to-source transitions
//
// At most one transition is active at a time. It writes source fade factors
// only; ducking writes channel factors, so the two compose multiplicatively
// in the mixer model and never fight
type Controller struct {
	model *mixer.Model
	bus   *events.Bus
	log   *zap.Logger
	curve Curve
	tick  time.Duration

	mu     sync.Mutex
	active *transitionState
}

// ControllerOption adjusts controller construction
type ControllerOption func(*Controller)

// WithLogger attaches a logger; default is a nop logger
func WithLogger(log *zap.Logger) ControllerOption {
	return func(c *Controller) { c.log = log }
}

// WithBus attaches a notification bus for transition events
func WithBus(bus *events.Bus) ControllerOption {
	return func(c *Controller) { c.bus = bus }
}

// WithCurve selects the interpolation curve
func WithCurve(curve Curve) ControllerOption {
	return func(c *Controller) { c.curve = curve }
}

// WithProgressTick overrides the interpolation cadence
func WithProgressTick(tick time.Duration) ControllerOption {
	return func(c *Controller) {
		if tick > 0 {
			c.tick = tick
		}
	}
}

// NewController creates a crossfade controller writing to the given model
func NewController(model *mixer.Model, opts ...ControllerOption) *Controller {
	c := &Controller{
		model: model,
		log:   zap.NewNop(),
		curve: CurveLinear,
		tick:  DefaultProgressTick,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Crossfade fades the outgoing source out while the incoming source fades in
// over the given duration. Zero duration is an instant swap
func (c *Controller) Crossfade(outgoingID, incomingID string, duration time.Duration) error {
	return c.begin(Transition{
		Type:       TransitionCrossfade,
		OutgoingID: outgoingID,
		IncomingID: incomingID,
		Duration:   duration,
	})
}

// FadeIn ramps a single source from silence to full volume
func (c *Controller) FadeIn(sourceID string, duration time.Duration) error {
	return c.begin(Transition{
		Type:       TransitionFadeIn,
		IncomingID: sourceID,
		Duration:   duration,
	})
}

// FadeOut ramps a single source from its current fade factor to silence
func (c *Controller) FadeOut(sourceID string, duration time.Duration) error {
	return c.begin(Transition{
		Type:       TransitionFadeOut,
		OutgoingID: sourceID,
		Duration:   duration,
	})
}

// EmergencyCut cancels any in-flight transition and sets volumes instantly
// with no ramp. Either id may be empty. Any duck floor in effect composes
// on top: the cut writes source gain, ducking owns channel gain
func (c *Controller) EmergencyCut(outgoingID, incomingID string) error {
	c.CancelTransition()

	t := Transition{
		Type:       TransitionEmergencyCut,
		OutgoingID: outgoingID,
		IncomingID: incomingID,
		StartedAt:  time.Now(),
	}
	c.publish(events.TransitionStarted, t)

	if outgoingID != "" {
		c.model.SetSourceFadeFactor(outgoingID, 0)
	}
	if incomingID != "" {
		c.model.SetSourceFadeFactor(incomingID, 1)
	}

	t.Progress = 1
	c.publish(events.TransitionCompleted, t)
	c.log.Info("emergency cut",
		zap.String("outgoing", outgoingID),
		zap.String("incoming", incomingID))
	return nil
}

// CancelTransition stops any in-flight transition mid-ramp, leaving each
// source at its current interpolated volume. Safe with nothing active
func (c *Controller) CancelTransition() {
	c.mu.Lock()
	st := c.active
	c.mu.Unlock()

	if st == nil {
		return
	}
	st.cancelOnce.Do(func() { close(st.cancel) })
	<-st.done
}

// Active returns the in-flight transition, if any
func (c *Controller) Active() (Transition, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return Transition{}, false
	}
	return c.active.Transition, true
}

// begin admits a new transition under the single-transition policy
func (c *Controller) begin(t Transition) error {
	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return ErrTransitionInProgress
	}

	t.StartedAt = time.Now()
	t.FromVolume = 1.0
	if t.Type == TransitionFadeOut {
		t.FromVolume = c.model.SourceFadeFactor(t.OutgoingID)
	}
	if t.Duration <= 0 {
		// Instant swap
		c.mu.Unlock()
		c.publish(events.TransitionStarted, t)
		c.applyProgress(t, 1)
		t.Progress = 1
		c.publish(events.TransitionCompleted, t)
		return nil
	}

	st := &transitionState{
		Transition: t,
		cancel:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	c.active = st
	c.mu.Unlock()

	c.publish(events.TransitionStarted, t)
	c.applyProgress(t, 0)
	go c.run(st)

	c.log.Debug("transition started",
		zap.Stringer("type", t.Type),
		zap.String("outgoing", t.OutgoingID),
		zap.String("incoming", t.IncomingID),
		zap.Duration("duration", t.Duration))
	return nil
}

// run drives one transition to completion or cancellation
func (c *Controller) run(st *transitionState) {
	defer func() {
		c.mu.Lock()
		if c.active == st {
			c.active = nil
		}
		c.mu.Unlock()
		close(st.done)
	}()

	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	for {
		select {
		case <-st.cancel:
			c.mu.Lock()
			snapshot := st.Transition
			c.mu.Unlock()
			c.publish(events.TransitionCancelled, snapshot)
			c.log.Debug("transition cancelled",
				zap.Stringer("type", snapshot.Type),
				zap.Float64("progress", snapshot.Progress))
			return

		case now := <-ticker.C:
			elapsed := now.Sub(st.StartedAt)
			progress := float64(elapsed) / float64(st.Duration)
			if progress > 1 {
				progress = 1
			}

			c.mu.Lock()
			st.Progress = progress
			snapshot := st.Transition
			c.mu.Unlock()

			outVol, inVol := c.applyProgress(snapshot, progress)

			remaining := st.Duration - elapsed
			if remaining < 0 {
				remaining = 0
			}
			c.publish(events.TransitionProgress, ProgressReport{
				Transition:     snapshot,
				OutgoingVolume: outVol,
				IncomingVolume: inVol,
				Elapsed:        elapsed,
				Remaining:      remaining,
			})

			if progress >= 1 {
				c.publish(events.TransitionCompleted, snapshot)
				return
			}
		}
	}
}

// applyProgress writes the fade factors for a given progress and returns
// the outgoing and incoming volumes
func (c *Controller) applyProgress(t Transition, progress float64) (outVol, inVol float64) {
	outVol, inVol = c.volumesAt(progress)

	switch t.Type {
	case TransitionCrossfade, TransitionEmergencyCut:
		if t.OutgoingID != "" {
			c.model.SetSourceFadeFactor(t.OutgoingID, outVol)
		}
		if t.IncomingID != "" {
			c.model.SetSourceFadeFactor(t.IncomingID, inVol)
		}
	case TransitionFadeIn:
		c.model.SetSourceFadeFactor(t.IncomingID, inVol)
	case TransitionFadeOut:
		// Scale the curve by the factor the source started at
		outVol *= t.FromVolume
		c.model.SetSourceFadeFactor(t.OutgoingID, outVol)
	}
	return outVol, inVol
}

// volumesAt maps shared progress to outgoing/incoming volumes
// Outgoing is monotonically non-increasing, incoming non-decreasing;
// equal-power volumes need not sum to one
func (c *Controller) volumesAt(progress float64) (outVol, inVol float64) {
	switch c.curve {
	case CurveEqualPower:
		return math.Cos(progress * math.Pi / 2), math.Sin(progress * math.Pi / 2)
	default:
		return 1 - progress, progress
	}
}

func (c *Controller) publish(t events.Type, payload any) {
	if c.bus != nil {
		c.bus.Publish(events.Event{Type: t, Payload: payload})
	}
}
