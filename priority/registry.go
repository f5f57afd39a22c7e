package priority

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/lixenwraith/priomix/mixer"
)

// Sentinel errors
var (
	// ErrDuplicateSource marks a second RegisterSource without an
	// intervening unregister; indicates a caller bug, not retryable
	ErrDuplicateSource = errors.New("source already registered")

	// ErrUnknownSource marks an operation on a source id that was never
	// registered, or registered with the wrong priority
	ErrUnknownSource = errors.New("source not registered")

	// ErrValidation marks an out-of-contract value such as a duck
	// percentage outside [0,1]
	ErrValidation = errors.New("validation failed")
)

// Priority tags a source at registration; immutable for its lifetime
type Priority int

const (
	Low Priority = iota
	High
)

// String returns the priority name
func (p Priority) String() string {
	switch p {
	case Low:
		return "low"
	case High:
		return "high"
	default:
		return "invalid"
	}
}

// DuckController is the slice of the ducking engine the registry drives
type DuckController interface {
	StartDucking(trigger mixer.Channel, sourceID string) error
	EndDucking(sourceID string)
	SetDefaultDuckLevel(level float64) error
}

// SourceCatalog resolves a source id to the channel it is routed on
// Implemented by mixer.Model
type SourceCatalog interface {
	SourceChannel(id string) (mixer.Channel, bool)
}

// Registry tracks every active source's priority tag and raises
// duck-start/duck-end intents when high-priority activity begins or ends
//
// The registry never calls the ducking engine while holding its own lock:
// envelope-driven callbacks may re-enter the registry
type Registry struct {
	engine  DuckController
	catalog SourceCatalog
	log     *zap.Logger

	mu         sync.Mutex
	sources    map[string]Priority
	activeHigh map[string]mixer.Channel
	duckPct    float64
}

// RegistryOption adjusts registry construction
type RegistryOption func(*Registry)

// WithLogger attaches a logger; default is a nop logger
func WithLogger(log *zap.Logger) RegistryOption {
	return func(r *Registry) { r.log = log }
}

// NewRegistry creates a registry driving the given ducking controller
// The catalog resolves trigger channels; sources missing from it default
// to the voice bus
func NewRegistry(engine DuckController, catalog SourceCatalog, opts ...RegistryOption) *Registry {
	r := &Registry{
		engine:     engine,
		catalog:    catalog,
		log:        zap.NewNop(),
		sources:    make(map[string]Priority),
		activeHigh: make(map[string]mixer.Channel),
		duckPct:    0.75,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterSource records a source with its priority tag
// No side effect on channel volumes
func (r *Registry) RegisterSource(sourceID string, p Priority) error {
	if p != Low && p != High {
		return fmt.Errorf("%w: priority %d", ErrValidation, int(p))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sources[sourceID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSource, sourceID)
	}
	r.sources[sourceID] = p
	return nil
}

// UnregisterSource removes a registration
// An active high trigger is ended exactly as OnHighPriorityEnd would end it,
// so no orphaned ducks survive the source. Idempotent
func (r *Registry) UnregisterSource(sourceID string) {
	r.mu.Lock()
	_, wasActive := r.activeHigh[sourceID]
	delete(r.activeHigh, sourceID)
	delete(r.sources, sourceID)
	r.mu.Unlock()

	if wasActive {
		r.engine.EndDucking(sourceID)
		r.log.Debug("active trigger unregistered", zap.String("source", sourceID))
	}
}

// OnHighPriorityStart marks a registered high-priority source active and
// asks the ducking engine to duck its configured targets. Later concurrent
// starts cascade inside the engine; no trigger is lost to a race
func (r *Registry) OnHighPriorityStart(sourceID string) error {
	r.mu.Lock()
	p, exists := r.sources[sourceID]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownSource, sourceID)
	}
	if p != High {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s registered as %s", ErrUnknownSource, sourceID, p)
	}
	if _, already := r.activeHigh[sourceID]; already {
		r.mu.Unlock()
		return nil
	}

	trigger := mixer.Voice
	if r.catalog != nil {
		if ch, ok := r.catalog.SourceChannel(sourceID); ok {
			trigger = ch
		}
	}
	r.activeHigh[sourceID] = trigger
	r.mu.Unlock()

	// Engine call deliberately outside the registry lock
	if err := r.engine.StartDucking(trigger, sourceID); err != nil {
		r.mu.Lock()
		delete(r.activeHigh, sourceID)
		r.mu.Unlock()
		return err
	}
	return nil
}

// OnHighPriorityEnd removes the source from the active trigger set
// Ducking stays in effect while other high sources remain active; the
// engine's per-source bookkeeping enforces that. Idempotent
func (r *Registry) OnHighPriorityEnd(sourceID string) {
	r.mu.Lock()
	_, wasActive := r.activeHigh[sourceID]
	delete(r.activeHigh, sourceID)
	r.mu.Unlock()

	if wasActive {
		r.engine.EndDucking(sourceID)
	}
}

// IsHighPriorityActive reports whether any high-priority source is active
func (r *Registry) IsHighPriorityActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.activeHigh) > 0
}

// ActiveHighCount returns the number of active high-priority sources
func (r *Registry) ActiveHighCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.activeHigh)
}

// DuckPercentage returns the current attenuation scalar
func (r *Registry) DuckPercentage() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.duckPct
}

// SetDuckPercentage maps a [0,1] attenuation amount onto the configuration's
// default duck level: percentage 0.8 ducks targets to 20% of their volume
// Out-of-range values fail validation with no state change
func (r *Registry) SetDuckPercentage(p float64) error {
	if p < 0 || p > 1 {
		return fmt.Errorf("%w: duck percentage %v outside [0,1]", ErrValidation, p)
	}

	if err := r.engine.SetDefaultDuckLevel(1.0 - p); err != nil {
		return err
	}

	r.mu.Lock()
	r.duckPct = p
	r.mu.Unlock()
	return nil
}
