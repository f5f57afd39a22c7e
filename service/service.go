// Package service assembles the mixer components into an explicit
// lifecycle: no hidden process-wide singletons, everything is created at
// startup and torn down at shutdown in dependency order
package service

// Service is the lifecycle interface for one mixer subsystem
type Service interface {
	// Name returns the unique identifier for this service
	Name() string

	// Dependencies lists service names that must start first
	Dependencies() []string

	// Start begins operation; called in dependency order
	Start() error

	// Stop halts operation and releases resources; called in reverse order
	Stop() error
}

// Lifecycle adapts plain start/stop functions to the Service interface
// Components that already expose Start/Stop pairs register through this
type Lifecycle struct {
	ServiceName string
	Deps        []string
	StartFunc   func() error
	StopFunc    func() error
}

// Name implements Service
func (l *Lifecycle) Name() string { return l.ServiceName }

// Dependencies implements Service
func (l *Lifecycle) Dependencies() []string { return l.Deps }

// Start implements Service
func (l *Lifecycle) Start() error {
	if l.StartFunc == nil {
		return nil
	}
	return l.StartFunc()
}

// Stop implements Service
func (l *Lifecycle) Stop() error {
	if l.StopFunc == nil {
		return nil
	}
	return l.StopFunc()
}
