package service

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Hub is the runtime container for service instances
// Starts services in topological dependency order and stops them in reverse
type Hub struct {
	log *zap.Logger

	mu       sync.Mutex
	services map[string]Service
	sorted   []string // Topological order, computed on StartAll
	started  []string // Services that completed Start, for rollback
}

// NewHub creates an empty hub
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		log:      log,
		services: make(map[string]Service),
	}
}

// Register adds a service instance
func (h *Hub) Register(svc Service) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	name := svc.Name()
	if _, exists := h.services[name]; exists {
		return fmt.Errorf("service already registered: %s", name)
	}
	h.services[name] = svc
	h.sorted = nil // Invalidate cached order
	return nil
}

// Get retrieves a service by name
func (h *Hub) Get(name string) (Service, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	svc, ok := h.services[name]
	return svc, ok
}

// StartAll starts every service in dependency order
// On failure, already-started services are stopped in reverse order
func (h *Hub) StartAll() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.sorted == nil {
		order, err := h.topologicalSort()
		if err != nil {
			return err
		}
		h.sorted = order
	}

	h.started = nil
	for _, name := range h.sorted {
		svc := h.services[name]
		if err := svc.Start(); err != nil {
			h.log.Error("service start failed", zap.String("service", name), zap.Error(err))
			for i := len(h.started) - 1; i >= 0; i-- {
				h.stopOne(h.started[i])
			}
			h.started = nil
			return fmt.Errorf("service %s start failed: %w", name, err)
		}
		h.log.Debug("service started", zap.String("service", name))
		h.started = append(h.started, name)
	}
	return nil
}

// StopAll stops all started services in reverse order
// Errors are logged, not returned: every service gets its Stop call
func (h *Hub) StopAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := len(h.started) - 1; i >= 0; i-- {
		h.stopOne(h.started[i])
	}
	h.started = nil
}

// stopOne stops a single service; caller holds mu
func (h *Hub) stopOne(name string) {
	svc, ok := h.services[name]
	if !ok {
		return
	}
	if err := svc.Stop(); err != nil {
		h.log.Warn("service stop failed", zap.String("service", name), zap.Error(err))
		return
	}
	h.log.Debug("service stopped", zap.String("service", name))
}

// StartOrder returns the resolved start order, computing it if needed
func (h *Hub) StartOrder() ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.sorted == nil {
		order, err := h.topologicalSort()
		if err != nil {
			return nil, err
		}
		h.sorted = order
	}
	out := make([]string, len(h.sorted))
	copy(out, h.sorted)
	return out, nil
}

// topologicalSort computes start order using Kahn's algorithm
// Caller holds mu; returns an error on unknown or circular dependencies
func (h *Hub) topologicalSort() ([]string, error) {
	inDegree := make(map[string]int)
	dependents := make(map[string][]string)

	for name := range h.services {
		inDegree[name] = 0
	}
	for name, svc := range h.services {
		for _, dep := range svc.Dependencies() {
			if _, exists := h.services[dep]; !exists {
				return nil, fmt.Errorf("service %s depends on unregistered service: %s", name, dep)
			}
			inDegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var queue []string
	for name, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, name)
		}
	}

	var result []string
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		result = append(result, name)

		for _, dependent := range dependents[name] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(result) != len(h.services) {
		return nil, fmt.Errorf("circular dependency detected in services")
	}
	return result, nil
}
