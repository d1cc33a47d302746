package monitoring

import (
	"context"
	"sync"
)

// Component health statuses.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

type ComponentHealth struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type Health struct {
	Status     string                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
}

// Checker produces the health of one component.
type Checker func(ctx context.Context) ComponentHealth

// HealthRegistry aggregates named component checks into one verdict: any
// unhealthy component makes the whole unhealthy, else any degraded makes it
// degraded.
type HealthRegistry struct {
	mu       sync.RWMutex
	checkers map[string]Checker
}

func NewHealthRegistry() *HealthRegistry {
	return &HealthRegistry{checkers: make(map[string]Checker)}
}

func (r *HealthRegistry) Register(name string, check Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[name] = check
}

func (r *HealthRegistry) Check(ctx context.Context) Health {
	r.mu.RLock()
	names := make([]string, 0, len(r.checkers))
	checks := make([]Checker, 0, len(r.checkers))
	for name, check := range r.checkers {
		names = append(names, name)
		checks = append(checks, check)
	}
	r.mu.RUnlock()

	h := Health{Status: StatusHealthy, Components: make(map[string]ComponentHealth, len(names))}
	for i, check := range checks {
		ch := check(ctx)
		h.Components[names[i]] = ch
		switch ch.Status {
		case StatusUnhealthy:
			h.Status = StatusUnhealthy
		case StatusDegraded:
			if h.Status == StatusHealthy {
				h.Status = StatusDegraded
			}
		}
	}
	return h
}

// PingChecker adapts a liveness ping into a Checker.
func PingChecker(ping func(ctx context.Context) error) Checker {
	return func(ctx context.Context) ComponentHealth {
		if err := ping(ctx); err != nil {
			return ComponentHealth{Status: StatusUnhealthy, Reason: err.Error()}
		}
		return ComponentHealth{Status: StatusHealthy}
	}
}
