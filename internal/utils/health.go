package utils

import (
	"context"
	"time"
)

type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Services  []Service `json:"services"`
}

type Service struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Pinger is anything whose liveness can be probed: the message store, Redis, MinIO.
type Pinger interface {
	Ping(ctx context.Context) error
}

type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type HealthChecker struct {
	checks  []namedPinger
	timeout time.Duration
}

type namedPinger struct {
	name   string
	pinger Pinger
}

func NewHealthChecker(timeout time.Duration) *HealthChecker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthChecker{timeout: timeout}
}

// Add registers a dependency. Nil pingers are skipped so optional providers can
// be passed unconditionally.
func (h *HealthChecker) Add(name string, p Pinger) *HealthChecker {
	if p != nil {
		h.checks = append(h.checks, namedPinger{name: name, pinger: p})
	}
	return h
}

func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	services := make([]Service, 0, len(h.checks))
	overallStatus := "healthy"

	for _, c := range h.checks {
		service := Service{Name: c.name}
		ctx, cancel := context.WithTimeout(ctx, h.timeout)
		if err := c.pinger.Ping(ctx); err != nil {
			service.Status = "down"
			service.Message = err.Error()
			overallStatus = "degraded"
		} else {
			service.Status = "up"
		}
		services = append(services, service)
		cancel()
	}

	return HealthStatus{
		Status:    overallStatus,
		Timestamp: time.Now().UTC(),
		Services:  services,
	}
}
