// Package health tracks whether this machine can currently record: the
// capture backend, free disk space, and the encoder are each reported by the
// components that know, and the control API serves the roll-up.
package health

import (
	"sync"
	"time"

	"github.com/reelcast/agent/internal/logging"
)

var log = logging.L("health")

type Status string

const (
	Healthy   Status = "healthy"
	Degraded  Status = "degraded"
	Unhealthy Status = "unhealthy"
)

// Components reported by the recorder.
const (
	ComponentCapture = "capture"
	ComponentDisk    = "disk"
	ComponentEncoder = "encoder"
	ComponentLibrary = "library"
)

// Check is the latest result for one component.
type Check struct {
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Report is what the control API serves.
type Report struct {
	Status Status  `json:"status"`
	Checks []Check `json:"checks"`
}

// Monitor aggregates component checks. A nil monitor ignores updates, so
// callers never have to guard.
type Monitor struct {
	mu     sync.RWMutex
	checks map[string]Check
}

func NewMonitor() *Monitor {
	return &Monitor{checks: make(map[string]Check)}
}

// Set records the status of a component.
func (m *Monitor) Set(component string, status Status, message string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.checks[component] = Check{
		Name:      component,
		Status:    status,
		Message:   message,
		UpdatedAt: time.Now(),
	}
	m.mu.Unlock()

	if status != Healthy {
		log.Warn("component degraded", "component", component, "status", string(status), "message", message)
	}
}

// Report snapshots all checks with the worst status as the roll-up. An
// empty monitor reports healthy.
func (m *Monitor) Report() Report {
	if m == nil {
		return Report{Status: Healthy}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	rep := Report{Status: Healthy, Checks: make([]Check, 0, len(m.checks))}
	for _, c := range m.checks {
		rep.Checks = append(rep.Checks, c)
		if rank(c.Status) > rank(rep.Status) {
			rep.Status = c.Status
		}
	}
	return rep
}

func rank(s Status) int {
	switch s {
	case Degraded:
		return 1
	case Unhealthy:
		return 2
	default:
		return 0
	}
}
