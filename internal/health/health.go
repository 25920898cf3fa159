// Package health keeps the latest status reported by each long-lived
// component (notification backend, action pool, scratch storage).
package health

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/toastd/toastd/internal/logging"
)

var log = logging.L("health")

// Status is ordered from best to worst.
type Status int

const (
	Healthy Status = iota
	Degraded
	Unhealthy
	// Unknown is reported before any component has checked in and ranks
	// worst, since nothing is known to work.
	Unknown
)

var statusNames = [...]string{"healthy", "degraded", "unhealthy", "unknown"}

func (s Status) valid() bool { return s >= Healthy && s <= Unknown }

func (s Status) String() string {
	if !s.valid() {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	for i, name := range statusNames {
		if name == string(b) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown health status %q", b)
}

// Component names used across the server.
const (
	ComponentBackend = "backend"
	ComponentActions = "actions"
	ComponentStager  = "stager"
)

// Check is the latest report from one component. Since is when it entered
// its current status.
type Check struct {
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Since     time.Time `json:"since"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Report is the snapshot served on /healthz.
type Report struct {
	Status     Status  `json:"status"`
	Components []Check `json:"components"`
}

type Monitor struct {
	mu     sync.RWMutex
	checks map[string]Check
	now    func() time.Time
}

func NewMonitor() *Monitor {
	return &Monitor{checks: make(map[string]Check), now: time.Now}
}

// Update records a component's status. Out-of-range values count as
// Unhealthy. Only transitions are logged.
func (m *Monitor) Update(name string, status Status, message string) {
	if !status.valid() {
		status = Unhealthy
	}

	m.mu.Lock()
	now := m.now()
	prev, existed := m.checks[name]
	c := Check{Name: name, Status: status, Message: message, Since: now, UpdatedAt: now}
	if existed && prev.Status == status {
		c.Since = prev.Since
	}
	m.checks[name] = c
	m.mu.Unlock()

	if existed && prev.Status == status {
		return
	}
	if status == Healthy {
		log.Info("component healthy", logging.KeyComponent, name)
		return
	}
	log.Warn("component not healthy", logging.KeyComponent, name, "status", status.String(), "message", message)
}

func (m *Monitor) Get(name string) (Check, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.checks[name]
	return c, ok
}

// Report returns the worst status across components, Unknown when none has
// reported, together with every check sorted by name.
func (m *Monitor) Report() Report {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r := Report{Status: Unknown, Components: make([]Check, 0, len(m.checks))}
	if len(m.checks) > 0 {
		r.Status = Healthy
	}
	for _, c := range m.checks {
		r.Components = append(r.Components, c)
		if c.Status > r.Status {
			r.Status = c.Status
		}
	}
	sort.Slice(r.Components, func(i, j int) bool { return r.Components[i].Name < r.Components[j].Name })
	return r
}
