// Package health probes the service's backing dependencies on a schedule and
// keeps the latest verdict for the /healthz endpoint.
package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
}

// Probe checks one dependency. A nil error means healthy.
type Probe func(ctx context.Context) error

// Dependency is a named probe. A degraded critical dependency degrades the
// whole service; a non-critical one is only reported.
type Dependency struct {
	Name     string
	Critical bool
	Probe    Probe
}

const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// DependencyStatus is the last known state of a dependency.
type DependencyStatus struct {
	Status              string    `json:"status"`
	Critical            bool      `json:"critical"`
	ConsecutiveFailures int       `json:"consecutiveFailures,omitempty"`
	LastError           string    `json:"lastError,omitempty"`
	CheckedAt           time.Time `json:"checkedAt"`
}

// Report is the aggregate served by /healthz.
type Report struct {
	Status       string                      `json:"status"`
	Dependencies map[string]DependencyStatus `json:"dependencies"`
}

// Healthy reports whether no critical dependency is degraded.
func (r Report) Healthy() bool { return r.Status == StatusHealthy }

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(dependency string, success bool)

// Checker runs periodic dependency probes.
type Checker struct {
	deps      []Dependency
	mu        sync.RWMutex
	state     map[string]*DependencyStatus
	cfg       Config
	onMetrics MetricsRecordFunc
	logger    *zap.Logger
}

// New creates a new Checker. Every dependency starts healthy until a probe
// says otherwise.
func New(deps []Dependency, cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}

	state := make(map[string]*DependencyStatus, len(deps))
	for _, d := range deps {
		state[d.Name] = &DependencyStatus{Status: StatusHealthy, Critical: d.Critical}
	}
	return &Checker{
		deps:   deps,
		state:  state,
		cfg:    cfg,
		logger: logger,
	}
}

// SetMetricsRecord configures the metrics recording callback.
func (h *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	h.onMetrics = fn
}

// Start runs the check loop until ctx is cancelled.
func (h *Checker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.CheckAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// CheckAll probes every dependency concurrently, each under ProbeTimeout.
func (h *Checker) CheckAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, d := range h.deps {
		wg.Add(1)
		go func(dep Dependency) {
			defer wg.Done()

			pctx, cancel := context.WithTimeout(ctx, h.cfg.ProbeTimeout)
			err := dep.Probe(pctx)
			cancel()

			if h.onMetrics != nil {
				h.onMetrics(dep.Name, err == nil)
			}
			h.record(dep.Name, err, time.Now().UTC())
		}(d)
	}
	wg.Wait()
}

// record applies one probe result. A dependency turns degraded when its
// consecutive failures reach FailThreshold and recovers on the first success.
func (h *Checker) record(name string, err error, now time.Time) {
	h.mu.Lock()
	st := h.state[name]
	prev := st.Status
	st.CheckedAt = now
	if err == nil {
		st.ConsecutiveFailures = 0
		st.LastError = ""
		st.Status = StatusHealthy
	} else {
		st.ConsecutiveFailures++
		st.LastError = err.Error()
		if st.ConsecutiveFailures >= h.cfg.FailThreshold {
			st.Status = StatusDegraded
		}
	}
	next, failures := st.Status, st.ConsecutiveFailures
	h.mu.Unlock()

	switch {
	case prev == StatusDegraded && next == StatusHealthy:
		h.logger.Info("health: recovered", zap.String("dependency", name))
	case prev == StatusHealthy && next == StatusDegraded:
		h.logger.Warn("health: degraded",
			zap.String("dependency", name),
			zap.Int("fail_count", failures),
			zap.Error(err),
		)
	}
}

// Report returns a snapshot of every dependency's state.
func (h *Checker) Report() Report {
	h.mu.RLock()
	defer h.mu.RUnlock()

	r := Report{Status: StatusHealthy, Dependencies: make(map[string]DependencyStatus, len(h.state))}
	for name, st := range h.state {
		r.Dependencies[name] = *st
		if st.Critical && st.Status == StatusDegraded {
			r.Status = StatusDegraded
		}
	}
	return r
}

// Names returns the registered dependency names in sorted order.
func (h *Checker) Names() []string {
	out := make([]string, 0, len(h.deps))
	for _, d := range h.deps {
		out = append(out, d.Name)
	}
	sort.Strings(out)
	return out
}
