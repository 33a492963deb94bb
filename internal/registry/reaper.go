package registry

import (
	"context"
	"time"

	"github.com/holdover-sh/holdover/internal/logger"
)

// DefaultReapInterval is how often the reaper sweeps the registry.
const DefaultReapInterval = 5 * time.Second

// Reaper kills sessions that have sat detached longer than their TTL.
// Sessions without a TTL are never reaped, and neither are attached ones.
type Reaper struct {
	registry *Registry
	interval time.Duration
}

// NewReaper creates a reaper over the registry. An interval of zero uses
// DefaultReapInterval.
func NewReaper(registry *Registry, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	return &Reaper{registry: registry, interval: interval}
}

// Run sweeps periodically until the context is canceled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(time.Now())
		}
	}
}

// Sweep kills every idle-expired session. A failure on one session is
// logged and skipped; it never aborts the sweep.
func (r *Reaper) Sweep(now time.Time) {
	for _, s := range r.registry.snapshot() {
		if !s.IdleExpired(now) {
			continue
		}
		logger.Infof("reaping idle session %q", s.Name)
		if err := s.Kill(); err != nil {
			logger.Warnf("reap session %q: %v", s.Name, err)
		}
	}
}
