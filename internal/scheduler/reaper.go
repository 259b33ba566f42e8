package scheduler

import (
	"context"
	"time"

	"github.com/katsuma/jukeboxx/internal/logger"
	"github.com/katsuma/jukeboxx/internal/playlist"
)

const (
	// DefaultIdleTimeout is how long an unwatched queue stays loaded
	DefaultIdleTimeout = 30 * time.Minute
	// DefaultReapInterval is how often idle queues are looked for
	DefaultReapInterval = 5 * time.Minute
)

// Reaper releases queues nobody is watching or using.
type Reaper struct {
	registry *playlist.Registry
	logger   logger.Logger
	interval time.Duration
	idle     time.Duration
	stopCh   chan struct{}
}

// NewReaper creates a new reaper
func NewReaper(
	registry *playlist.Registry,
	log logger.Logger,
	interval time.Duration,
	idle time.Duration,
) *Reaper {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	if interval <= 0 {
		interval = DefaultReapInterval
	}

	return &Reaper{
		registry: registry,
		logger:   log,
		interval: interval,
		idle:     idle,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic reaping process
func (r *Reaper) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.Collect()
			case <-r.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the reaper
func (r *Reaper) Stop() {
	close(r.stopCh)
}

// Collect closes idle queues and returns how many were released.
func (r *Reaper) Collect() int {
	n := r.registry.Reap(r.idle)
	if n > 0 {
		r.logger.Info("released idle queues",
			logger.Int("released", n),
			logger.Int("active", r.registry.Active()))
	} else {
		r.logger.Debug("no idle queues to release")
	}
	return n
}
