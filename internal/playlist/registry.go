package playlist

import (
	"context"
	"sync"
	"time"

	"github.com/katsuma/jukeboxx/internal/domain"
	"github.com/katsuma/jukeboxx/internal/logger"
)

// Registry hands out one started Machine per queue id.
type Registry struct {
	ctx     context.Context
	store   Store
	fetcher MetadataFetcher
	logger  logger.Logger
	opts    []Option
	now     func() time.Time

	mu       sync.Mutex
	machines map[string]*registered
	closed   bool
}

type registered struct {
	machine  *Machine
	ready    chan struct{}
	lastUsed time.Time
}

// NewRegistry creates an empty registry. opts are applied to every machine.
func NewRegistry(ctx context.Context, store Store, fetcher MetadataFetcher, log logger.Logger, opts ...Option) *Registry {
	return &Registry{
		ctx:      ctx,
		store:    store,
		fetcher:  fetcher,
		logger:   log,
		opts:     opts,
		now:      time.Now,
		machines: make(map[string]*registered),
	}
}

// Get returns the machine for queueID, creating and starting it on first use.
func (r *Registry) Get(queueID string) (*Machine, error) {
	if !domain.IsValidQueueID(queueID) {
		return nil, domain.ErrInvalidQueueID
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	if reg, ok := r.machines[queueID]; ok {
		reg.lastUsed = r.now()
		r.mu.Unlock()
		<-reg.ready
		return reg.machine, nil
	}

	reg := &registered{
		machine:  New(r.ctx, queueID, r.store, r.fetcher, r.logger, r.opts...),
		ready:    make(chan struct{}),
		lastUsed: r.now(),
	}
	r.machines[queueID] = reg
	r.mu.Unlock()

	reg.machine.Start()
	close(reg.ready)

	r.logger.Info("queue activated", logger.String("queue_id", queueID))
	return reg.machine, nil
}

// Touch marks a queue as used now, if it is active.
func (r *Registry) Touch(queueID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reg, ok := r.machines[queueID]; ok {
		reg.lastUsed = r.now()
	}
}

// Active returns the number of live machines.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.machines)
}

// Reap closes machines that have no viewers and were not used for idle.
// It returns how many were closed.
func (r *Registry) Reap(idle time.Duration) int {
	cutoff := r.now().Add(-idle)

	r.mu.Lock()
	var victims []*registered
	for id, reg := range r.machines {
		select {
		case <-reg.ready:
		default:
			continue
		}
		if reg.lastUsed.After(cutoff) || reg.machine.Viewers() > 0 {
			continue
		}
		delete(r.machines, id)
		victims = append(victims, reg)
	}
	r.mu.Unlock()

	for _, reg := range victims {
		reg.machine.Close()
		r.logger.Info("queue deactivated",
			logger.String("queue_id", reg.machine.QueueID()),
			logger.Duration("idle_for", r.now().Sub(reg.lastUsed)))
	}
	return len(victims)
}

// CloseAll closes every machine and refuses new ones.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	r.closed = true
	all := make([]*registered, 0, len(r.machines))
	for _, reg := range r.machines {
		all = append(all, reg)
	}
	r.machines = make(map[string]*registered)
	r.mu.Unlock()

	for _, reg := range all {
		<-reg.ready
		reg.machine.Close()
	}
}
