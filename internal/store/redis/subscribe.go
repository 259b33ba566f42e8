package redis

import (
	"context"
	"sync"

	"github.com/katsuma/jukeboxx/internal/domain"
	"github.com/katsuma/jukeboxx/internal/logger"
)

// SubscribeQueue delivers the pending list now and after every change.
func (s *Store) SubscribeQueue(ctx context.Context, queueID string, fn func([]domain.Entry)) func() {
	return subscribe(ctx, s, queueID, SlotQueue, s.ReadQueue, fn)
}

// SubscribeCurrent delivers the playing entry (nil when none) now and after
// every change.
func (s *Store) SubscribeCurrent(ctx context.Context, queueID string, fn func(*domain.Entry)) func() {
	return subscribe(ctx, s, queueID, SlotCurrent, s.ReadCurrent, fn)
}

// SubscribeHistory delivers the played list now and after every change.
func (s *Store) SubscribeHistory(ctx context.Context, queueID string, fn func([]domain.Entry)) func() {
	return subscribe(ctx, s, queueID, SlotHistory, s.ReadHistory, fn)
}

// subscribe listens on the slot channel before taking the initial snapshot
// so no change can fall between the two. fn runs once synchronously, then
// from a single goroutine per subscription.
//
// When the store is unavailable fn fires once with the zero value and the
// returned unsubscribe does nothing. Unsubscribing is idempotent.
func subscribe[T any](
	ctx context.Context,
	s *Store,
	queueID string,
	slot Slot,
	read func(context.Context, string) (T, error),
	fn func(T),
) func() {
	var zero T
	if !s.IsAvailable() {
		fn(zero)
		return func() {}
	}

	log := s.logger.With(
		logger.String("queue_id", queueID),
		logger.String("slot", string(slot)))

	ctx, cancel := context.WithCancel(ctx)
	ps := s.client.Subscribe(ctx, ChannelKey(queueID, slot))
	if _, err := ps.Receive(ctx); err != nil {
		log.Warn("subscription not confirmed, changes may be missed", logger.Error(err))
	}

	initial, err := read(ctx, queueID)
	if err != nil {
		log.Warn("initial read failed", logger.Error(err))
		initial = zero
	}
	fn(initial)

	ch := ps.Channel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() { _ = ps.Close() }()

		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				value, err := read(ctx, queueID)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					log.Warn("failed to read after change event", logger.Error(err))
					continue
				}
				fn(value)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}
