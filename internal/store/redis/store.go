package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/katsuma/jukeboxx/internal/domain"
	"github.com/katsuma/jukeboxx/internal/logger"
)

// ErrUnavailable is returned by mutations when no store was configured.
// It is a standing mode, not a transient failure.
var ErrUnavailable = errors.New("remote store not available")

// StoreError is a failed remote operation on one queue.
type StoreError struct {
	Op      string
	QueueID string
	Err     error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s (queue %s): %v", e.Op, e.QueueID, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op, queueID string, err error) error {
	return &StoreError{Op: op, QueueID: queueID, Err: err}
}

// Store mirrors queue state in Redis and publishes a change event per slot
// after every mutation. A Store built without a client is permanently
// unavailable: reads come back empty and mutations return ErrUnavailable.
type Store struct {
	client *redis.Client
	logger logger.Logger
	now    func() time.Time
}

// NewStore creates a store. client may be nil.
func NewStore(client *redis.Client, log logger.Logger) *Store {
	return &Store{
		client: client,
		logger: log,
		now:    time.Now,
	}
}

// IsAvailable reports whether the store was connected at startup.
func (s *Store) IsAvailable() bool {
	return s != nil && s.client != nil
}

// Ping checks the live connection, used by /infra.
func (s *Store) Ping(ctx context.Context) error {
	if !s.IsAvailable() {
		return ErrUnavailable
	}
	return s.client.Ping(ctx).Err()
}

// CreateQueue allocates a fresh queue id and stores its metadata.
// Without a store the id is still returned so the caller can run the queue
// locally.
func (s *Store) CreateQueue(ctx context.Context, name string) (string, error) {
	queueID := domain.NewID()
	if !s.IsAvailable() {
		s.logger.Warn("remote store not available, queue will be local only",
			logger.String("queue_id", queueID))
		return queueID, nil
	}

	if err := s.writeMeta(ctx, queueID, name); err != nil {
		return "", storeErr("create_queue", queueID, err)
	}

	s.logger.Info("created queue",
		logger.String("queue_id", queueID),
		logger.String("name", name))
	return queueID, nil
}

// EnsureQueue creates metadata for a well-known id unless it already exists.
func (s *Store) EnsureQueue(ctx context.Context, queueID, name string) (bool, error) {
	if !s.IsAvailable() {
		return false, ErrUnavailable
	}

	created, err := s.client.HSetNX(ctx, MetaKey(queueID), "name", name).Result()
	if err != nil {
		return false, storeErr("ensure_queue", queueID, err)
	}
	if !created {
		return false, nil
	}
	if err := s.writeMeta(ctx, queueID, name); err != nil {
		return false, storeErr("ensure_queue", queueID, err)
	}
	return true, nil
}

func (s *Store) writeMeta(ctx context.Context, queueID, name string) error {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, MetaKey(queueID),
		"name", name,
		"createdAt", domain.Millis(s.now()))
	pipe.SAdd(ctx, AllQueuesKey(), queueID)
	pipe.Publish(ctx, ChannelKey(queueID, SlotMeta), string(SlotMeta))
	_, err := pipe.Exec(ctx)
	return err
}

// GetMetadata reads a queue's metadata. Read failures are logged and
// reported as absent: playback does not depend on it.
func (s *Store) GetMetadata(ctx context.Context, queueID string) (*domain.QueueMetadata, bool) {
	if !s.IsAvailable() {
		return nil, false
	}

	fields, err := s.client.HGetAll(ctx, MetaKey(queueID)).Result()
	if err != nil {
		s.logger.Warn("failed to read queue metadata",
			logger.String("queue_id", queueID),
			logger.Error(err))
		return nil, false
	}
	if len(fields) == 0 {
		return nil, false
	}

	meta := &domain.QueueMetadata{Name: fields["name"]}
	if raw := fields["createdAt"]; raw != "" {
		createdAt, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.logger.Warn("ignoring malformed queue createdAt",
				logger.String("queue_id", queueID),
				logger.String("value", raw))
		}
		meta.CreatedAt = createdAt
	}
	return meta, true
}

// CountQueues returns how many queues were ever created.
func (s *Store) CountQueues(ctx context.Context) (int64, error) {
	if !s.IsAvailable() {
		return 0, ErrUnavailable
	}
	return s.client.SCard(ctx, AllQueuesKey()).Result()
}
