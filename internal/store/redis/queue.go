package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/katsuma/jukeboxx/internal/domain"
	"github.com/katsuma/jukeboxx/internal/logger"
)

// AddToQueue appends an entry to the pending list under a fresh push id.
func (s *Store) AddToQueue(ctx context.Context, queueID string, entry domain.Entry) error {
	if !s.IsAvailable() {
		return ErrUnavailable
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return storeErr("add_to_queue", queueID, fmt.Errorf("failed to marshal entry: %w", err))
	}

	seq, err := s.client.Incr(ctx, SeqKey(queueID)).Result()
	if err != nil {
		return storeErr("add_to_queue", queueID, err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, ItemsKey(queueID), PushID(seq), data)
	pipe.Publish(ctx, ChannelKey(queueID, SlotQueue), string(SlotQueue))
	if _, err := pipe.Exec(ctx); err != nil {
		return storeErr("add_to_queue", queueID, err)
	}
	return nil
}

// RemoveFromQueue deletes every pending record carrying entryID.
// Removing an absent entry is not an error.
func (s *Store) RemoveFromQueue(ctx context.Context, queueID, entryID string) error {
	if !s.IsAvailable() {
		return ErrUnavailable
	}

	raw, err := s.client.HGetAll(ctx, ItemsKey(queueID)).Result()
	if err != nil {
		return storeErr("remove_from_queue", queueID, err)
	}

	var fields []string
	for pushID, data := range raw {
		var entry domain.Entry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			continue
		}
		if entry.ID == entryID {
			fields = append(fields, pushID)
		}
	}
	if len(fields) == 0 {
		return nil
	}

	pipe := s.client.TxPipeline()
	pipe.HDel(ctx, ItemsKey(queueID), fields...)
	pipe.Publish(ctx, ChannelKey(queueID, SlotQueue), string(SlotQueue))
	if _, err := pipe.Exec(ctx); err != nil {
		return storeErr("remove_from_queue", queueID, err)
	}
	return nil
}

// ClearQueue drops every pending record.
func (s *Store) ClearQueue(ctx context.Context, queueID string) error {
	if !s.IsAvailable() {
		return ErrUnavailable
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, ItemsKey(queueID))
	pipe.Publish(ctx, ChannelKey(queueID, SlotQueue), string(SlotQueue))
	if _, err := pipe.Exec(ctx); err != nil {
		return storeErr("clear_queue", queueID, err)
	}
	return nil
}

// UpdateCurrentItem overwrites the playing entry. nil clears it.
func (s *Store) UpdateCurrentItem(ctx context.Context, queueID string, entry *domain.Entry) error {
	if !s.IsAvailable() {
		return ErrUnavailable
	}

	pipe := s.client.TxPipeline()
	if entry == nil {
		pipe.Del(ctx, CurrentKey(queueID))
	} else {
		data, err := json.Marshal(entry)
		if err != nil {
			return storeErr("update_current", queueID, fmt.Errorf("failed to marshal entry: %w", err))
		}
		pipe.Set(ctx, CurrentKey(queueID), data, 0)
	}
	pipe.Publish(ctx, ChannelKey(queueID, SlotCurrent), string(SlotCurrent))
	if _, err := pipe.Exec(ctx); err != nil {
		return storeErr("update_current", queueID, err)
	}
	return nil
}

// AddToHistory writes a played entry keyed by its id, so writing the same
// entry again replaces it.
func (s *Store) AddToHistory(ctx context.Context, queueID string, entry domain.Entry) error {
	if !s.IsAvailable() {
		return ErrUnavailable
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return storeErr("add_to_history", queueID, fmt.Errorf("failed to marshal entry: %w", err))
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, HistoryKey(queueID), entry.ID, data)
	pipe.Publish(ctx, ChannelKey(queueID, SlotHistory), string(SlotHistory))
	if _, err := pipe.Exec(ctx); err != nil {
		return storeErr("add_to_history", queueID, err)
	}
	return nil
}

// RemoveFromHistory deletes a played entry. Absent ids are ignored.
func (s *Store) RemoveFromHistory(ctx context.Context, queueID, entryID string) error {
	if !s.IsAvailable() {
		return ErrUnavailable
	}

	pipe := s.client.TxPipeline()
	pipe.HDel(ctx, HistoryKey(queueID), entryID)
	pipe.Publish(ctx, ChannelKey(queueID, SlotHistory), string(SlotHistory))
	if _, err := pipe.Exec(ctx); err != nil {
		return storeErr("remove_from_history", queueID, err)
	}
	return nil
}

// ReadQueue returns pending entries in insertion order.
func (s *Store) ReadQueue(ctx context.Context, queueID string) ([]domain.Entry, error) {
	if !s.IsAvailable() {
		return nil, ErrUnavailable
	}

	raw, err := s.client.HGetAll(ctx, ItemsKey(queueID)).Result()
	if err != nil {
		return nil, storeErr("read_queue", queueID, err)
	}

	pushIDs := make([]string, 0, len(raw))
	for pushID := range raw {
		pushIDs = append(pushIDs, pushID)
	}
	sort.Strings(pushIDs)

	entries := make([]domain.Entry, 0, len(raw))
	for _, pushID := range pushIDs {
		entry, ok := s.decode(queueID, raw[pushID])
		if !ok {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ReadCurrent returns the playing entry, or nil.
func (s *Store) ReadCurrent(ctx context.Context, queueID string) (*domain.Entry, error) {
	if !s.IsAvailable() {
		return nil, ErrUnavailable
	}

	data, err := s.client.Get(ctx, CurrentKey(queueID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, storeErr("read_current", queueID, err)
	}

	entry, ok := s.decode(queueID, data)
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

// ReadHistory returns played entries, most recently played first.
func (s *Store) ReadHistory(ctx context.Context, queueID string) ([]domain.Entry, error) {
	if !s.IsAvailable() {
		return nil, ErrUnavailable
	}

	raw, err := s.client.HGetAll(ctx, HistoryKey(queueID)).Result()
	if err != nil {
		return nil, storeErr("read_history", queueID, err)
	}

	entries := make([]domain.Entry, 0, len(raw))
	for _, data := range raw {
		entry, ok := s.decode(queueID, data)
		if !ok {
			continue
		}
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].AddedAt != entries[j].AddedAt {
			return entries[i].AddedAt > entries[j].AddedAt
		}
		return entries[i].ID < entries[j].ID
	})
	return entries, nil
}

func (s *Store) decode(queueID, data string) (domain.Entry, bool) {
	var entry domain.Entry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		s.logger.Warn("skipping malformed entry",
			logger.String("queue_id", queueID),
			logger.Error(err))
		return domain.Entry{}, false
	}
	return entry, true
}
