package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/katsuma/jukeboxx/internal/domain"
)

// CacheVideoInfo stores resolved metadata for a video ref.
func (s *Store) CacheVideoInfo(ctx context.Context, videoRef string, info domain.VideoInfo, ttl time.Duration) error {
	if !s.IsAvailable() {
		return ErrUnavailable
	}

	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal video info: %w", err)
	}
	if err := s.client.Set(ctx, VideoCacheKey(videoRef), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache video info: %w", err)
	}
	return nil
}

// GetCachedVideoInfo retrieves cached metadata. ok is false on a miss.
func (s *Store) GetCachedVideoInfo(ctx context.Context, videoRef string) (domain.VideoInfo, bool, error) {
	if !s.IsAvailable() {
		return domain.VideoInfo{}, false, ErrUnavailable
	}

	data, err := s.client.Get(ctx, VideoCacheKey(videoRef)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.VideoInfo{}, false, nil // Cache miss
		}
		return domain.VideoInfo{}, false, fmt.Errorf("failed to get cached video info: %w", err)
	}

	var info domain.VideoInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return domain.VideoInfo{}, false, fmt.Errorf("failed to unmarshal video info: %w", err)
	}
	return info, true, nil
}
