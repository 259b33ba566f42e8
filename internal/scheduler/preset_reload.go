package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/katsuma/jukeboxx/internal/logger"
	"github.com/katsuma/jukeboxx/internal/playlist"
	"github.com/katsuma/jukeboxx/internal/sources/presets"
	redisstore "github.com/katsuma/jukeboxx/internal/store/redis"
)

// DefaultReloadInterval applies when no positive interval is configured
const DefaultReloadInterval = time.Hour

// PresetReloader makes sure the queues listed in the presets file exist,
// at startup, periodically and on demand.
type PresetReloader struct {
	loader        *presets.Loader
	mapper        *presets.Mapper
	store         *redisstore.Store
	registry      *playlist.Registry
	logger        logger.Logger
	interval      time.Duration
	stopCh        chan struct{}
	manualTrigger chan struct{}
}

// NewPresetReloader creates a new preset reloader
func NewPresetReloader(
	presetFile string,
	store *redisstore.Store,
	registry *playlist.Registry,
	log logger.Logger,
	interval time.Duration,
	manualTrigger chan struct{},
) *PresetReloader {
	if interval <= 0 {
		interval = DefaultReloadInterval
	}
	return &PresetReloader{
		loader:        presets.NewLoader(presetFile),
		mapper:        presets.NewMapper(log),
		store:         store,
		registry:      registry,
		logger:        log,
		interval:      interval,
		stopCh:        make(chan struct{}),
		manualTrigger: manualTrigger,
	}
}

// Start begins the periodic reload process
func (pr *PresetReloader) Start(ctx context.Context) error {
	// Load immediately on start
	if err := pr.Reload(ctx); err != nil {
		return fmt.Errorf("initial reload failed: %w", err)
	}

	ticker := time.NewTicker(pr.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := pr.Reload(ctx); err != nil {
					pr.logger.Error("failed to reload presets",
						logger.Error(err))
				}
			case <-pr.manualTrigger:
				pr.logger.Info("manual reload triggered")
				if err := pr.Reload(ctx); err != nil {
					pr.logger.Error("failed to reload presets",
						logger.Error(err))
				}
			case <-pr.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop stops the reloader
func (pr *PresetReloader) Stop() {
	close(pr.stopCh)
}

// Reload applies the presets file. A queue is seeded with its tracks only
// when it has nothing pending, playing or played.
func (pr *PresetReloader) Reload(ctx context.Context) error {
	pr.logger.Info("reloading preset queues")

	file, err := pr.loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load presets: %w", err)
	}

	list, err := pr.mapper.MapQueues(file)
	if err != nil {
		return fmt.Errorf("failed to map presets: %w", err)
	}

	seeded := 0
	for _, preset := range list {
		ok, err := pr.apply(ctx, preset)
		if err != nil {
			pr.logger.Warn("failed to apply preset",
				logger.String("queue_id", preset.ID),
				logger.Error(err))
			continue
		}
		if ok {
			seeded++
		}
	}

	pr.logger.Info("preset queues applied",
		logger.Int("count", len(list)),
		logger.Int("seeded", seeded))
	return nil
}

func (pr *PresetReloader) apply(ctx context.Context, preset presets.Preset) (bool, error) {
	created, err := pr.store.EnsureQueue(ctx, preset.ID, preset.Name)
	switch {
	case errors.Is(err, redisstore.ErrUnavailable):
		// local-only: the queue lives in this process
	case err != nil:
		return false, err
	case created:
		pr.logger.Info("created preset queue",
			logger.String("queue_id", preset.ID),
			logger.String("name", preset.Name))
	}

	if len(preset.Tracks) == 0 {
		return false, nil
	}

	m, err := pr.registry.Get(preset.ID)
	if err != nil {
		return false, err
	}

	snap := m.Snapshot()
	if snap.Current != nil || len(snap.Pending) > 0 || len(snap.History) > 0 {
		return false, nil
	}

	for _, track := range preset.Tracks {
		if _, err := m.Submit(track); err != nil {
			return false, fmt.Errorf("failed to seed %q: %w", track, err)
		}
	}
	return true, nil
}
