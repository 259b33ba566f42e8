package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/katsuma/jukeboxx/internal/config"
	"github.com/katsuma/jukeboxx/internal/httpserver"
	"github.com/katsuma/jukeboxx/internal/httpserver/deps"
	"github.com/katsuma/jukeboxx/internal/httpserver/mw"
	"github.com/katsuma/jukeboxx/internal/logger"
	"github.com/katsuma/jukeboxx/internal/metadata"
	"github.com/katsuma/jukeboxx/internal/playlist"
	"github.com/katsuma/jukeboxx/internal/redis"
	"github.com/katsuma/jukeboxx/internal/scheduler"
	redisstore "github.com/katsuma/jukeboxx/internal/store/redis"
	"github.com/katsuma/jukeboxx/internal/utils"
	"github.com/katsuma/jukeboxx/internal/version"
)

type App struct {
	cfg         *config.Config
	logger      logger.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	server      *httpserver.Server
	redisClient *goredis.Client
	registry    *playlist.Registry
	reloader    *scheduler.PresetReloader
	reaper      *scheduler.Reaper
}

func New() *App {
	cfg := config.Load()

	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)

	// Playlists and their background work live until shutdown, not per request.
	ctx, cancel := context.WithCancel(context.Background())

	redisClient := connectRedis(ctx, cfg, loggerClient)
	store := redisstore.NewStore(redisClient, loggerClient)

	fetcher, err := metadata.New(ctx, metadata.Options{
		APIKey:   cfg.YouTubeAPIKey,
		Endpoint: cfg.YouTubeEndpoint,
		Timeout:  cfg.MetadataTimeout,
		RPS:      cfg.MetadataRPS,
		CacheTTL: cfg.MetadataCacheTTL,
	}, cacheFor(store), loggerClient)
	if err != nil {
		loggerClient.Errorf("Failed to initialize metadata lookups: %v", err)
		os.Exit(1)
	}

	registry := playlist.NewRegistry(ctx, store, fetcher, loggerClient)

	// Initialize preset reloader (if a presets file is configured)
	var reloader *scheduler.PresetReloader
	var reloadTrigger chan struct{}
	if cfg.PresetFile != "" {
		loggerClient.Info("preset file configured, initializing preset reloader",
			logger.String("file", cfg.PresetFile))
		reloadTrigger = make(chan struct{}, 1)
		reloader = scheduler.NewPresetReloader(
			cfg.PresetFile,
			store,
			registry,
			loggerClient,
			cfg.ReloadInterval,
			reloadTrigger,
		)
	} else {
		loggerClient.Info("preset file not configured, no queues are preloaded")
	}

	reaper := scheduler.NewReaper(
		registry,
		loggerClient,
		cfg.ReapInterval,
		cfg.IdleTimeout,
	)

	d := deps.Deps{
		Logger:         loggerClient,
		StartTime:      time.Now(),
		Version:        version.Version,
		Commit:         version.Commit,
		BuildDate:      version.BuildDate,
		GoVersion:      version.GoVersion,
		TimeNow:        time.Now,
		AllowedCIDRS:   cfg.AllowedCIDRS,
		TrustProxy:     cfg.TrustProxy,
		AllowedOrigins: cfg.AllowedOrigins,
		Store:          store,
		Registry:       registry,
		SubmitLimiter: mw.NewRateLimiter(mw.RateLimitConfig{
			Burst:             cfg.SubmitBurst,
			RefillPerIPPerMin: cfg.SubmitPerMin,
			MaxEntries:        10_000,
			TrustProxy:        cfg.TrustProxy,
		}),
		PresetFile:    cfg.PresetFile,
		ReloadTrigger: reloadTrigger,
	}

	server := httpserver.New(cfg, loggerClient, d)

	return &App{
		cfg:         cfg,
		logger:      loggerClient,
		ctx:         ctx,
		cancel:      cancel,
		server:      server,
		redisClient: redisClient,
		registry:    registry,
		reloader:    reloader,
		reaper:      reaper,
	}
}

// connectRedis returns nil when no address is configured or the server never
// answered: queues then run local-only for the lifetime of the process.
func connectRedis(ctx context.Context, cfg *config.Config, log logger.Logger) *goredis.Client {
	if !cfg.RedisEnabled() {
		log.Warn("no redis address configured, queues are local-only and not shared between instances")
		return nil
	}

	log.Infof("Connecting to Redis at %s", cfg.RedisAddr)
	client, err := redis.Connect(ctx, redis.ConnectOptions{
		Addr:           cfg.RedisAddr,
		User:           cfg.RedisUser,
		Password:       cfg.RedisPassword,
		RedisDB:        cfg.RedisDB,
		DialTimeout:    cfg.RedisDT,
		ReadTimeout:    cfg.RedisRT,
		WriteTimeout:   cfg.RedisWT,
		PoolSize:       cfg.RedisPoolSize,
		ConnectTimeout: cfg.RedisConnectTimeout,
		RetryInterval:  cfg.RedisRetryInterval,
		MaxWait:        cfg.RedisMaxWait,
		PingTimeout:    cfg.RedisPingTimeout,
		WarnThreshold:  cfg.RedisWarnThreshold,
	}, log)
	if err != nil {
		log.Error("redis unavailable, queues are local-only for this process",
			logger.Error(err))
		return nil
	}

	log.Info("Redis initialized successfully")
	return client
}

// cacheFor keeps a nil interface when there is no store to cache in.
func cacheFor(store *redisstore.Store) metadata.Cache {
	if !store.IsAvailable() {
		return nil
	}
	return store
}

func (a *App) Run() error {
	a.logger.Infof("🚀 Starting %s on %s", version.String(), a.cfg.ListenPort)

	ctx, stop := signal.NotifyContext(a.ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start preset reloader (if enabled)
	if a.reloader != nil {
		if err := a.reloader.Start(ctx); err != nil {
			return fmt.Errorf("failed to start preset reloader: %w", err)
		}
		a.logger.Info("preset reloader started",
			logger.Duration("interval", a.cfg.ReloadInterval))
	}

	a.reaper.Start(ctx)
	a.logger.Info("idle queue reaper started",
		logger.Duration("interval", a.cfg.ReapInterval),
		logger.Duration("idle_timeout", a.cfg.IdleTimeout))

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case runErr = <-errCh:
	}

	if a.reloader != nil {
		a.reloader.Stop()
	}
	a.reaper.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.server.Stop(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("failed to stop server: %w", err)
	}

	// Closing playlists flushes queued mirror writes and ends open websockets.
	a.registry.CloseAll()
	a.cancel()

	if a.redisClient != nil {
		utils.CloseLogged(a.redisClient, a.logger, "redis")
		a.logger.Info("✅ Redis closed")
	}

	_ = a.logger.Sync()
	if runErr == nil {
		a.logger.Info("✅ Jukebox stopped cleanly")
	}
	return runErr
}
