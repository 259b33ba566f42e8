package metadata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/katsuma/jukeboxx/internal/domain"
	"github.com/katsuma/jukeboxx/internal/logger"
)

var (
	errNoAPIKey   = errors.New("no youtube api key configured")
	errNoItems    = errors.New("video not found")
	errNoSnippet  = errors.New("video has no snippet")
	errEmptyTitle = errors.New("video has an empty title")
)

// DefaultRPS is used when Options.RPS is not positive.
const DefaultRPS = 5.0

// Cache keeps resolved metadata between lookups. The redis store satisfies it.
type Cache interface {
	GetCachedVideoInfo(ctx context.Context, videoRef string) (domain.VideoInfo, bool, error)
	CacheVideoInfo(ctx context.Context, videoRef string, info domain.VideoInfo, ttl time.Duration) error
}

// Options configures the YouTube lookup.
type Options struct {
	APIKey   string        // YouTube Data API key; empty means always fall back
	Endpoint string        // Optional API base URL override, must end with "/"
	Timeout  time.Duration // Per lookup, including the rate limiter wait
	RPS      float64       // Outbound request rate, DefaultRPS when not positive
	CacheTTL time.Duration // Zero disables caching
}

// Fetcher resolves title and thumbnail for a video ref.
type Fetcher struct {
	service *youtube.Service
	limiter *rate.Limiter
	cache   Cache
	opts    Options
	logger  logger.Logger
}

// New builds a fetcher. cache may be nil.
func New(ctx context.Context, opts Options, cache Cache, log logger.Logger) (*Fetcher, error) {
	if opts.RPS <= 0 {
		opts.RPS = DefaultRPS
	}
	f := &Fetcher{
		limiter: rate.NewLimiter(rate.Limit(opts.RPS), 1),
		cache:   cache,
		opts:    opts,
		logger:  log,
	}

	if opts.APIKey == "" {
		log.Warn("no youtube api key configured, titles will use the fallback")
		return f, nil
	}

	clientOpts := []option.ClientOption{option.WithAPIKey(opts.APIKey)}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint))
	}

	service, err := youtube.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create youtube service: %w", err)
	}
	f.service = service
	return f, nil
}

// Fetch never fails: any problem yields the fallback for videoRef.
// Exactly one API request is made on a cache miss.
func (f *Fetcher) Fetch(ctx context.Context, videoRef string) domain.VideoInfo {
	if info, ok := f.cached(ctx, videoRef); ok {
		return info
	}

	info, err := f.lookup(ctx, videoRef)
	if err != nil {
		f.logger.Warn("metadata lookup failed, using fallback",
			logger.String("video_ref", videoRef),
			logger.Error(err))
		return domain.FallbackInfo(videoRef)
	}

	f.store(ctx, videoRef, info)
	return info
}

func (f *Fetcher) lookup(ctx context.Context, videoRef string) (domain.VideoInfo, error) {
	if f.service == nil {
		return domain.VideoInfo{}, errNoAPIKey
	}

	if f.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.opts.Timeout)
		defer cancel()
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return domain.VideoInfo{}, fmt.Errorf("rate limiter: %w", err)
	}

	resp, err := f.service.Videos.List([]string{"snippet"}).Id(videoRef).Context(ctx).Do()
	if err != nil {
		return domain.VideoInfo{}, err
	}
	if len(resp.Items) == 0 {
		return domain.VideoInfo{}, errNoItems
	}

	snippet := resp.Items[0].Snippet
	if snippet == nil {
		return domain.VideoInfo{}, errNoSnippet
	}
	if strings.TrimSpace(snippet.Title) == "" {
		return domain.VideoInfo{}, errEmptyTitle
	}

	thumbnail := domain.DefaultThumbnailURL(videoRef)
	if snippet.Thumbnails != nil && snippet.Thumbnails.Default != nil && snippet.Thumbnails.Default.Url != "" {
		thumbnail = snippet.Thumbnails.Default.Url
	}

	return domain.VideoInfo{Title: snippet.Title, ThumbnailURL: thumbnail}, nil
}

func (f *Fetcher) cached(ctx context.Context, videoRef string) (domain.VideoInfo, bool) {
	if f.cache == nil || f.opts.CacheTTL <= 0 {
		return domain.VideoInfo{}, false
	}
	info, ok, err := f.cache.GetCachedVideoInfo(ctx, videoRef)
	if err != nil {
		f.logger.Debug("metadata cache read skipped",
			logger.String("video_ref", videoRef),
			logger.Error(err))
		return domain.VideoInfo{}, false
	}
	return info, ok
}

func (f *Fetcher) store(ctx context.Context, videoRef string, info domain.VideoInfo) {
	if f.cache == nil || f.opts.CacheTTL <= 0 {
		return
	}
	if err := f.cache.CacheVideoInfo(ctx, videoRef, info, f.opts.CacheTTL); err != nil {
		f.logger.Debug("metadata cache write skipped",
			logger.String("video_ref", videoRef),
			logger.Error(err))
	}
}
