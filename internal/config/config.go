package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenPort      string        // ex: ":8080"
	ShutdownTimeout time.Duration // ex: 5s

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	// Redis (empty RedisAddr => local-only mode, nothing is shared between instances)
	RedisAddr           string
	RedisUser           string
	RedisPassword       string
	RedisDB             int
	RedisDT             time.Duration // dial timeout
	RedisRT             time.Duration // read timeout
	RedisWT             time.Duration // write timeout
	RedisMaxWait        time.Duration // max wait between connect retries
	RedisPingTimeout    time.Duration // timeout for each ping attempt
	RedisPoolSize       int
	RedisConnectTimeout time.Duration // total time to retry connecting at startup
	RedisRetryInterval  time.Duration // initial wait between retries, doubles up to RedisMaxWait
	RedisWarnThreshold  int           // warn (instead of error) for this many attempts

	// Video metadata
	YouTubeAPIKey    string        // YouTube Data API v3 key, empty => placeholder titles only
	YouTubeEndpoint  string        // optional API base URL override
	MetadataTimeout  time.Duration // per-lookup timeout
	MetadataRPS      float64       // max API lookups per second
	MetadataCacheTTL time.Duration // how long resolved titles stay cached in redis

	// Preset queues
	PresetFile     string        // optional yaml file of queues to ensure at startup
	ReloadInterval time.Duration // how often the preset file is re-applied

	// Queue lifecycle
	ReapInterval time.Duration // how often idle queues are checked
	IdleTimeout  time.Duration // queues without viewers are released after this

	// Access
	AllowedCIDRS   []string // optional, restrict /infra and /reload to these IPs/CIDRs
	TrustProxy     bool     // true => trust X-Forwarded-For headers
	SubmitBurst    int      // submissions allowed in a burst per client IP
	SubmitPerMin   int      // sustained submissions per minute per client IP
	AllowedOrigins []string // websocket origins, empty => same host only
}

func Load() *Config {
	cfg := &Config{
		// Server settings
		ListenPort:      getenv("JUKEBOX_LISTEN_PORT", ":8080"),
		ShutdownTimeout: mustDuration("JUKEBOX_SHUTDOWN_TIMEOUT", 5*time.Second),

		// Logging
		LogLevel:  getenv("JUKEBOX_LOG_LEVEL", "info"),
		PrettyLog: mustBool("JUKEBOX_PRETTY_LOG", true),

		// Redis settings
		RedisAddr:           getenv("JUKEBOX_REDIS_ADDR", ""),
		RedisUser:           getenv("JUKEBOX_REDIS_USERNAME", ""),
		RedisPassword:       getenv("JUKEBOX_REDIS_PASSWORD", ""),
		RedisDB:             getenvInt("JUKEBOX_REDIS_DB", 0),
		RedisDT:             mustDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisRT:             mustDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWT:             mustDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisMaxWait:        mustDuration("REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:    mustDuration("REDIS_PING_TIMEOUT", 5*time.Second),
		RedisPoolSize:       getenvInt("REDIS_POOL_SIZE", 10),
		RedisConnectTimeout: mustDuration("REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:  mustDuration("REDIS_RETRY_INTERVAL", 2*time.Second),
		RedisWarnThreshold:  getenvInt("REDIS_WARN_THRESHOLD", 3),

		// Metadata
		YouTubeAPIKey:    getenv("JUKEBOX_YOUTUBE_API_KEY", ""),
		YouTubeEndpoint:  getenv("JUKEBOX_YOUTUBE_ENDPOINT", ""),
		MetadataTimeout:  mustDuration("JUKEBOX_METADATA_TIMEOUT", 5*time.Second),
		MetadataRPS:      getenvFloat("JUKEBOX_METADATA_RPS", 5),
		MetadataCacheTTL: mustDuration("JUKEBOX_METADATA_CACHE_TTL", 24*time.Hour),

		// Presets
		PresetFile:     getenv("JUKEBOX_PRESET_FILE", ""),
		ReloadInterval: mustDuration("JUKEBOX_RELOAD_INTERVAL", time.Hour),

		// Lifecycle
		ReapInterval: mustDuration("JUKEBOX_REAP_INTERVAL", 5*time.Minute),
		IdleTimeout:  mustDuration("JUKEBOX_IDLE_TIMEOUT", 30*time.Minute),

		// Access
		AllowedCIDRS:   splitAndTrim(getenv("JUKEBOX_ALLOWED_CIDRS", "")),
		TrustProxy:     mustBool("JUKEBOX_TRUST_PROXY", false),
		SubmitBurst:    getenvInt("JUKEBOX_SUBMIT_BURST", 5),
		SubmitPerMin:   getenvInt("JUKEBOX_SUBMIT_PER_MIN", 30),
		AllowedOrigins: splitAndTrim(getenv("JUKEBOX_ALLOWED_ORIGINS", "")),
	}

	// Log config only in debug mode with redacted secrets
	if cfg.LogLevel == "debug" {
		cfgCopy := *cfg
		if cfg.RedisPassword != "" {
			cfgCopy.RedisPassword = "***REDACTED***"
		}
		if cfg.YouTubeAPIKey != "" {
			cfgCopy.YouTubeAPIKey = "***REDACTED***"
		}
		log.Printf("[DEBUG] cfg: %+v\n", cfgCopy)
	}

	return cfg
}

// RedisEnabled reports whether a shared store was configured at all.
func (c *Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			return f
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
