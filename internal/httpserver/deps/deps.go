package deps

import (
	"time"

	"github.com/katsuma/jukeboxx/internal/httpserver/mw"
	"github.com/katsuma/jukeboxx/internal/logger"
	"github.com/katsuma/jukeboxx/internal/playlist"
	redisstore "github.com/katsuma/jukeboxx/internal/store/redis"
)

type Deps struct {
	Logger         logger.Logger
	StartTime      time.Time
	Version        string
	Commit         string
	BuildDate      string
	GoVersion      string
	TimeNow        func() time.Time   // for testing, defaults to time.Now
	AllowedCIDRS   []string           // IPs allowed to access infra/reload endpoints
	TrustProxy     bool               // true if running behind a trusted reverse proxy (e.g., cloudflared)
	AllowedOrigins []string           // websocket origins, empty means same host only
	Store          *redisstore.Store  // shared queue store, possibly unavailable
	Registry       *playlist.Registry // one running playlist per active queue
	SubmitLimiter  *mw.RateLimiter    // per-IP submit throttle, shared by REST and websocket
	PresetFile     string             // path to the preset queues file, empty if disabled
	ReloadTrigger  chan struct{}      // channel to trigger a manual preset reload (nil if presets disabled)
}
