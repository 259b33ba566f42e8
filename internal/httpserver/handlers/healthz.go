package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/katsuma/jukeboxx/internal/httpserver/deps"
)

type healthzResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	ActiveQueues  int     `json:"active_queues"`
	Version       string  `json:"version,omitempty"`
	Commit        string  `json:"commit,omitempty"`
	BuildDate     string  `json:"build_date,omitempty"`
	GoVersion     string  `json:"go_version,omitempty"`
}

// Healthz reports liveness. It never touches the store.
func Healthz(d deps.Deps) http.HandlerFunc {
	start := d.StartTime
	now := d.TimeNow
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(healthzResponse{
			Status:        "ok",
			ActiveQueues:  d.Registry.Active(),
			Version:       d.Version,
			Commit:        d.Commit,
			BuildDate:     d.BuildDate,
			GoVersion:     d.GoVersion,
			UptimeSeconds: now().Sub(start).Seconds(),
		})
	}
}
