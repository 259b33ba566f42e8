package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/katsuma/jukeboxx/internal/httpserver/deps"
)

const (
	modeShared = "shared"
	modeLocal  = "local-only"
)

type componentStatus struct {
	OK          bool   `json:"ok"`
	Mode        string `json:"mode,omitempty"`
	Impact      string `json:"impact,omitempty"`
	Error       string `json:"error,omitempty"`
	QueuesKnown *int64 `json:"queues_known,omitempty"`
	Active      *int   `json:"active,omitempty"`
	File        string `json:"file,omitempty"`
}

type infraResponse struct {
	SyncMode   string                     `json:"sync_mode"`
	Components map[string]componentStatus `json:"components"`
}

// Infra describes how the process is wired: whether queues are shared
// through redis, how many are loaded, and which presets file is used.
func Infra(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		active := d.Registry.Active()

		components := map[string]componentStatus{
			"redis": checkRedis(r.Context(), d),
			"playlists": {
				OK:     true,
				Active: &active,
			},
			"presets": {
				OK:   true,
				Mode: presetMode(d),
				File: d.PresetFile,
			},
		}

		writeJSON(w, http.StatusOK, infraResponse{
			SyncMode:   determineSyncMode(components),
			Components: components,
		})
	}
}

func determineSyncMode(components map[string]componentStatus) string {
	redis := components["redis"]
	switch {
	case redis.Mode == modeLocal:
		return modeLocal
	case !redis.OK:
		return "degraded" // configured but not answering: local state keeps serving
	default:
		return modeShared
	}
}

func presetMode(d deps.Deps) string {
	if d.PresetFile == "" {
		return "disabled"
	}
	return "enabled"
}

func checkRedis(parent context.Context, d deps.Deps) componentStatus {
	if !d.Store.IsAvailable() {
		return componentStatus{
			OK:     true,
			Mode:   modeLocal,
			Impact: "queues-not-shared-between-instances",
		}
	}

	ctx, cancel := context.WithTimeout(parent, 2*time.Second)
	defer cancel()

	if err := d.Store.Ping(ctx); err != nil {
		return componentStatus{
			OK:     false,
			Mode:   modeShared,
			Impact: "remote-writes-failing",
			Error:  err.Error(),
		}
	}

	status := componentStatus{OK: true, Mode: modeShared}
	if n, err := d.Store.CountQueues(ctx); err == nil {
		status.QueuesKnown = &n
	}
	return status
}
