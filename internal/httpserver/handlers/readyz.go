package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/katsuma/jukeboxx/internal/httpserver/deps"
)

type readyzResponse struct {
	Ready bool   `json:"ready"`
	Mode  string `json:"mode"`
}

// Readyz is ready in local-only mode, and in shared mode while the store
// answers a ping.
func Readyz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !d.Store.IsAvailable() {
			writeJSON(w, http.StatusOK, readyzResponse{Ready: true, Mode: modeLocal})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := d.Store.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, readyzResponse{Ready: false, Mode: modeShared})
			return
		}
		writeJSON(w, http.StatusOK, readyzResponse{Ready: true, Mode: modeShared})
	}
}
