package handlers

import (
	"net/http"

	"github.com/katsuma/jukeboxx/internal/httpserver/deps"
	"github.com/katsuma/jukeboxx/internal/logger"
)

// Reload triggers a manual reload of the preset queues
func Reload(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.ReloadTrigger == nil {
			w.WriteHeader(http.StatusNotFound)
			if _, err := w.Write([]byte("Presets are not configured\n")); err != nil {
				d.Logger.Debug("failed to write response", logger.Error(err))
			}
			return
		}

		select {
		case d.ReloadTrigger <- struct{}{}:
			d.Logger.Info("manual presets reload triggered via endpoint",
				logger.String("remote_ip", r.RemoteAddr))
			w.WriteHeader(http.StatusAccepted)
			if _, err := w.Write([]byte("✅ Reload triggered successfully\n")); err != nil {
				d.Logger.Debug("failed to write response", logger.Error(err))
			}
		default:
			d.Logger.Warn("presets reload already in progress",
				logger.String("remote_ip", r.RemoteAddr))
			w.WriteHeader(http.StatusTooManyRequests)
			if _, err := w.Write([]byte("⏳ Reload already in progress, please wait\n")); err != nil {
				d.Logger.Debug("failed to write response", logger.Error(err))
			}
		}
	}
}
