package mw

import (
	"net/http"

	"github.com/katsuma/jukeboxx/internal/logger"
	"github.com/katsuma/jukeboxx/internal/utils"
)

// AllowOnlyCIDRS allows only specific IPs/CIDRs. If the list is empty, it does NOT filter (passthrough).
// trustProxy should be true when running behind a trusted reverse proxy/tunnel (e.g., cloudflared).
func AllowOnlyCIDRS(allowed []string, trustProxy bool, log logger.Logger) func(http.Handler) http.Handler {
	m, invalid := utils.NewIPMatcher(allowed)
	for _, s := range invalid {
		log.Warn("AllowOnlyCIDRS: ignoring invalid entry", logger.String("entry", s))
	}
	if m.IsEmpty() {
		log.Debug("AllowOnlyCIDRS: empty matcher, passthrough mode")
		return func(next http.Handler) http.Handler { return next }
	}

	log.Debugf("AllowOnlyCIDRS: initialized with %d rules, trustProxy=%v", len(allowed)-len(invalid), trustProxy)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := utils.ClientIP(r, trustProxy)
			if !m.Allow(ip) {
				log.Debugf("AllowOnlyCIDRS: IP %s REJECTED (RemoteAddr=%s)", ip, r.RemoteAddr)
				w.WriteHeader(http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
