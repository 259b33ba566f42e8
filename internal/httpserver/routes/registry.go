package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/katsuma/jukeboxx/internal/httpserver/deps"
)

type (
	Registrar  func(r chi.Router, d deps.Deps)
	Middleware = func(http.Handler) http.Handler
)

type entry struct {
	reg Registrar
	mws []Middleware
}

var registry []entry

// Register a registrar with optional per-route middlewares.
// Route files call it from init.
func Register(reg Registrar, mws ...Middleware) {
	registry = append(registry, entry{reg: reg, mws: mws})
}

// RegisterAll mounts every registered route group on r.
func RegisterAll(r chi.Router, d deps.Deps) {
	for _, e := range registry {
		if len(e.mws) == 0 {
			e.reg(r, d)
			continue
		}
		r.Group(func(sub chi.Router) {
			sub.Use(e.mws...)
			e.reg(sub, d)
		})
	}
}
