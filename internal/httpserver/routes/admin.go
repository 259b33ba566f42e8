package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/katsuma/jukeboxx/internal/httpserver/deps"
	"github.com/katsuma/jukeboxx/internal/httpserver/handlers"
	"github.com/katsuma/jukeboxx/internal/httpserver/mw"
)

func init() { Register(registerAdmin) }

func registerAdmin(r chi.Router, d deps.Deps) {
	r.Group(func(r chi.Router) {
		r.Use(mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger))
		r.Get("/infra", handlers.Infra(d))
		r.Post("/reload", handlers.Reload(d))
	})
}
