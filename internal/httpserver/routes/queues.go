package routes

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/katsuma/jukeboxx/internal/domain"
	"github.com/katsuma/jukeboxx/internal/httpserver/deps"
	"github.com/katsuma/jukeboxx/internal/httpserver/handlers"
)

func init() { Register(registerQueues) }

func registerQueues(r chi.Router, d deps.Deps) {
	r.Route("/api/queues", func(r chi.Router) {
		// The websocket outlives any request timeout.
		r.Get("/{id}/ws", handlers.Stream(d))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(5 * time.Second))

			r.Post("/", handlers.CreateQueue(d))
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", handlers.GetQueue(d))
				r.Post("/advance", handlers.Advance(d))
				r.Post("/finished", handlers.Finished(d))
				r.Put("/current/title", handlers.CurrentTitle(d))

				r.Route("/queue", func(r chi.Router) {
					if d.SubmitLimiter != nil {
						r.With(d.SubmitLimiter.Middleware()).Post("/", handlers.Submit(d))
					} else {
						r.Post("/", handlers.Submit(d))
					}
					r.Delete("/", handlers.ClearQueue(d))
					r.Delete("/{entryId}", handlers.RemoveEntry(d, domain.ListPending))
				})

				r.Delete("/history/{entryId}", handlers.RemoveEntry(d, domain.ListPlayed))
				r.Post("/history/{entryId}/requeue", handlers.Requeue(d))
			})
		})
	})
}
