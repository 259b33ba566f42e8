package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/katsuma/jukeboxx/internal/domain"
	"github.com/katsuma/jukeboxx/internal/httpserver/deps"
	"github.com/katsuma/jukeboxx/internal/logger"
	"github.com/katsuma/jukeboxx/internal/playlist"
)

type createQueueRequest struct {
	Name string `json:"name"`
}

type createQueueResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

type submitRequest struct {
	URL string `json:"url"`
}

type finishedRequest struct {
	EntryID string `json:"entryId"`
}

type titleRequest struct {
	Title string `json:"title"`
}

// CreateQueue allocates a new shared queue.
func CreateQueue(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createQueueRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}

		name := strings.TrimSpace(req.Name)
		if name == "" {
			writeError(w, domain.ErrInvalidQueueName)
			return
		}

		id, err := d.Store.CreateQueue(r.Context(), name)
		if err != nil {
			d.Logger.Error("failed to create queue", logger.Error(err))
			writeJSON(w, http.StatusBadGateway, errorResponse{Error: "failed to create queue"})
			return
		}

		writeJSON(w, http.StatusCreated, createQueueResponse{
			ID:   id,
			Name: name,
			Path: "/" + id,
		})
	}
}

// GetQueue returns the current snapshot, activating the queue if needed.
func GetQueue(d deps.Deps) http.HandlerFunc {
	return withMachine(d, func(w http.ResponseWriter, r *http.Request, m *playlist.Machine) {
		writeJSON(w, http.StatusOK, m.Snapshot())
	})
}

// Submit appends a video to the pending queue.
func Submit(d deps.Deps) http.HandlerFunc {
	return withMachine(d, func(w http.ResponseWriter, r *http.Request, m *playlist.Machine) {
		var req submitRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}

		entry, err := m.Submit(req.URL)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, entry)
	})
}

// ClearQueue drops every pending entry.
func ClearQueue(d deps.Deps) http.HandlerFunc {
	return withMachine(d, func(w http.ResponseWriter, r *http.Request, m *playlist.Machine) {
		m.ClearQueue()
		w.WriteHeader(http.StatusNoContent)
	})
}

// RemoveEntry deletes an entry from the given list.
func RemoveEntry(d deps.Deps, kind domain.ListKind) http.HandlerFunc {
	return withMachine(d, func(w http.ResponseWriter, r *http.Request, m *playlist.Machine) {
		if err := m.Remove(chi.URLParam(r, "entryId"), kind); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// Requeue submits a played entry again as a new entry.
func Requeue(d deps.Deps) http.HandlerFunc {
	return withMachine(d, func(w http.ResponseWriter, r *http.Request, m *playlist.Machine) {
		entry, err := m.Requeue(chi.URLParam(r, "entryId"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, entry)
	})
}

// Advance skips to the next entry.
func Advance(d deps.Deps) http.HandlerFunc {
	return withMachine(d, func(w http.ResponseWriter, r *http.Request, m *playlist.Machine) {
		m.Advance()
		writeJSON(w, http.StatusOK, m.Snapshot())
	})
}

// Finished reports that a player reached the end of an entry.
func Finished(d deps.Deps) http.HandlerFunc {
	return withMachine(d, func(w http.ResponseWriter, r *http.Request, m *playlist.Machine) {
		var req finishedRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		m.Finished(req.EntryID)
		writeJSON(w, http.StatusOK, m.Snapshot())
	})
}

// CurrentTitle records the title the player observed for the current entry.
func CurrentTitle(d deps.Deps) http.HandlerFunc {
	return withMachine(d, func(w http.ResponseWriter, r *http.Request, m *playlist.Machine) {
		var req titleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		m.UpdateCurrentTitle(req.Title)
		writeJSON(w, http.StatusOK, m.Snapshot())
	})
}

type machineHandler func(w http.ResponseWriter, r *http.Request, m *playlist.Machine)

func withMachine(d deps.Deps, h machineHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, err := d.Registry.Get(chi.URLParam(r, "id"))
		if err != nil {
			if !errors.Is(err, domain.ErrInvalidQueueID) {
				d.Logger.Warn("queue unavailable",
					logger.String("queue_id", chi.URLParam(r, "id")),
					logger.Error(err))
			}
			writeError(w, err)
			return
		}
		h(w, r, m)
	}
}
