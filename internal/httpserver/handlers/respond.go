package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/katsuma/jukeboxx/internal/domain"
	"github.com/katsuma/jukeboxx/internal/playlist"
)

const maxBodyBytes = 16 << 10

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
}

// statusFor maps domain errors onto HTTP. Store failures never reach here
// except from queue creation, which answers 502 itself.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidURL),
		errors.Is(err, domain.ErrInvalidQueueID),
		errors.Is(err, domain.ErrInvalidQueueName),
		errors.Is(err, errBadBody):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrEntryNotFound):
		return http.StatusNotFound
	case errors.Is(err, playlist.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

var errBadBody = errors.New("invalid JSON body")

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", errBadBody, err)
	}
	return nil
}
