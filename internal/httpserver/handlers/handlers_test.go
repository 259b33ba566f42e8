package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/katsuma/jukeboxx/internal/domain"
	"github.com/katsuma/jukeboxx/internal/playlist"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrInvalidURL, http.StatusBadRequest},
		{domain.ErrInvalidQueueID, http.StatusBadRequest},
		{domain.ErrInvalidQueueName, http.StatusBadRequest},
		{fmt.Errorf("%w: eof", errBadBody), http.StatusBadRequest},
		{domain.ErrEntryNotFound, http.StatusNotFound},
		{playlist.ErrClosed, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestOriginChecker(t *testing.T) {
	if originChecker(nil) != nil {
		t.Error("empty allow-list should defer to the same-host check")
	}

	check := originChecker([]string{"https://Jukebox.example/"})
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://jukebox.example", true},
		{"https://JUKEBOX.example", true},
		{"https://jukebox.example.evil", false},
		{"http://jukebox.example", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := check(r); got != tt.want {
			t.Errorf("origin %q allowed = %v, want %v", tt.origin, got, tt.want)
		}
	}

	wildcard := originChecker([]string{"*"})
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Origin", "https://anywhere.example")
	if !wildcard(r) {
		t.Error("wildcard should allow every origin")
	}
}
