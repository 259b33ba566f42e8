package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// WatchURLBase is the canonical playable URL prefix for a video ref.
	WatchURLBase = "https://www.youtube.com/watch?v="
	// ThumbnailURLBase is the default thumbnail host for a video ref.
	ThumbnailURLBase = "https://img.youtube.com/vi/"

	// RecentHistorySize is how many played entries count as "recent".
	RecentHistorySize = 3
)

// Entry is one queued, playing or played video.
//
// The JSON shape is what gets mirrored into the shared store and pushed to
// viewers, so field names must stay stable.
type Entry struct {
	// ─────────────────────────────
	// Identity (immutable)
	// ─────────────────────────────

	// ID is generated locally at creation and never changes.
	// It is the mirror key in the store and the removal key everywhere.
	ID string `json:"id"`

	// SourceURL is the string the user submitted.
	SourceURL string `json:"url"`

	// VideoRef is the canonical YouTube video id extracted from SourceURL.
	VideoRef string `json:"videoId"`

	// ─────────────────────────────
	// Display
	// ─────────────────────────────

	// Title starts as a loading placeholder and is replaced once.
	Title string `json:"title"`

	// ThumbnailURL starts as the default thumbnail for VideoRef.
	ThumbnailURL string `json:"thumbnail"`

	// AddedAt is epoch milliseconds. Refreshed when the entry is played.
	AddedAt int64 `json:"addedAt"`
}

// QueueMetadata describes one shared queue.
type QueueMetadata struct {
	Name      string `json:"name"`
	CreatedAt int64  `json:"createdAt"`
}

// VideoInfo is what the metadata lookup resolves for a video ref.
type VideoInfo struct {
	Title        string `json:"title"`
	ThumbnailURL string `json:"thumbnail"`
}

// ListKind names the collection an entry is removed from.
type ListKind string

const (
	ListPending ListKind = "queue"
	ListPlayed  ListKind = "history"
)

// ParseListKind accepts the wire names plus a couple of friendly aliases.
func ParseListKind(s string) (ListKind, bool) {
	switch s {
	case "queue", "pending":
		return ListPending, true
	case "history", "played":
		return ListPlayed, true
	default:
		return "", false
	}
}

// NewEntry builds a provisional entry for an already-resolved video ref.
func NewEntry(id, sourceURL, videoRef string, now time.Time) Entry {
	return Entry{
		ID:           id,
		SourceURL:    sourceURL,
		VideoRef:     videoRef,
		Title:        LoadingTitle(videoRef),
		ThumbnailURL: DefaultThumbnailURL(videoRef),
		AddedAt:      Millis(now),
	}
}

// HasPlaceholderTitle reports whether the title was never resolved.
func (e Entry) HasPlaceholderTitle() bool {
	return e.Title == LoadingTitle(e.VideoRef)
}

// WatchURL returns the canonical playable URL.
func (e Entry) WatchURL() string {
	return WatchURL(e.VideoRef)
}

// LoadingTitle is the placeholder shown until metadata arrives.
func LoadingTitle(videoRef string) string {
	return fmt.Sprintf("Loading %s...", videoRef)
}

// FallbackTitle is used when a lookup fails.
func FallbackTitle(videoRef string) string {
	return "Video " + videoRef
}

// DefaultThumbnailURL is the static thumbnail for a video ref.
func DefaultThumbnailURL(videoRef string) string {
	return ThumbnailURLBase + videoRef + "/default.jpg"
}

// WatchURL returns the canonical playable URL for a video ref.
func WatchURL(videoRef string) string {
	return WatchURLBase + videoRef
}

// FallbackInfo is the deterministic metadata used when a lookup fails.
func FallbackInfo(videoRef string) VideoInfo {
	return VideoInfo{
		Title:        FallbackTitle(videoRef),
		ThumbnailURL: DefaultThumbnailURL(videoRef),
	}
}

// Millis converts t to epoch milliseconds.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// NewID returns a fresh opaque identifier for entries and queues.
func NewID() string {
	return uuid.NewString()
}

// UnnamedQueue is shown for queues whose metadata is missing.
const UnnamedQueue = "Unnamed Queue"

// DisplayMetadata returns meta, or a placeholder when it is absent.
func DisplayMetadata(meta *QueueMetadata) QueueMetadata {
	if meta == nil || meta.Name == "" {
		out := QueueMetadata{Name: UnnamedQueue}
		if meta != nil {
			out.CreatedAt = meta.CreatedAt
		}
		return out
	}
	return *meta
}
