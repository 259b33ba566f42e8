package playlist

import "github.com/katsuma/jukeboxx/internal/domain"

// Snapshot is an immutable view of a queue, as pushed to viewers.
type Snapshot struct {
	QueueID string               `json:"queueId"`
	Version uint64               `json:"version"`
	Meta    domain.QueueMetadata `json:"meta"`
	// Synced is false when the queue only lives in this process.
	Synced bool `json:"synced"`

	Pending       []domain.Entry `json:"queue"`
	Current       *domain.Entry  `json:"currentItem"`
	History       []domain.Entry `json:"history"`
	RecentHistory []domain.Entry `json:"recentHistory"`
}
