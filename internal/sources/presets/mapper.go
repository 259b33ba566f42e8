package presets

import (
	"fmt"
	"strings"

	"github.com/katsuma/jukeboxx/internal/domain"
	"github.com/katsuma/jukeboxx/internal/logger"
)

// Preset is a validated queue definition.
type Preset struct {
	ID     string
	Name   string
	Tracks []string // submittable URLs, in play order
}

// Mapper validates raw presets.
type Mapper struct {
	logger logger.Logger
}

// NewMapper creates a new mapper instance
func NewMapper(log logger.Logger) *Mapper {
	return &Mapper{logger: log}
}

// MapQueues drops invalid queues and tracks. Duplicate ids keep the first
// definition.
func (m *Mapper) MapQueues(file File) ([]Preset, error) {
	var presets []Preset
	seen := make(map[string]bool, len(file.Queues))

	for _, q := range file.Queues {
		id := strings.TrimSpace(q.ID)
		name := strings.TrimSpace(q.Name)

		if !domain.IsValidQueueID(id) {
			m.logger.Warn("skipping preset with invalid id", logger.String("queue_id", q.ID))
			continue
		}
		if name == "" {
			m.logger.Warn("skipping preset without a name", logger.String("queue_id", id))
			continue
		}
		if seen[id] {
			m.logger.Warn("skipping duplicate preset", logger.String("queue_id", id))
			continue
		}
		seen[id] = true

		preset := Preset{ID: id, Name: name}
		for _, track := range q.Tracks {
			track = strings.TrimSpace(track)
			if !domain.IsValidVideoURL(track) {
				m.logger.Warn("skipping unsupported preset track",
					logger.String("queue_id", id),
					logger.String("url", track))
				continue
			}
			preset.Tracks = append(preset.Tracks, track)
		}

		presets = append(presets, preset)
	}

	if len(presets) == 0 {
		return nil, fmt.Errorf("no valid queues found in presets file")
	}

	return presets, nil
}
