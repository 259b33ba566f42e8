package presets

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Loader reads the presets file from disk.
type Loader struct {
	filePath string
}

// NewLoader creates a new presets loader
func NewLoader(filePath string) *Loader {
	return &Loader{
		filePath: filePath,
	}
}

// Load reads and parses the presets file
func (l *Loader) Load() (File, error) {
	data, err := os.ReadFile(l.filePath)
	if err != nil {
		return File{}, fmt.Errorf("failed to read presets file: %w", err)
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return File{}, fmt.Errorf("failed to parse presets yaml: %w", err)
	}

	return file, nil
}
