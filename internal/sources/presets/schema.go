package presets

// File is the top-level structure of the presets yaml file.
type File struct {
	Queues []QueueProps `yaml:"queues"`
}

// QueueProps describes one well-known queue.
type QueueProps struct {
	ID     string   `yaml:"id"`
	Name   string   `yaml:"name"`
	Tracks []string `yaml:"tracks,omitempty"`
}
