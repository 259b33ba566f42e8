package domain

import "errors"

var (
	// ErrInvalidURL is the validation failure for unsupported or malformed video URLs.
	ErrInvalidURL = errors.New("not a supported YouTube URL")

	// ErrEntryNotFound is returned when an id is not in the targeted collection.
	ErrEntryNotFound = errors.New("entry not found")

	// ErrInvalidQueueName is returned when a queue is created without a name.
	ErrInvalidQueueName = errors.New("queue name is required")

	// ErrInvalidQueueID is returned for empty or malformed queue ids.
	ErrInvalidQueueID = errors.New("invalid queue id")
)
