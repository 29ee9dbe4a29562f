package queue

import "errors"

var (
	// ErrEmpty is returned by Peek when the channel holds no unacknowledged entry.
	ErrEmpty = errors.New("channel is empty")
	// ErrNotHead is returned by Ack when the entry is not the oldest unacknowledged one.
	ErrNotHead = errors.New("entry is not the channel head")
)
