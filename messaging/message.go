package messaging

import (
	"context"
	"errors"
	"fmt"
)

// Message is one record handed to the bus.
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Publisher delivers a message and returns only once the broker has durably
// acknowledged it, or with an error.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// ErrNotConnected is returned by Publish when no connection could be made.
var ErrNotConnected = errors.New("messaging: not connected")

// PublishError reports a failed delivery. It stays inside the relay; callers
// of the intake path never see it.
type PublishError struct {
	Backend string
	Topic   string
	Timeout bool
	Err     error
}

func (e *PublishError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s publish to %s: no ack before timeout: %v", e.Backend, e.Topic, e.Err)
	}
	return fmt.Sprintf("%s publish to %s: %v", e.Backend, e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }
