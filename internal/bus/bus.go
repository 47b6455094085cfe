// Package bus moves event notifications between components and, with the
// directory transport, between processes sharing a filesystem.
package bus

import (
	"context"
	"errors"
	"strings"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus closed")

// Bus is a topic-based publish/subscribe transport. Delivery is best effort:
// a subscriber that falls behind loses messages rather than blocking
// publishers.
type Bus interface {
	Publish(topic string, payload []byte) error
	// Subscribe delivers messages published to topic after the call returns.
	// The channel is closed when ctx is done or the bus is closed.
	Subscribe(ctx context.Context, topic string) (<-chan []byte, error)
	Close() error
}

// SessionTopic is the topic carrying a session's events.
func SessionTopic(sessionID string) string {
	return "session." + sessionID
}

// DefaultBufferSize is the per-subscriber buffer.
const DefaultBufferSize = 256

// sanitizeTopic maps a topic to a safe single path element.
func sanitizeTopic(topic string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, topic)
}
