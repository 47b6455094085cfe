package bus

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	"github.com/ShayCichocki/turboswarm/internal/metrics"
)

type subscriber struct {
	ch chan []byte
}

// MemoryBus delivers messages within one process.
type MemoryBus struct {
	bufferSize int

	mu     sync.RWMutex
	subs   map[string]map[*subscriber]struct{}
	closed bool

	droppedCount atomic.Uint64
}

// NewMemoryBus creates an in-process bus. A non-positive bufferSize uses
// DefaultBufferSize.
func NewMemoryBus(bufferSize int) *MemoryBus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &MemoryBus{
		bufferSize: bufferSize,
		subs:       make(map[string]map[*subscriber]struct{}),
	}
}

// Publish delivers payload to every current subscriber of topic.
func (b *MemoryBus) Publish(topic string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}
	for sub := range b.subs[topic] {
		select {
		case sub.ch <- payload:
		default:
			count := b.droppedCount.Add(1)
			metrics.RecordBusDropped()
			if count%10 == 1 {
				log.Printf("[bus] WARNING: subscriber of %s is full, dropped message (total dropped: %d)", topic, count)
			}
		}
	}
	return nil
}

// Subscribe implements Bus.
func (b *MemoryBus) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	sub := &subscriber{ch: make(chan []byte, b.bufferSize)}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*subscriber]struct{})
	}
	b.subs[topic][sub] = struct{}{}

	go func() {
		<-ctx.Done()
		b.unsubscribe(topic, sub)
	}()
	return sub.ch, nil
}

func (b *MemoryBus) unsubscribe(topic string, sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[topic][sub]; !ok {
		return
	}
	delete(b.subs[topic], sub)
	if len(b.subs[topic]) == 0 {
		delete(b.subs, topic)
	}
	close(sub.ch)
}

// DroppedCount returns the number of messages dropped for slow subscribers.
func (b *MemoryBus) DroppedCount() uint64 {
	return b.droppedCount.Load()
}

// Close closes every subscription.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for topic, subs := range b.subs {
		for sub := range subs {
			close(sub.ch)
		}
		delete(b.subs, topic)
	}
	return nil
}

var _ Bus = (*MemoryBus)(nil)
