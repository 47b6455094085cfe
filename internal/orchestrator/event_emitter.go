package orchestrator

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ShayCichocki/turboswarm/internal/bus"
	"github.com/ShayCichocki/turboswarm/internal/metrics"
)

// EventEmitter publishes a session's events on its bus topic. Emit never
// blocks for long: a background goroutine does the publishing, and events
// are dropped if it falls too far behind.
type EventEmitter struct {
	sessionID    string
	topic        string
	bus          bus.Bus
	events       chan Event
	droppedCount atomic.Uint64
	done         chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewEventEmitter creates an emitter for sessionID publishing to b. A nil
// bus discards every event.
func NewEventEmitter(sessionID string, b bus.Bus, bufferSize int) *EventEmitter {
	e := &EventEmitter{
		sessionID: sessionID,
		topic:     bus.SessionTopic(sessionID),
		bus:       b,
		events:    make(chan Event, bufferSize),
		done:      make(chan struct{}),
	}
	go e.forward()
	return e
}

// Emit queues an event for publishing. If the buffer is full, it waits up to
// 100ms before dropping the event.
func (e *EventEmitter) Emit(event Event) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed || e.bus == nil {
		return
	}

	event.SessionID = e.sessionID
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case e.events <- event:
		return
	default:
	}

	timer := time.NewTimer(100 * time.Millisecond)
	defer timer.Stop()
	select {
	case e.events <- event:
	case <-timer.C:
		count := e.droppedCount.Add(1)
		metrics.RecordBusDropped()
		if count%10 == 1 {
			log.Printf("[session] WARNING: event buffer full, dropped event (total dropped: %d): type=%s", count, event.Type)
		}
	}
}

func (e *EventEmitter) forward() {
	defer close(e.done)
	for event := range e.events {
		payload, err := json.Marshal(event)
		if err != nil {
			log.Printf("[session] encode event %s: %v", event.Type, err)
			continue
		}
		if err := e.bus.Publish(e.topic, payload); err != nil && !errors.Is(err, bus.ErrClosed) {
			log.Printf("[session] publish event %s: %v", event.Type, err)
		}
	}
}

// DroppedCount returns the total number of events that have been dropped.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Close flushes queued events and stops the emitter. Later Emit calls are no-ops.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		<-e.done
		return
	}
	e.closed = true
	close(e.events)
	e.mu.Unlock()
	<-e.done
}
