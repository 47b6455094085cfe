package bus

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/ShayCichocki/turboswarm/internal/metrics"
)

// DirBus carries messages between processes through a shared directory.
// Each topic is a subdirectory; each message is one file, written under a
// hidden temporary name and renamed into place so watchers only ever see
// complete files.
type DirBus struct {
	root       string
	bufferSize int
	retention  time.Duration

	mu        sync.Mutex
	closed    bool
	watchers  map[*fsnotify.Watcher]struct{}
	lastPrune time.Time
}

// NewDirBus creates a bus rooted at dir. Message files older than retention
// are pruned as new messages are published; zero keeps them forever.
func NewDirBus(dir string, retention time.Duration) (*DirBus, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create bus directory: %w", err)
	}
	return &DirBus{
		root:       dir,
		bufferSize: DefaultBufferSize,
		retention:  retention,
		watchers:   make(map[*fsnotify.Watcher]struct{}),
	}, nil
}

func (b *DirBus) topicDir(topic string) string {
	return filepath.Join(b.root, sanitizeTopic(topic))
}

// Publish writes payload as a new message file under the topic directory.
func (b *DirBus) Publish(topic string, payload []byte) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	dir := b.topicDir(topic)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create topic directory: %w", err)
	}

	name := fmt.Sprintf("%020d-%s.json", time.Now().UnixNano(), uuid.New().String()[:8])
	tmp := filepath.Join(dir, "."+name)
	if err := os.WriteFile(tmp, payload, 0644); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, name)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publish message: %w", err)
	}

	b.maybePrune(dir)
	return nil
}

// Subscribe watches the topic directory for new message files.
func (b *DirBus) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	dir := b.topicDir(topic)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create topic directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		watcher.Close()
		return nil, ErrClosed
	}
	b.watchers[watcher] = struct{}{}
	b.mu.Unlock()

	out := make(chan []byte, b.bufferSize)
	go b.watch(ctx, topic, watcher, out)
	return out, nil
}

func (b *DirBus) watch(ctx context.Context, topic string, watcher *fsnotify.Watcher, out chan<- []byte) {
	defer close(out)
	defer b.release(watcher)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			base := filepath.Base(event.Name)
			if strings.HasPrefix(base, ".") || event.Op&fsnotify.Create == 0 {
				continue
			}
			payload, err := os.ReadFile(event.Name)
			if err != nil {
				// Pruned before we got to it.
				continue
			}
			select {
			case out <- payload:
			default:
				metrics.RecordBusDropped()
				log.Printf("[bus] WARNING: subscriber of %s is full, dropped %s", topic, base)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[bus] watcher error on %s: %v", topic, err)
		}
	}
}

func (b *DirBus) release(watcher *fsnotify.Watcher) {
	b.mu.Lock()
	delete(b.watchers, watcher)
	b.mu.Unlock()
	watcher.Close()
}

func (b *DirBus) maybePrune(dir string) {
	if b.retention <= 0 {
		return
	}
	b.mu.Lock()
	if time.Since(b.lastPrune) < time.Minute {
		b.mu.Unlock()
		return
	}
	b.lastPrune = time.Now()
	b.mu.Unlock()

	if _, err := b.Prune(dir, time.Now().Add(-b.retention)); err != nil {
		log.Printf("[bus] prune %s: %v", dir, err)
	}
}

// Prune removes message files in dir last modified before cutoff.
func (b *DirBus) Prune(dir string, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if os.Remove(filepath.Join(dir, e.Name())) == nil {
			removed++
		}
	}
	return removed, nil
}

// Root returns the bus directory.
func (b *DirBus) Root() string {
	return b.root
}

// Close stops every watcher. Message files are left in place.
func (b *DirBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	watchers := make([]*fsnotify.Watcher, 0, len(b.watchers))
	for w := range b.watchers {
		watchers = append(watchers, w)
	}
	b.mu.Unlock()

	for _, w := range watchers {
		w.Close()
	}
	return nil
}

var _ Bus = (*DirBus)(nil)
