// Package statespace provides the per-session shared key/value space that
// agents read and write concurrently.
//
// Writes never overwrite blindly. Each key carries a write counter and the
// identity of the last writer; the entry with the higher counter wins and
// equal counters are ordered by writer identity. The ordering is total, so
// replaying or reordering writes always converges to the same value.
package statespace

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ShayCichocki/turboswarm/pkg/models"
)

var (
	// ErrStateConflict is returned by CompareAndSet when the key moved on.
	ErrStateConflict = errors.New("state conflict")
	// ErrSpaceReleased is returned by operations on a destroyed space.
	ErrSpaceReleased = errors.New("state space released")
)

// MergeFunc combines the current value of a key with an incoming one.
// It must be commutative and associative for replicas to converge.
type MergeFunc func(current, incoming string) (string, error)

type prefixMerge struct {
	prefix string
	fn     MergeFunc
}

// Space is the shared state of one session.
type Space struct {
	sessionID string

	mu       sync.RWMutex
	entries  map[string]models.StateEntry
	merges   []prefixMerge
	waiters  map[string][]chan struct{}
	released bool
	onWrite  func(models.StateEntry)
}

// New creates an empty space for the session.
func New(sessionID string) *Space {
	return &Space{
		sessionID: sessionID,
		entries:   make(map[string]models.StateEntry),
		waiters:   make(map[string][]chan struct{}),
	}
}

// SessionID returns the owning session.
func (s *Space) SessionID() string {
	return s.sessionID
}

// RegisterMerge installs a merge function for every key with the given prefix.
// The longest matching prefix wins.
func (s *Space) RegisterMerge(prefix string, fn MergeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.merges = append(s.merges, prefixMerge{prefix: prefix, fn: fn})
	sort.SliceStable(s.merges, func(i, j int) bool {
		return len(s.merges[i].prefix) > len(s.merges[j].prefix)
	})
}

// OnWrite sets a hook called after every accepted write, outside the lock.
func (s *Space) OnWrite(fn func(models.StateEntry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onWrite = fn
}

func (s *Space) mergeFor(key string) MergeFunc {
	for _, m := range s.merges {
		if strings.HasPrefix(key, m.prefix) {
			return m.fn
		}
	}
	return nil
}

// Get returns the latest merged value of key.
func (s *Space) Get(key string) (string, bool) {
	e, ok := s.Entry(key)
	return e.Value, ok
}

// Entry returns the full entry for key, including its write clock.
func (s *Space) Entry(key string) (models.StateEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	return e, ok
}

// Set proposes a write from writer. The write is stamped with the next
// counter for the key; if a merge function is registered for the key the
// stored value is the merge of the current and proposed values.
func (s *Space) Set(writer, key, value string) (models.StateEntry, error) {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return models.StateEntry{}, ErrSpaceReleased
	}

	cur, exists := s.entries[key]
	if exists {
		if fn := s.mergeFor(key); fn != nil {
			merged, err := fn(cur.Value, value)
			if err != nil {
				s.mu.Unlock()
				return models.StateEntry{}, fmt.Errorf("merge %s: %w", key, err)
			}
			value = merged
		}
	}

	entry := models.StateEntry{
		Key:       key,
		Value:     value,
		Version:   cur.Version + 1,
		Writer:    writer,
		UpdatedAt: time.Now(),
	}
	hook := s.storeLocked(entry)
	s.mu.Unlock()

	if hook != nil {
		hook(entry)
	}
	return entry, nil
}

// CompareAndSet writes only if the key is still at expectedVersion (zero
// means the key must not exist). It is the opt-out from automatic merging.
func (s *Space) CompareAndSet(writer, key, value string, expectedVersion uint64) (models.StateEntry, error) {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return models.StateEntry{}, ErrSpaceReleased
	}

	cur := s.entries[key]
	if cur.Version != expectedVersion {
		s.mu.Unlock()
		return cur, fmt.Errorf("%w: %s is at version %d (written by %s), expected %d",
			ErrStateConflict, key, cur.Version, cur.Writer, expectedVersion)
	}

	entry := models.StateEntry{
		Key:       key,
		Value:     value,
		Version:   cur.Version + 1,
		Writer:    writer,
		UpdatedAt: time.Now(),
	}
	hook := s.storeLocked(entry)
	s.mu.Unlock()

	if hook != nil {
		hook(entry)
	}
	return entry, nil
}

// Merge applies an entry that was stamped elsewhere, for example one replayed
// from a transport. Without a merge function the entry is kept only if it
// supersedes the current one. Returns whether the stored entry changed.
func (s *Space) Merge(incoming models.StateEntry) (bool, error) {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return false, ErrSpaceReleased
	}

	cur, exists := s.entries[incoming.Key]
	result := incoming
	if exists {
		if fn := s.mergeFor(incoming.Key); fn != nil {
			merged, err := fn(cur.Value, incoming.Value)
			if err != nil {
				s.mu.Unlock()
				return false, fmt.Errorf("merge %s: %w", incoming.Key, err)
			}
			if !incoming.Supersedes(cur) {
				if merged == cur.Value {
					s.mu.Unlock()
					return false, nil
				}
				result = cur
			}
			result.Value = merged
		} else if !incoming.Supersedes(cur) {
			s.mu.Unlock()
			return false, nil
		}
	}

	hook := s.storeLocked(result)
	s.mu.Unlock()

	if hook != nil {
		hook(result)
	}
	return true, nil
}

// storeLocked saves the entry, wakes waiters and returns the write hook.
// Caller must hold s.mu.
func (s *Space) storeLocked(e models.StateEntry) func(models.StateEntry) {
	s.entries[e.Key] = e
	for _, ch := range s.waiters[e.Key] {
		close(ch)
	}
	delete(s.waiters, e.Key)
	return s.onWrite
}

// Await blocks until key exists and returns its value.
func (s *Space) Await(ctx context.Context, key string) (string, error) {
	for {
		s.mu.Lock()
		if s.released {
			s.mu.Unlock()
			return "", ErrSpaceReleased
		}
		if e, ok := s.entries[key]; ok {
			s.mu.Unlock()
			return e.Value, nil
		}
		ch := make(chan struct{})
		s.waiters[key] = append(s.waiters[key], ch)
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Len returns the number of keys.
func (s *Space) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Snapshot returns a copy of every entry sorted by key.
func (s *Space) Snapshot() []models.StateEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.StateEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Restore merges previously snapshotted entries into the space.
func (s *Space) Restore(entries []models.StateEntry) error {
	for _, e := range entries {
		if _, err := s.Merge(e); err != nil {
			return err
		}
	}
	return nil
}

// Release drops every key and wakes all waiters. Later operations fail
// with ErrSpaceReleased.
func (s *Space) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return
	}
	s.released = true
	s.entries = make(map[string]models.StateEntry)
	for key, chans := range s.waiters {
		for _, ch := range chans {
			close(ch)
		}
		delete(s.waiters, key)
	}
}

// Released reports whether the space has been destroyed.
func (s *Space) Released() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.released
}
