// Package state provides durable session snapshots. Two implementations are
// available: SQLite (the default) and Badger.
package state

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/ShayCichocki/turboswarm/pkg/models"
)

// ErrNotFound is returned when no snapshot exists for a session.
var ErrNotFound = errors.New("snapshot not found")

// Snapshot is everything needed to rebuild a session.
type Snapshot struct {
	SessionID string                `json:"session_id"`
	UserID    string                `json:"user_id"`
	Status    models.SessionStatus  `json:"status"`
	Spec      models.ProjectSpec    `json:"spec"`
	Plan      models.SizingPlan     `json:"plan"`
	Metrics   models.SessionMetrics `json:"metrics"`
	Tasks     []*models.Task        `json:"tasks"`
	State     []models.StateEntry   `json:"state"`
	Agents    []models.AgentHandle  `json:"agents"`
	CreatedAt time.Time             `json:"created_at"`
	SavedAt   time.Time             `json:"saved_at"`
}

// Summary is the listing view of a stored snapshot.
type Summary struct {
	SessionID string               `json:"session_id"`
	UserID    string               `json:"user_id"`
	Status    models.SessionStatus `json:"status"`
	SavedAt   time.Time            `json:"saved_at"`
}

// SnapshotWriter persists snapshots.
type SnapshotWriter interface {
	// Save stores snap, replacing any earlier snapshot of the same session.
	Save(ctx context.Context, snap *Snapshot) error
	Delete(ctx context.Context, sessionID string) error
}

// SnapshotReader loads snapshots.
type SnapshotReader interface {
	Load(ctx context.Context, sessionID string) (*Snapshot, error)
	// List returns summaries ordered by most recently saved first.
	List(ctx context.Context) ([]Summary, error)
}

// Store is the durable store the session manager checkpoints to.
type Store interface {
	io.Closer
	SnapshotWriter
	SnapshotReader
}

// Compile-time verification that both implementations satisfy Store.
var (
	_ Store          = (*DB)(nil)
	_ Store          = (*BadgerStore)(nil)
	_ SnapshotReader = (*DB)(nil)
	_ SnapshotWriter = (*BadgerStore)(nil)
)
