package orchestrator

import (
	"github.com/ShayCichocki/turboswarm/internal/bus"
	"github.com/ShayCichocki/turboswarm/internal/state"
)

// Option configures a SessionManager. Use With* functions to create Options.
type Option func(*managerOptions)

// managerOptions holds all optional configuration.
type managerOptions struct {
	store              state.Store
	bus                bus.Bus
	poolConfig         PoolConfig
	queueConfig        QueueConfig
	logger             *DebugLogger
	eventBuffer        int
	checkpointOnFinish bool
}

func defaultManagerOptions() *managerOptions {
	return &managerOptions{
		poolConfig:  DefaultPoolConfig(),
		eventBuffer: bus.DefaultBufferSize,
	}
}

// WithStore sets the durable store sessions are checkpointed to. Without
// one, sessions live in memory only.
func WithStore(s state.Store) Option {
	return func(o *managerOptions) { o.store = s }
}

// WithBus sets the transport session events are published on. Without one,
// an in-memory bus owned by the manager is used.
func WithBus(b bus.Bus) Option {
	return func(o *managerOptions) { o.bus = b }
}

// WithPoolConfig sets the agent pool settings. MaxAgents is always further
// limited by each session's sizing plan.
func WithPoolConfig(c PoolConfig) Option {
	return func(o *managerOptions) { o.poolConfig = c }
}

// WithQueueConfig sets the task queue settings.
func WithQueueConfig(c QueueConfig) Option {
	return func(o *managerOptions) { o.queueConfig = c }
}

// WithLogger sets the debug logger.
func WithLogger(l *DebugLogger) Option {
	return func(o *managerOptions) { o.logger = l }
}

// WithEventBuffer sets the per-session event buffer size.
func WithEventBuffer(n int) Option {
	return func(o *managerOptions) {
		if n > 0 {
			o.eventBuffer = n
		}
	}
}

// WithCheckpointOnFinish checkpoints sessions when they complete or fail,
// in addition to on pause and destroy.
func WithCheckpointOnFinish(enabled bool) Option {
	return func(o *managerOptions) { o.checkpointOnFinish = enabled }
}
