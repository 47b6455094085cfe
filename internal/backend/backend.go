// Package backend is the boundary to the model and automation services that
// actually execute tasks. The orchestrator treats every backend as an opaque
// capability keyed by model preference.
package backend

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ShayCichocki/turboswarm/pkg/models"
)

// Request is a single execution request for one task.
type Request struct {
	SessionID string
	AgentID   string
	Role      models.AgentRole
	Task      *models.Task
	// System is the role instruction.
	System string
	// Prompt is the task-specific input, including any shared state context.
	Prompt string
}

// Response is the result of a successful execution.
type Response struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
	// Cost is the estimated dollar cost of the call.
	Cost float64
}

// Backend executes requests. Implementations must honor ctx cancellation and
// return errors that Classify can sort into transient and fatal.
type Backend interface {
	Name() string
	Execute(ctx context.Context, req *Request) (*Response, error)
}

// Func adapts a function to the Backend interface.
type Func func(ctx context.Context, req *Request) (*Response, error)

// Name implements Backend.
func (f Func) Name() string { return "func" }

// Execute implements Backend.
func (f Func) Execute(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Registry maps model preferences to backends.
type Registry struct {
	mu       sync.RWMutex
	backends map[models.ModelPreference]Backend
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[models.ModelPreference]Backend)}
}

// Register installs b for the preference, replacing any previous backend.
func (r *Registry) Register(pref models.ModelPreference, b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[pref] = b
}

// Get returns the backend for the preference.
func (r *Registry) Get(pref models.ModelPreference) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.backends[pref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBackendUnavailable, pref)
	}
	return b, nil
}

// Preferences returns the registered preferences in sorted order.
func (r *Registry) Preferences() []models.ModelPreference {
	r.mu.RLock()
	defer r.mu.RUnlock()

	prefs := make([]models.ModelPreference, 0, len(r.backends))
	for p := range r.backends {
		prefs = append(prefs, p)
	}
	sort.Slice(prefs, func(i, j int) bool { return prefs[i] < prefs[j] })
	return prefs
}

// RegisterAll installs b for every known preference that has no backend yet.
func (r *Registry) RegisterAll(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range []models.ModelPreference{
		models.ModelGPT51, models.ModelClaudeOpus45, models.ModelGemini3Pro, models.ModelNone,
	} {
		if _, ok := r.backends[p]; !ok {
			r.backends[p] = b
		}
	}
}
