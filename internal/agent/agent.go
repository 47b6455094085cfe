// Package agent provides the role variants agents execute tasks with. The
// execution loop is the same for every role; only the Behavior differs.
package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/ShayCichocki/turboswarm/internal/backend"
	"github.com/ShayCichocki/turboswarm/pkg/models"
)

// ErrRejected is returned when a task ran but its result was judged
// unacceptable. The task fails without retry; the agent stays healthy.
var ErrRejected = errors.New("task rejected")

// StateHandle is an agent's view of its session's shared state. Writes are
// attributed to the agent.
type StateHandle interface {
	AgentID() string
	SessionID() string
	Get(key string) (string, bool)
	Set(key, value string) error
	// Await blocks until key exists.
	Await(ctx context.Context, key string) (string, error)
}

// Outcome is the result of a successfully executed task.
type Outcome struct {
	Output       string
	Cost         float64
	InputTokens  int64
	OutputTokens int64
}

// Behavior is the role-specific part of an agent.
type Behavior interface {
	Role() models.AgentRole
	Execute(ctx context.Context, task *models.Task, state StateHandle) (*Outcome, error)
}

// New returns the behavior for role, executing through b.
func New(role models.AgentRole, b backend.Backend) (Behavior, error) {
	if b == nil {
		return nil, fmt.Errorf("%w: no backend for %s", backend.ErrBackendUnavailable, role)
	}
	base := runner{backend: b}
	switch role {
	case models.RolePlanner:
		return &Planner{base}, nil
	case models.RoleCoder:
		return &Coder{base}, nil
	case models.RoleTester:
		return &Tester{base}, nil
	case models.RoleBrowser:
		return &Browser{base}, nil
	case models.RoleVerifier:
		return &Verifier{base}, nil
	default:
		return nil, fmt.Errorf("unknown agent role %q", role)
	}
}

// Shared state key layout.
const (
	ResultPrefix = "results/"
	PlanPrefix   = "plan/"
	CodePrefix   = "code/"
	TestPrefix   = "tests/"
	BrowsePrefix = "browse/"
	ReviewPrefix = "review/"
	// FactsKey accumulates facts reported by any agent.
	FactsKey = "facts/discovered"
)

// ResultKey returns the key a task's output is stored under.
func ResultKey(taskID string) string {
	return ResultPrefix + taskID
}
