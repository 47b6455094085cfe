package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ShayCichocki/turboswarm/internal/backend"
	"github.com/ShayCichocki/turboswarm/internal/statespace"
	"github.com/ShayCichocki/turboswarm/pkg/models"
)

// runner holds the behavior shared by every role: gather context from
// shared state, call the backend, publish the result and any facts.
type runner struct {
	backend backend.Backend
}

// gather collects dependency results, the given role-specific prefixes for
// each dependency, and the task's declared inputs. Inputs that do not exist
// yet are awaited.
func (r runner) gather(ctx context.Context, task *models.Task, state StateHandle, prefixes ...string) (map[string]string, error) {
	shared := make(map[string]string)
	for _, dep := range task.DependsOn {
		for _, prefix := range append([]string{ResultPrefix}, prefixes...) {
			key := prefix + dep
			if v, ok := state.Get(key); ok {
				shared[key] = v
			}
		}
	}
	for _, key := range task.Inputs {
		v, err := state.Await(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("await input %s: %w", key, err)
		}
		shared[key] = v
	}
	return shared, nil
}

func (r runner) call(ctx context.Context, role models.AgentRole, system string, task *models.Task, state StateHandle, shared map[string]string) (*Outcome, error) {
	resp, err := r.backend.Execute(ctx, &backend.Request{
		SessionID: state.SessionID(),
		AgentID:   state.AgentID(),
		Role:      role,
		Task:      task,
		System:    system,
		Prompt:    buildPrompt(task, shared),
	})
	if err != nil {
		return nil, err
	}
	return &Outcome{
		Output:       resp.Text,
		Cost:         resp.Cost,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	}, nil
}

// publish writes the task result, the role-specific copy and any facts.
func (r runner) publish(task *models.Task, state StateHandle, rolePrefix string, out *Outcome) error {
	if err := state.Set(ResultKey(task.ID), out.Output); err != nil {
		return err
	}
	if rolePrefix != "" {
		if err := state.Set(rolePrefix+task.ID, out.Output); err != nil {
			return err
		}
	}
	if facts := parseFacts(out.Output); len(facts) > 0 {
		if err := state.Set(FactsKey, statespace.EncodeSet(facts...)); err != nil {
			return err
		}
	}
	return nil
}

func (r runner) execute(ctx context.Context, role models.AgentRole, system, rolePrefix string, task *models.Task, state StateHandle, prefixes ...string) (*Outcome, error) {
	shared, err := r.gather(ctx, task, state, prefixes...)
	if err != nil {
		return nil, stateError(err)
	}
	out, err := r.call(ctx, role, system, task, state, shared)
	if err != nil {
		return nil, err
	}
	if err := r.publish(task, state, rolePrefix, out); err != nil {
		return out, stateError(err)
	}
	return out, nil
}

// stateError marks a released space as fatal: the session is going away.
func stateError(err error) error {
	if errors.Is(err, statespace.ErrSpaceReleased) {
		return backend.NewFatal(err)
	}
	return err
}

// Planner breaks work down and records the plan.
type Planner struct{ runner }

// Role implements Behavior.
func (p *Planner) Role() models.AgentRole { return models.RolePlanner }

// Execute implements Behavior. Plan steps are stored one per line under
// plan/<task>/steps.
func (p *Planner) Execute(ctx context.Context, task *models.Task, state StateHandle) (*Outcome, error) {
	out, err := p.execute(ctx, models.RolePlanner, plannerSystemPrompt, PlanPrefix, task, state)
	if err != nil {
		return out, err
	}
	if steps := parseSteps(out.Output); len(steps) > 0 {
		if err := state.Set(PlanPrefix+task.ID+"/steps", strings.Join(steps, "\n")); err != nil {
			return out, stateError(err)
		}
	}
	return out, nil
}

// Coder implements tasks using the plans of its dependencies.
type Coder struct{ runner }

// Role implements Behavior.
func (c *Coder) Role() models.AgentRole { return models.RoleCoder }

// Execute implements Behavior.
func (c *Coder) Execute(ctx context.Context, task *models.Task, state StateHandle) (*Outcome, error) {
	return c.execute(ctx, models.RoleCoder, coderSystemPrompt, CodePrefix, task, state, PlanPrefix)
}

// Tester evaluates the code of its dependencies. A failing verdict rejects
// the task.
type Tester struct{ runner }

// Role implements Behavior.
func (t *Tester) Role() models.AgentRole { return models.RoleTester }

// Execute implements Behavior.
func (t *Tester) Execute(ctx context.Context, task *models.Task, state StateHandle) (*Outcome, error) {
	out, err := t.execute(ctx, models.RoleTester, testerSystemPrompt, TestPrefix, task, state, CodePrefix)
	if err != nil {
		return out, err
	}
	if failedVerdict(out.Output) {
		return out, fmt.Errorf("%w: tests failed for task %s", ErrRejected, task.ID)
	}
	return out, nil
}

// Browser drives browser automation.
type Browser struct{ runner }

// Role implements Behavior.
func (b *Browser) Role() models.AgentRole { return models.RoleBrowser }

// Execute implements Behavior.
func (b *Browser) Execute(ctx context.Context, task *models.Task, state StateHandle) (*Outcome, error) {
	return b.execute(ctx, models.RoleBrowser, browserSystemPrompt, BrowsePrefix, task, state)
}

// Verifier reviews the results of its dependencies.
type Verifier struct{ runner }

// Role implements Behavior.
func (v *Verifier) Role() models.AgentRole { return models.RoleVerifier }

// Execute implements Behavior.
func (v *Verifier) Execute(ctx context.Context, task *models.Task, state StateHandle) (*Outcome, error) {
	out, err := v.execute(ctx, models.RoleVerifier, verifierSystemPrompt, ReviewPrefix, task, state, CodePrefix, TestPrefix)
	if err != nil {
		return out, err
	}
	if failedVerdict(out.Output) {
		return out, fmt.Errorf("%w: review failed for task %s", ErrRejected, task.ID)
	}
	return out, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
