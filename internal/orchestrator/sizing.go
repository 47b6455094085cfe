package orchestrator

import (
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"

	"github.com/ShayCichocki/turboswarm/pkg/models"
)

// MaxAgents is the absolute ceiling on agents in one session.
const MaxAgents = 10000

var validate = validator.New()

// ValidateSpec checks a project spec against its declared constraints.
func ValidateSpec(spec models.ProjectSpec) error {
	if err := validate.Struct(spec); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	return nil
}

// baseCount returns the base agent count for a parallelization mode.
func baseCount(spec models.ProjectSpec) int {
	switch spec.Parallelization {
	case models.ParallelSequential:
		return 1
	case models.ParallelBatch10:
		return 10
	case models.ParallelBatch100:
		return 100
	case models.ParallelTurbo:
		return min(spec.ReplicationCount*10, MaxAgents)
	default:
		return 0
	}
}

// ComputeSizing derives the agent mix for a spec: one planner, coders in
// proportion to complexity, one tester per four coders and a browser when
// requested. If the mix would exceed MaxAgents, coders are reduced until it
// fits and the plan is marked Capped.
func ComputeSizing(spec models.ProjectSpec) (models.SizingPlan, error) {
	if err := ValidateSpec(spec); err != nil {
		return models.SizingPlan{}, err
	}

	plan := models.SizingPlan{
		Base:     baseCount(spec),
		Planners: 1,
	}
	if spec.RequiresBrowser {
		plan.Browsers = 1
	}
	plan.Coders = max(1, int(math.Round(float64(plan.Base)*spec.Complexity.Fraction())))
	plan.Testers = max(1, plan.Coders/4)

	if plan.Total() > MaxAgents {
		plan.Capped = true
		// coders + coders/4 <= room, so start near room*4/5 and walk down.
		room := MaxAgents - plan.Planners - plan.Browsers
		plan.Coders = room*4/5 + 4
		for plan.Coders > 1 {
			plan.Testers = max(1, plan.Coders/4)
			if plan.Total() <= MaxAgents {
				break
			}
			plan.Coders--
		}
	}
	return plan, nil
}
