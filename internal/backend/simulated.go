package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/ShayCichocki/turboswarm/pkg/models"
)

// Simulated answers every request locally after a fixed delay. It is used
// for dry runs and load tests of the scheduler.
type Simulated struct {
	Pref  models.ModelPreference
	Delay time.Duration
}

// Name implements Backend.
func (s *Simulated) Name() string {
	return "simulated:" + string(s.Pref)
}

// Execute implements Backend.
func (s *Simulated) Execute(ctx context.Context, req *Request) (*Response, error) {
	if s.Delay > 0 {
		timer := time.NewTimer(s.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	title := ""
	if req.Task != nil {
		title = req.Task.Title
		if title == "" {
			title = req.Task.ID
		}
	}

	in := int64(len(req.System)+len(req.Prompt)) / 4
	out := int64(64)
	return &Response{
		Text:         fmt.Sprintf("[%s] %s: done", req.Role, title),
		InputTokens:  in,
		OutputTokens: out,
		Cost:         EstimateCost(s.Pref, in, out),
	}, nil
}

// NewSimulatedRegistry returns a registry that serves every preference with
// a simulated backend.
func NewSimulatedRegistry(delay time.Duration) *Registry {
	r := NewRegistry()
	for _, p := range []models.ModelPreference{
		models.ModelGPT51, models.ModelClaudeOpus45, models.ModelGemini3Pro, models.ModelNone,
	} {
		r.Register(p, &Simulated{Pref: p, Delay: delay})
	}
	return r
}
