package backend

import (
	"context"
	"sync"

	"github.com/ShayCichocki/turboswarm/pkg/models"
)

// Pricing is the dollar cost per million tokens.
type Pricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// Approximate list prices, update as pricing changes.
var pricing = map[models.ModelPreference]Pricing{
	models.ModelGPT51:        {InputPerMillion: 1.25, OutputPerMillion: 10.0},
	models.ModelClaudeOpus45: {InputPerMillion: 5.0, OutputPerMillion: 25.0},
	models.ModelGemini3Pro:   {InputPerMillion: 2.0, OutputPerMillion: 12.0},
}

// EstimateCost returns the dollar cost of a call. Preferences without a
// price (such as browser automation) cost nothing.
func EstimateCost(pref models.ModelPreference, input, output int64) float64 {
	p, ok := pricing[pref]
	if !ok {
		return 0
	}
	return float64(input)/1_000_000*p.InputPerMillion + float64(output)/1_000_000*p.OutputPerMillion
}

// TokenTracker tracks token usage across calls of one backend.
type TokenTracker struct {
	mu        sync.Mutex
	inputTok  int64
	outputTok int64
	cost      float64
	calls     int
}

// NewTokenTracker creates a new token tracker.
func NewTokenTracker() *TokenTracker {
	return &TokenTracker{}
}

// Add records usage from a call.
func (t *TokenTracker) Add(input, output int64, cost float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inputTok += input
	t.outputTok += output
	t.cost += cost
	t.calls++
}

// Total returns the total input and output tokens tracked.
func (t *TokenTracker) Total() (input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inputTok, t.outputTok
}

// Calls returns the number of calls made.
func (t *TokenTracker) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// Cost returns the accumulated dollar cost.
func (t *TokenTracker) Cost() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cost
}

// Tracked wraps a backend and records every successful response.
type Tracked struct {
	Backend
	tracker *TokenTracker
}

// NewTracked wraps b with a fresh tracker.
func NewTracked(b Backend) *Tracked {
	return &Tracked{Backend: b, tracker: NewTokenTracker()}
}

// Tracker returns the usage tracker.
func (t *Tracked) Tracker() *TokenTracker {
	return t.tracker
}

// Execute implements Backend.
func (t *Tracked) Execute(ctx context.Context, req *Request) (*Response, error) {
	resp, err := t.Backend.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	t.tracker.Add(resp.InputTokens, resp.OutputTokens, resp.Cost)
	return resp, nil
}
