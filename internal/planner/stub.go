package planner

import (
	"context"
	"sync"
)

// Stub is an offline Service for development and tests. It replays queued
// raw responses through the same validation path as the HTTP client, and
// falls back to an empty hold plan when the queue is exhausted.
type Stub struct {
	mu        sync.Mutex
	responses []string
	calls     int
}

func NewStub(responses ...string) *Stub {
	return &Stub{responses: responses}
}

// Calls reports how many times Plan was invoked.
func (s *Stub) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *Stub) Plan(ctx context.Context, req Request) (*Result, error) {
	s.mu.Lock()
	raw := `{"analysis": "no signal, holding", "orders": []}`
	if len(s.responses) > 0 {
		raw = s.responses[0]
		s.responses = s.responses[1:]
	}
	s.calls++
	s.mu.Unlock()

	doc, err := ParsePlanDocument(raw, req.MaxOrders)
	if err != nil {
		return &Result{Raw: raw}, err
	}
	return &Result{Raw: raw, Document: doc}, nil
}
