package llm

import (
	"context"
	"sync"
)

// MockProvider is a scriptable in-process provider for tests and local
// development without credentials.
type MockProvider struct {
	mu sync.Mutex
	// Fn, when set, handles every call.
	Fn    func(ctx context.Context, req Request) (string, error)
	calls []Request
}

func (p *MockProvider) Name() string { return "mock" }

func (p *MockProvider) Complete(ctx context.Context, req Request) (string, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	fn := p.Fn
	p.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return "{}", nil
}

// Calls returns a copy of the recorded requests.
func (p *MockProvider) Calls() []Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Request, len(p.calls))
	copy(out, p.calls)
	return out
}
