package llm

import (
	"context"
	"sync"
	"time"
)

// Mock implements Client for testing. It can be scripted with a fixed
// decision, a sequence of decisions, an error, and an artificial delay, and
// it records every request it receives.
type Mock struct {
	mu sync.Mutex

	decision  Decision
	script    []Decision
	err       error
	delay     time.Duration
	available bool

	// Calls records every DecisionRequest, in order.
	Calls []DecisionRequest
}

// NewMock creates a Mock that is available and proposes "wait" by default.
func NewMock() *Mock {
	return &Mock{
		decision:  Decision{Kind: "wait"},
		available: true,
	}
}

// WithDecision configures the decision returned by every call.
func (m *Mock) WithDecision(d Decision) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decision = d
	return m
}

// WithScript configures a sequence of decisions consumed one per call.
// After the script runs out the fixed decision is used.
func (m *Mock) WithScript(ds ...Decision) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append([]Decision(nil), ds...)
	return m
}

// WithError configures the error returned by Decide.
func (m *Mock) WithError(err error) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithDelay makes Decide block for d (or until the context ends).
func (m *Mock) WithDelay(d time.Duration) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithAvailable configures the Available result.
func (m *Mock) WithAvailable(ok bool) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available = ok
	return m
}

func (m *Mock) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

func (m *Mock) Decide(ctx context.Context, req DecisionRequest) (Decision, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, req)
	delay := m.delay
	err := m.err
	dec := m.decision
	if len(m.script) > 0 {
		dec = m.script[0]
		m.script = m.script[1:]
	}
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return Decision{}, ErrTimeout
		case <-time.After(delay):
		}
	}
	if ctx.Err() != nil {
		return Decision{}, ErrTimeout
	}
	if err != nil {
		return Decision{}, err
	}
	return dec, nil
}

// CallCount returns how many times Decide has been invoked.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
