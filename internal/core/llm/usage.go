package llm

import "sync"

// UsageMeter accumulates tokens billed during one job.
type UsageMeter struct {
	mu     sync.Mutex
	model  string
	tokens int
	calls  int
}

func NewUsageMeter(model string) *UsageMeter {
	return &UsageMeter{model: model}
}

func (m *UsageMeter) Add(tokens int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens += tokens
	m.calls++
}

func (m *UsageMeter) Model() string { return m.model }

func (m *UsageMeter) Tokens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens
}

func (m *UsageMeter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *UsageMeter) CostUSD() float64 {
	return Cost(m.model, m.Tokens())
}
