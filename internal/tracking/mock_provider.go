package tracking

import (
	"context"
	"strings"
	"sync"
)

// MockProvider is an in-memory Provider for tests and dry runs. Codes added
// with Set are tracked; other codes return ErrNotTracked until registered.
type MockProvider struct {
	mu         sync.Mutex
	infos      map[string]*Info
	registered map[string]bool
	queries    int
	registers  int

	// QueryErr, when set, is returned by Query.
	QueryErr error
	// OnRegister, when set, provides the info for a newly registered code.
	OnRegister func(code string) *Info
}

// NewMockProvider creates an empty MockProvider.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		infos:      make(map[string]*Info),
		registered: make(map[string]bool),
	}
}

// Set makes code tracked with the given info.
func (m *MockProvider) Set(info Info) {
	m.mu.Lock()
	defer m.mu.Unlock()
	code := strings.ToUpper(info.Code)
	m.infos[code] = &info
	m.registered[code] = true
}

// Register implements Provider.
func (m *MockProvider) Register(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registers++
	code = strings.ToUpper(code)
	m.registered[code] = true
	if m.OnRegister != nil {
		if info := m.OnRegister(code); info != nil {
			m.infos[code] = info
		}
	}
	return nil
}

// Query implements Provider.
func (m *MockProvider) Query(_ context.Context, code string) (*Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries++
	if m.QueryErr != nil {
		return nil, m.QueryErr
	}
	info, ok := m.infos[strings.ToUpper(code)]
	if !ok {
		return nil, ErrNotTracked
	}
	cp := *info
	cp.Events = append([]Event(nil), info.Events...)
	return &cp, nil
}

// List implements Provider.
func (m *MockProvider) List(_ context.Context) ([]Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, 0, len(m.infos))
	for _, info := range m.infos {
		out = append(out, *info)
	}
	return out, nil
}

// Queries returns the number of Query calls.
func (m *MockProvider) Queries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queries
}

// Registers returns the number of Register calls.
func (m *MockProvider) Registers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registers
}
