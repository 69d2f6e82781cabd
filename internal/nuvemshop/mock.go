package nuvemshop

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockFinder is an in-memory OrderFinder for tests and the offline console.
type MockFinder struct {
	mu      sync.Mutex
	orders  map[string]Order
	lookups []string
	Err     error // returned by every FindOrder when set
}

// NewMockFinder returns a finder holding orders.
func NewMockFinder(orders ...Order) *MockFinder {
	m := &MockFinder{orders: make(map[string]Order)}
	for _, o := range orders {
		m.Add(o)
	}
	return m
}

// Add stores an order under its number.
func (m *MockFinder) Add(o Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[fmt.Sprint(o.Number)] = o
}

// FindOrder implements OrderFinder.
func (m *MockFinder) FindOrder(_ context.Context, number string) (*Order, error) {
	number = strings.TrimPrefix(strings.TrimSpace(number), "#")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups = append(m.lookups, number)
	if m.Err != nil {
		return nil, m.Err
	}
	o, ok := m.orders[number]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return &o, nil
}

// Lookups returns the order numbers requested so far.
func (m *MockFinder) Lookups() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.lookups...)
}
