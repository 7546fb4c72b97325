// Package memory implements order.Store in process memory.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/xenking/payrecon/internal/domain/order"
)

var _ order.Store = (*OrderStore)(nil)

// OrderStore keeps orders in a map guarded by a single RWMutex. Codes are
// also kept in insertion order so scans are deterministic.
type OrderStore struct {
	mu     sync.RWMutex
	orders map[string]*order.Order
	codes  []string
}

// NewOrderStore returns an empty OrderStore.
func NewOrderStore() *OrderStore {
	return &OrderStore{orders: make(map[string]*order.Order)}
}

// Create stores a copy of o.
func (s *OrderStore) Create(_ context.Context, o *order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[o.Code]; ok {
		return order.ErrDuplicateOrderCode
	}
	s.orders[o.Code] = o.Clone()
	s.codes = append(s.codes, o.Code)
	return nil
}

// Get returns a copy of the stored order.
func (s *OrderStore) Get(_ context.Context, code string) (*order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[code]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o.Clone(), nil
}

// FindCandidates scans every order, in insertion order, and returns those
// whose code occurs in text.
func (s *OrderStore) FindCandidates(_ context.Context, text string) ([]order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []order.Order
	for _, code := range s.codes {
		if strings.Contains(text, code) {
			out = append(out, *s.orders[code].Clone())
		}
	}
	return out, nil
}

// MarkPaid applies the pending -> paid transition once.
func (s *OrderStore) MarkPaid(_ context.Context, code string, paidAt time.Time, transactionRef string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[code]
	if !ok {
		return false, order.ErrNotFound
	}
	if o.Status != order.StatusPending {
		return false, nil
	}
	o.Status = order.StatusPaid
	o.PaidAt = &paidAt
	o.TransactionRef = transactionRef
	return true, nil
}

// Ping always succeeds.
func (s *OrderStore) Ping(context.Context) error { return nil }

// Len returns the number of stored orders.
func (s *OrderStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}
