package repository

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/MeKo-Tech/medinvoice/internal/model"
)

// Memory is an in-process InvoiceRepository.
type Memory struct {
	mu   sync.RWMutex
	rows map[string]Invoice
}

// NewMemory returns an empty repository.
func NewMemory() *Memory {
	return &Memory{rows: make(map[string]Invoice)}
}

var _ InvoiceRepository = (*Memory)(nil)

func (m *Memory) Save(_ context.Context, inv *Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[inv.ID] = *inv
	return nil
}

func (m *Memory) FindByID(_ context.Context, id string) (*Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inv, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &inv, nil
}

func (m *Memory) FindByHash(_ context.Context, hash string) (*Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *Invoice
	for _, inv := range m.rows {
		if inv.ContentHash != hash || inv.Status != model.StatusComplete {
			continue
		}
		if best == nil || inv.CreatedAt.After(best.CreatedAt) {
			best = &inv
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

func (m *Memory) List(_ context.Context, pq PageQuery) (*PageResult[Invoice], error) {
	pq = pq.Normalize()
	m.mu.RLock()
	items := make([]Invoice, 0, len(m.rows))
	for _, inv := range m.rows {
		items = append(items, inv)
	}
	m.mu.RUnlock()

	slices.SortFunc(items, func(a, b Invoice) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	total := len(items)
	start := min(pq.Offset, total)
	end := min(start+pq.Limit, total)
	return &PageResult[Invoice]{Items: items[start:end], Total: total}, nil
}
