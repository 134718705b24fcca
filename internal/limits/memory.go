package limits

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/trogers1052/oil-risk-service/internal/models"
	"github.com/trogers1052/oil-risk-service/internal/riskerr"
)

// MemoryStore is an in-process BreachStore. A single mutex serializes writers
// so at most one open breach exists per limit.
type MemoryStore struct {
	mu       sync.Mutex
	breaches map[string]*models.LimitBreach
	open     map[int]string
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{breaches: make(map[string]*models.LimitBreach), open: make(map[int]string)}
}

func (s *MemoryStore) RecordBreach(_ context.Context, b *models.LimitBreach) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.open[b.LimitID]; ok {
		return false, nil
	}
	if _, ok := s.breaches[b.ID]; ok {
		return false, nil
	}
	stored := *b
	s.breaches[b.ID] = &stored
	s.open[b.LimitID] = b.ID
	return true, nil
}

func (s *MemoryStore) GetBreach(_ context.Context, id string) (*models.LimitBreach, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breaches[id]
	if !ok {
		return nil, fmt.Errorf("breach %s: %w", id, riskerr.ErrNotFound)
	}
	out := *b
	return &out, nil
}

func (s *MemoryStore) ResolveBreach(_ context.Context, id, resolvedBy, resolution string, at time.Time) (*models.LimitBreach, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breaches[id]
	if !ok {
		return nil, fmt.Errorf("breach %s: %w", id, riskerr.ErrNotFound)
	}
	if b.IsResolved() {
		return nil, riskerr.ErrBreachAlreadyResolved
	}
	b.ResolvedBy = &resolvedBy
	b.Resolution = &resolution
	b.ResolvedAt = &at
	delete(s.open, b.LimitID)
	out := *b
	return &out, nil
}

func (s *MemoryStore) ListBreaches(_ context.Context, openOnly bool) ([]models.LimitBreach, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.LimitBreach, 0, len(s.breaches))
	for _, b := range s.breaches {
		if openOnly && b.IsResolved() {
			continue
		}
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].DetectedAt.After(out[j].DetectedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
