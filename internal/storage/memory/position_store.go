package memory

import (
	"context"
	"sort"
	"sync"

	"lending-strategy-lab/internal/domain"
	"lending-strategy-lab/internal/storage"
)

// PositionStore is an in-memory implementation of storage.PositionStore with
// optimistic version checking on Update.
type PositionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Position // keyed by position_id
}

// NewPositionStore creates a new in-memory position store.
func NewPositionStore() *PositionStore {
	return &PositionStore{
		data: make(map[string]*domain.Position),
	}
}

// clonePosition deep-copies a position so callers never share leg slices or
// the ClosedAt pointer with the store.
func clonePosition(p *domain.Position) *domain.Position {
	cp := *p
	cp.Entry.Legs = append([]domain.LegState(nil), p.Entry.Legs...)
	cp.Live.Legs = append([]domain.LegState(nil), p.Live.Legs...)
	if p.ClosedAt != nil {
		closedAt := *p.ClosedAt
		cp.ClosedAt = &closedAt
	}
	return &cp
}

// Insert adds a new position. Returns ErrDuplicateKey if the ID exists.
func (s *PositionStore) Insert(_ context.Context, p *domain.Position) error {
	if p == nil || p.PositionID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[p.PositionID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[p.PositionID] = clonePosition(p)
	return nil
}

// InsertBulk adds multiple positions atomically: the whole batch lands or
// none of it does.
func (s *PositionStore) InsertBulk(_ context.Context, positions []*domain.Position) error {
	if len(positions) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(positions))
	for _, p := range positions {
		if p == nil || p.PositionID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := s.data[p.PositionID]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[p.PositionID]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[p.PositionID] = struct{}{}
	}

	for _, p := range positions {
		s.data[p.PositionID] = clonePosition(p)
	}
	return nil
}

// GetByID retrieves a position by ID. Returns ErrNotFound if not exists.
func (s *PositionStore) GetByID(_ context.Context, positionID string) (*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.data[positionID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return clonePosition(p), nil
}

// Update replaces a position's state if the stored version equals
// expectedVersion, bumping the version. Returns ErrVersionConflict when
// another writer got there first.
func (s *PositionStore) Update(_ context.Context, p *domain.Position, expectedVersion int64) error {
	if p == nil || p.PositionID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.data[p.PositionID]
	if !exists {
		return storage.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return storage.ErrVersionConflict
	}

	cp := clonePosition(p)
	cp.Version = expectedVersion + 1
	s.data[p.PositionID] = cp
	p.Version = cp.Version
	return nil
}

// GetByStatus retrieves all positions with the given status, ordered by
// creation time ASC, position ID ASC.
func (s *PositionStore) GetByStatus(_ context.Context, status string) ([]*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Position
	for _, p := range s.data {
		if p.Status == status {
			result = append(result, clonePosition(p))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return result[i].PositionID < result[j].PositionID
	})
	return result, nil
}

// GetByPortfolio retrieves all positions belonging to a portfolio, ordered
// by creation time ASC, position ID ASC.
func (s *PositionStore) GetByPortfolio(_ context.Context, portfolioID string) ([]*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Position
	for _, p := range s.data {
		if p.PortfolioID == portfolioID {
			result = append(result, clonePosition(p))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return result[i].PositionID < result[j].PositionID
	})
	return result, nil
}

var _ storage.PositionStore = (*PositionStore)(nil)
