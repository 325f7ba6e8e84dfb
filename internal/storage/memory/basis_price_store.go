package memory

import (
	"context"
	"sync"

	"lending-strategy-lab/internal/domain"
	"lending-strategy-lab/internal/storage"
)

type basisKey struct {
	Timestamp int64
	Market    string
	Token     string
}

// BasisPriceStore is an in-memory implementation of storage.BasisPriceStore.
type BasisPriceStore struct {
	mu   sync.RWMutex
	data map[basisKey]*domain.BasisPrice
}

// NewBasisPriceStore creates a new in-memory basis price store.
func NewBasisPriceStore() *BasisPriceStore {
	return &BasisPriceStore{
		data: make(map[basisKey]*domain.BasisPrice),
	}
}

// InsertBulk adds multiple basis prices atomically. Fails entire batch on
// any duplicate or validation error.
func (s *BasisPriceStore) InsertBulk(_ context.Context, prices []*domain.BasisPrice) error {
	if len(prices) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[basisKey]struct{}, len(prices))
	for _, p := range prices {
		if p == nil {
			return storage.ErrInvalidInput
		}
		if err := p.Validate(); err != nil {
			return storage.ErrInvalidInput
		}

		key := basisKey{p.Timestamp, p.Market, p.Token}
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, p := range prices {
		cp := *p
		s.data[basisKey{p.Timestamp, p.Market, p.Token}] = &cp
	}
	return nil
}

// GetAt retrieves the basis price for (market, token) at or before ts.
// Returns ErrNotFound if no row exists at or before ts.
func (s *BasisPriceStore) GetAt(_ context.Context, market, token string, ts int64) (*domain.BasisPrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *domain.BasisPrice
	for key, p := range s.data {
		if key.Market != market || key.Token != token || key.Timestamp > ts {
			continue
		}
		if best == nil || key.Timestamp > best.Timestamp {
			best = p
		}
	}
	if best == nil {
		return nil, storage.ErrNotFound
	}

	cp := *best
	return &cp, nil
}

var _ storage.BasisPriceStore = (*BasisPriceStore)(nil)
