package memory

import (
	"context"
	"sync"

	"lending-strategy-lab/internal/domain"
	"lending-strategy-lab/internal/storage"
)

// PortfolioStore is an in-memory implementation of storage.PortfolioStore.
type PortfolioStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Portfolio // keyed by portfolio_id
}

// NewPortfolioStore creates a new in-memory portfolio store.
func NewPortfolioStore() *PortfolioStore {
	return &PortfolioStore{
		data: make(map[string]*domain.Portfolio),
	}
}

func clonePortfolio(p *domain.Portfolio) *domain.Portfolio {
	cp := *p
	cp.PositionIDs = append([]string(nil), p.PositionIDs...)
	if p.TokenExposureUSD != nil {
		cp.TokenExposureUSD = make(map[string]float64, len(p.TokenExposureUSD))
		for k, v := range p.TokenExposureUSD {
			cp.TokenExposureUSD[k] = v
		}
	}
	if p.ProtocolExposureUSD != nil {
		cp.ProtocolExposureUSD = make(map[string]float64, len(p.ProtocolExposureUSD))
		for k, v := range p.ProtocolExposureUSD {
			cp.ProtocolExposureUSD[k] = v
		}
	}
	return &cp
}

// Insert adds a new portfolio. Returns ErrDuplicateKey if the ID exists.
func (s *PortfolioStore) Insert(_ context.Context, p *domain.Portfolio) error {
	if p == nil || p.PortfolioID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[p.PortfolioID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[p.PortfolioID] = clonePortfolio(p)
	return nil
}

// GetByID retrieves a portfolio by ID. Returns ErrNotFound if not exists.
func (s *PortfolioStore) GetByID(_ context.Context, portfolioID string) (*domain.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.data[portfolioID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return clonePortfolio(p), nil
}

var _ storage.PortfolioStore = (*PortfolioStore)(nil)
