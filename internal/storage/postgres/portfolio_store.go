package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"lending-strategy-lab/internal/domain"
	"lending-strategy-lab/internal/storage"
)

// PortfolioStore implements storage.PortfolioStore using PostgreSQL.
type PortfolioStore struct {
	pool *Pool
}

// NewPortfolioStore creates a new PortfolioStore.
func NewPortfolioStore(pool *Pool) *PortfolioStore {
	return &PortfolioStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PortfolioStore = (*PortfolioStore)(nil)

// Insert adds a new portfolio. Returns ErrDuplicateKey if the ID exists.
func (s *PortfolioStore) Insert(ctx context.Context, p *domain.Portfolio) error {
	if p == nil || p.PortfolioID == "" {
		return storage.ErrInvalidInput
	}

	constraintSet, err := json.Marshal(p.Constraints)
	if err != nil {
		return fmt.Errorf("marshal constraints: %w", err)
	}
	tokenExposure, err := json.Marshal(p.TokenExposureUSD)
	if err != nil {
		return fmt.Errorf("marshal token exposure: %w", err)
	}
	protocolExposure, err := json.Marshal(p.ProtocolExposureUSD)
	if err != nil {
		return fmt.Errorf("marshal protocol exposure: %w", err)
	}

	query := `
		INSERT INTO portfolios (
			portfolio_id, created_at, constraint_set, position_ids,
			total_allocated_usd, token_exposure, protocol_exposure
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = s.pool.Exec(ctx, query,
		p.PortfolioID, p.CreatedAt, constraintSet, p.PositionIDs,
		p.TotalAllocatedUSD, tokenExposure, protocolExposure,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert portfolio: %w", err)
	}
	return nil
}

// GetByID retrieves a portfolio by ID. Returns ErrNotFound if absent.
func (s *PortfolioStore) GetByID(ctx context.Context, portfolioID string) (*domain.Portfolio, error) {
	query := `
		SELECT portfolio_id, created_at, constraint_set, position_ids,
		       total_allocated_usd, token_exposure, protocol_exposure
		FROM portfolios
		WHERE portfolio_id = $1
	`

	var p domain.Portfolio
	var constraintSet, tokenExposure, protocolExposure []byte

	err := s.pool.QueryRow(ctx, query, portfolioID).Scan(
		&p.PortfolioID, &p.CreatedAt, &constraintSet, &p.PositionIDs,
		&p.TotalAllocatedUSD, &tokenExposure, &protocolExposure,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get portfolio by id: %w", err)
	}

	if err := json.Unmarshal(constraintSet, &p.Constraints); err != nil {
		return nil, fmt.Errorf("unmarshal constraints: %w", err)
	}
	if err := json.Unmarshal(tokenExposure, &p.TokenExposureUSD); err != nil {
		return nil, fmt.Errorf("unmarshal token exposure: %w", err)
	}
	if err := json.Unmarshal(protocolExposure, &p.ProtocolExposureUSD); err != nil {
		return nil, fmt.Errorf("unmarshal protocol exposure: %w", err)
	}
	return &p, nil
}
