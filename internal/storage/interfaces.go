package storage

import (
	"context"

	"lending-strategy-lab/internal/domain"
)

// SnapshotStore provides access to market rate snapshot storage.
// Rows are append-only, uniquely keyed by (timestamp, protocol, token).
type SnapshotStore interface {
	// InsertBulk adds multiple snapshots. Fails entire batch on any duplicate
	// or validation error.
	InsertBulk(ctx context.Context, snapshots []*domain.RateSnapshot) error

	// GetAt retrieves the snapshot for (protocol, token) at or before ts.
	// Returns ErrNotFound if no snapshot exists at or before ts.
	GetAt(ctx context.Context, protocol, token string, ts int64) (*domain.RateSnapshot, error)

	// GetRange retrieves snapshots for (protocol, token) within [start, end]
	// (inclusive), ordered by timestamp ASC.
	GetRange(ctx context.Context, protocol, token string, start, end int64) ([]*domain.RateSnapshot, error)

	// GetByTimestamp retrieves all snapshots captured at exactly ts.
	GetByTimestamp(ctx context.Context, ts int64) ([]*domain.RateSnapshot, error)
}

// BasisPriceStore provides access to directional basis price storage.
// Rows are append-only, keyed by (timestamp, market, token).
type BasisPriceStore interface {
	// InsertBulk adds multiple basis prices. Fails entire batch on any
	// duplicate.
	InsertBulk(ctx context.Context, prices []*domain.BasisPrice) error

	// GetAt retrieves the basis price for (market, token) at or before ts.
	// Returns ErrNotFound if no row exists at or before ts.
	GetAt(ctx context.Context, market, token string, ts int64) (*domain.BasisPrice, error)
}

// PositionStore provides access to position records.
type PositionStore interface {
	// Insert adds a new position. Returns ErrDuplicateKey if the ID exists.
	Insert(ctx context.Context, p *domain.Position) error

	// InsertBulk adds multiple positions atomically: all legs of one
	// allocation commit land together or not at all.
	InsertBulk(ctx context.Context, positions []*domain.Position) error

	// GetByID retrieves a position by ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, positionID string) (*domain.Position, error)

	// Update replaces a position's mutable state if its stored version equals
	// expectedVersion, and bumps the version. Returns ErrVersionConflict
	// otherwise.
	Update(ctx context.Context, p *domain.Position, expectedVersion int64) error

	// GetByStatus retrieves all positions with the given status, ordered by
	// creation time ASC, position ID ASC.
	GetByStatus(ctx context.Context, status string) ([]*domain.Position, error)

	// GetByPortfolio retrieves all positions belonging to a portfolio.
	GetByPortfolio(ctx context.Context, portfolioID string) ([]*domain.Position, error)
}

// SegmentStore provides access to rebalance segment records.
// Segments are append-only, keyed by (position id, sequence number).
type SegmentStore interface {
	// Insert adds a new segment. Returns ErrDuplicateKey if (position id,
	// seq) exists.
	Insert(ctx context.Context, s *domain.RebalanceSegment) error

	// GetByPosition retrieves all segments for a position, ordered by seq ASC.
	GetByPosition(ctx context.Context, positionID string) ([]*domain.RebalanceSegment, error)

	// GetLast retrieves the highest-seq segment for a position.
	// Returns ErrNotFound if the position has no segments.
	GetLast(ctx context.Context, positionID string) (*domain.RebalanceSegment, error)
}

// PortfolioStore provides access to portfolio records.
type PortfolioStore interface {
	// Insert adds a new portfolio. Returns ErrDuplicateKey if the ID exists.
	Insert(ctx context.Context, p *domain.Portfolio) error

	// GetByID retrieves a portfolio by ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, portfolioID string) (*domain.Portfolio, error)
}
