package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"lending-strategy-lab/internal/domain"
	"lending-strategy-lab/internal/storage"
)

// PositionStore implements storage.PositionStore using PostgreSQL. The
// nested entry/live/realized state travels as JSONB; everything the queries
// filter or order on is a scalar column.
type PositionStore struct {
	pool *Pool
}

// NewPositionStore creates a new PositionStore.
func NewPositionStore(pool *Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PositionStore = (*PositionStore)(nil)

const positionColumns = `
	position_id, portfolio_id, variant, status, capital_usd,
	entry_state, live_state, realized,
	rebalance_count, version, created_at, closed_at
`

const insertPositionQuery = `
	INSERT INTO positions (
		position_id, portfolio_id, variant, status, capital_usd,
		entry_state, live_state, realized,
		rebalance_count, version, created_at, closed_at
	) VALUES (
		$1, $2, $3, $4, $5,
		$6, $7, $8,
		$9, $10, $11, $12
	)
`

type positionJSON struct {
	entry    []byte
	live     []byte
	realized []byte
}

func marshalPosition(p *domain.Position) (positionJSON, error) {
	var out positionJSON
	var err error
	if out.entry, err = json.Marshal(p.Entry); err != nil {
		return out, fmt.Errorf("marshal entry state: %w", err)
	}
	if out.live, err = json.Marshal(p.Live); err != nil {
		return out, fmt.Errorf("marshal live state: %w", err)
	}
	if out.realized, err = json.Marshal(p.Realized); err != nil {
		return out, fmt.Errorf("marshal realized pnl: %w", err)
	}
	return out, nil
}

func insertArgs(p *domain.Position, j positionJSON) []any {
	return []any{
		p.PositionID, p.PortfolioID, p.Variant, p.Status, p.CapitalUSD,
		j.entry, j.live, j.realized,
		p.RebalanceCount, p.Version, p.CreatedAt, p.ClosedAt,
	}
}

// Insert adds a new position. Returns ErrDuplicateKey if position_id exists.
func (s *PositionStore) Insert(ctx context.Context, p *domain.Position) error {
	if p == nil || p.PositionID == "" {
		return storage.ErrInvalidInput
	}

	j, err := marshalPosition(p)
	if err != nil {
		return err
	}

	if _, err := s.pool.Exec(ctx, insertPositionQuery, insertArgs(p, j)...); err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert position: %w", err)
	}
	return nil
}

// InsertBulk adds multiple positions in one transaction: the whole batch
// lands or none of it does.
func (s *PositionStore) InsertBulk(ctx context.Context, positions []*domain.Position) error {
	if len(positions) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, p := range positions {
		if p == nil || p.PositionID == "" {
			return storage.ErrInvalidInput
		}
		j, err := marshalPosition(p)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, insertPositionQuery, insertArgs(p, j)...); err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert position in bulk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByID retrieves a position by ID. Returns ErrNotFound if not exists.
func (s *PositionStore) GetByID(ctx context.Context, positionID string) (*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE position_id = $1`

	row := s.pool.QueryRow(ctx, query, positionID)
	p, err := scanPosition(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get position by id: %w", err)
	}
	return p, nil
}

// Update replaces a position's mutable state if its stored version equals
// expectedVersion, bumping the version. Returns ErrVersionConflict when the
// stored version moved, ErrNotFound when the row does not exist.
func (s *PositionStore) Update(ctx context.Context, p *domain.Position, expectedVersion int64) error {
	if p == nil || p.PositionID == "" {
		return storage.ErrInvalidInput
	}

	j, err := marshalPosition(p)
	if err != nil {
		return err
	}

	query := `
		UPDATE positions SET
			portfolio_id = $2, status = $3, capital_usd = $4,
			live_state = $5, realized = $6,
			rebalance_count = $7, version = version + 1, closed_at = $8
		WHERE position_id = $1 AND version = $9
	`

	tag, err := s.pool.Exec(ctx, query,
		p.PositionID, p.PortfolioID, p.Status, p.CapitalUSD,
		j.live, j.realized,
		p.RebalanceCount, p.ClosedAt, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing row from a lost race.
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM positions WHERE position_id = $1)`,
			p.PositionID).Scan(&exists); err != nil {
			return fmt.Errorf("check position exists: %w", err)
		}
		if !exists {
			return storage.ErrNotFound
		}
		return storage.ErrVersionConflict
	}

	p.Version = expectedVersion + 1
	return nil
}

// GetByStatus retrieves all positions with the given status, ordered by
// creation time ASC, position ID ASC.
func (s *PositionStore) GetByStatus(ctx context.Context, status string) ([]*domain.Position, error) {
	query := `SELECT ` + positionColumns + `
		FROM positions
		WHERE status = $1
		ORDER BY created_at ASC, position_id ASC`

	rows, err := s.pool.Query(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("query positions by status: %w", err)
	}
	defer rows.Close()

	return scanPositions(rows)
}

// GetByPortfolio retrieves all positions belonging to a portfolio, ordered
// by creation time ASC, position ID ASC.
func (s *PositionStore) GetByPortfolio(ctx context.Context, portfolioID string) ([]*domain.Position, error) {
	query := `SELECT ` + positionColumns + `
		FROM positions
		WHERE portfolio_id = $1
		ORDER BY created_at ASC, position_id ASC`

	rows, err := s.pool.Query(ctx, query, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("query positions by portfolio: %w", err)
	}
	defer rows.Close()

	return scanPositions(rows)
}

func scanPosition(row pgx.Row) (*domain.Position, error) {
	var p domain.Position
	var entry, live, realized []byte

	err := row.Scan(
		&p.PositionID, &p.PortfolioID, &p.Variant, &p.Status, &p.CapitalUSD,
		&entry, &live, &realized,
		&p.RebalanceCount, &p.Version, &p.CreatedAt, &p.ClosedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(entry, &p.Entry); err != nil {
		return nil, fmt.Errorf("unmarshal entry state: %w", err)
	}
	if err := json.Unmarshal(live, &p.Live); err != nil {
		return nil, fmt.Errorf("unmarshal live state: %w", err)
	}
	if err := json.Unmarshal(realized, &p.Realized); err != nil {
		return nil, fmt.Errorf("unmarshal realized pnl: %w", err)
	}
	return &p, nil
}

func scanPositions(rows pgx.Rows) ([]*domain.Position, error) {
	var result []*domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate positions: %w", err)
	}
	return result, nil
}
