package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"lending-strategy-lab/internal/domain"
	"lending-strategy-lab/internal/storage"
)

// SegmentStore implements storage.SegmentStore using PostgreSQL. Rows are
// append-only; the schema has no update path.
type SegmentStore struct {
	pool *Pool
}

// NewSegmentStore creates a new SegmentStore.
func NewSegmentStore(pool *Pool) *SegmentStore {
	return &SegmentStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SegmentStore = (*SegmentStore)(nil)

const segmentColumns = `
	position_id, seq, opened_at, closed_at, opening, closing, realized, reason
`

// Insert adds a new segment. Returns ErrDuplicateKey if (position_id, seq)
// exists.
func (s *SegmentStore) Insert(ctx context.Context, seg *domain.RebalanceSegment) error {
	if seg == nil || seg.PositionID == "" || seg.Seq < 1 {
		return storage.ErrInvalidInput
	}

	opening, err := json.Marshal(seg.Opening)
	if err != nil {
		return fmt.Errorf("marshal opening legs: %w", err)
	}
	closing, err := json.Marshal(seg.Closing)
	if err != nil {
		return fmt.Errorf("marshal closing legs: %w", err)
	}
	realized, err := json.Marshal(seg.Realized)
	if err != nil {
		return fmt.Errorf("marshal realized pnl: %w", err)
	}

	query := `
		INSERT INTO rebalance_segments (
			position_id, seq, opened_at, closed_at, opening, closing, realized, reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = s.pool.Exec(ctx, query,
		seg.PositionID, seg.Seq, seg.OpenedAt, seg.ClosedAt,
		opening, closing, realized, seg.Reason,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert segment: %w", err)
	}
	return nil
}

// GetByPosition retrieves all segments for a position, ordered by seq ASC.
func (s *SegmentStore) GetByPosition(ctx context.Context, positionID string) ([]*domain.RebalanceSegment, error) {
	query := `SELECT ` + segmentColumns + `
		FROM rebalance_segments
		WHERE position_id = $1
		ORDER BY seq ASC`

	rows, err := s.pool.Query(ctx, query, positionID)
	if err != nil {
		return nil, fmt.Errorf("query segments by position: %w", err)
	}
	defer rows.Close()

	var result []*domain.RebalanceSegment
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		result = append(result, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate segments: %w", err)
	}
	return result, nil
}

// GetLast retrieves the highest-seq segment for a position. Returns
// ErrNotFound if the position has no segments.
func (s *SegmentStore) GetLast(ctx context.Context, positionID string) (*domain.RebalanceSegment, error) {
	query := `SELECT ` + segmentColumns + `
		FROM rebalance_segments
		WHERE position_id = $1
		ORDER BY seq DESC
		LIMIT 1`

	seg, err := scanSegment(s.pool.QueryRow(ctx, query, positionID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get last segment: %w", err)
	}
	return seg, nil
}

func scanSegment(row pgx.Row) (*domain.RebalanceSegment, error) {
	var seg domain.RebalanceSegment
	var opening, closing, realized []byte

	err := row.Scan(
		&seg.PositionID, &seg.Seq, &seg.OpenedAt, &seg.ClosedAt,
		&opening, &closing, &realized, &seg.Reason,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(opening, &seg.Opening); err != nil {
		return nil, fmt.Errorf("unmarshal opening legs: %w", err)
	}
	if err := json.Unmarshal(closing, &seg.Closing); err != nil {
		return nil, fmt.Errorf("unmarshal closing legs: %w", err)
	}
	if err := json.Unmarshal(realized, &seg.Realized); err != nil {
		return nil, fmt.Errorf("unmarshal realized pnl: %w", err)
	}
	return &seg, nil
}
