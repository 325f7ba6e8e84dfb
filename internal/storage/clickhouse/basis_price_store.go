package clickhouse

import (
	"context"
	"fmt"

	"lending-strategy-lab/internal/domain"
	"lending-strategy-lab/internal/storage"
)

// BasisPriceStore implements storage.BasisPriceStore using ClickHouse.
type BasisPriceStore struct {
	conn *Conn
}

// NewBasisPriceStore creates a new BasisPriceStore.
func NewBasisPriceStore(conn *Conn) *BasisPriceStore {
	return &BasisPriceStore{conn: conn}
}

// Compile-time interface check.
var _ storage.BasisPriceStore = (*BasisPriceStore)(nil)

const basisPriceColumns = `
	timestamp, market, token, spot_bid, spot_ask, perp_bid, perp_ask
`

// InsertBulk adds multiple basis prices. Fails the entire batch on any
// validation error or duplicate (timestamp, market, token).
func (s *BasisPriceStore) InsertBulk(ctx context.Context, prices []*domain.BasisPrice) error {
	if len(prices) == 0 {
		return nil
	}

	// Check for intra-batch duplicates
	type key struct {
		ts     int64
		market string
		token  string
	}
	seen := make(map[key]struct{})
	for _, p := range prices {
		if p == nil {
			return storage.ErrInvalidInput
		}
		if err := p.Validate(); err != nil {
			return storage.ErrInvalidInput
		}
		k := key{p.Timestamp, p.Market, p.Token}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	for _, p := range prices {
		exists, err := s.exists(ctx, p.Market, p.Token, p.Timestamp)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO basis_prices (`+basisPriceColumns+`)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range prices {
		err = batch.Append(
			uint64(p.Timestamp), p.Market, p.Token,
			p.SpotBid, p.SpotAsk, p.PerpBid, p.PerpAsk,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetAt retrieves the basis price for (market, token) at or before ts.
func (s *BasisPriceStore) GetAt(ctx context.Context, market, token string, ts int64) (*domain.BasisPrice, error) {
	query := `
		SELECT ` + basisPriceColumns + `
		FROM basis_prices
		WHERE market = ? AND token = ? AND timestamp <= ?
		ORDER BY timestamp DESC
		LIMIT 1
	`

	rows, err := s.conn.Query(ctx, query, market, token, uint64(ts))
	if err != nil {
		return nil, fmt.Errorf("query basis price at: %w", err)
	}
	defer rows.Close()

	var result *domain.BasisPrice
	for rows.Next() {
		var p domain.BasisPrice
		var rowTS uint64
		err := rows.Scan(
			&rowTS, &p.Market, &p.Token,
			&p.SpotBid, &p.SpotAsk, &p.PerpBid, &p.PerpAsk,
		)
		if err != nil {
			return nil, fmt.Errorf("scan basis price row: %w", err)
		}
		p.Timestamp = int64(rowTS)
		result = &p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate basis price rows: %w", err)
	}
	if result == nil {
		return nil, storage.ErrNotFound
	}
	return result, nil
}

// exists checks if a basis price with the given key exists.
func (s *BasisPriceStore) exists(ctx context.Context, market, token string, ts int64) (bool, error) {
	query := `
		SELECT count(*) FROM basis_prices
		WHERE market = ? AND token = ? AND timestamp = ?
	`

	var count uint64
	err := s.conn.QueryRow(ctx, query, market, token, uint64(ts)).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
