package clickhouse

import (
	"context"
	"fmt"

	"lending-strategy-lab/internal/domain"
	"lending-strategy-lab/internal/storage"
)

// SnapshotStore implements storage.SnapshotStore using ClickHouse.
type SnapshotStore struct {
	conn *Conn
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(conn *Conn) *SnapshotStore {
	return &SnapshotStore{conn: conn}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

const snapshotColumns = `
	timestamp, protocol, token,
	lend_base_apr, lend_reward_apr, borrow_base_apr, borrow_reward_apr,
	collateral_ratio, liquidation_threshold, borrow_weight,
	price_usd, available_borrow_usd, borrow_fee
`

// InsertBulk adds multiple snapshots. Fails the entire batch on any
// validation error or duplicate (timestamp, protocol, token).
func (s *SnapshotStore) InsertBulk(ctx context.Context, snapshots []*domain.RateSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	// Check for intra-batch duplicates
	type key struct {
		ts       int64
		protocol string
		token    string
	}
	seen := make(map[key]struct{})
	for _, snap := range snapshots {
		if snap == nil {
			return storage.ErrInvalidInput
		}
		if err := snap.Validate(); err != nil {
			return storage.ErrInvalidInput
		}
		k := key{snap.Timestamp, snap.Protocol, snap.Token}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	// Check for duplicates against existing DB rows. MergeTree doesn't
	// enforce uniqueness, so this is the only guard.
	for _, snap := range snapshots {
		exists, err := s.exists(ctx, snap.Protocol, snap.Token, snap.Timestamp)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO rate_snapshots (`+snapshotColumns+`)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, snap := range snapshots {
		err = batch.Append(
			uint64(snap.Timestamp), snap.Protocol, snap.Token,
			snap.LendBaseAPR, snap.LendRewardAPR, snap.BorrowBaseAPR, snap.BorrowRewardAPR,
			snap.CollateralRatio, snap.LiquidationThreshold, snap.BorrowWeight,
			snap.PriceUSD, snap.AvailableBorrowUSD, snap.BorrowFee,
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

// GetAt retrieves the snapshot for (protocol, token) at or before ts.
func (s *SnapshotStore) GetAt(ctx context.Context, protocol, token string, ts int64) (*domain.RateSnapshot, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM rate_snapshots
		WHERE protocol = ? AND token = ? AND timestamp <= ?
		ORDER BY timestamp DESC
		LIMIT 1
	`

	rows, err := s.conn.Query(ctx, query, protocol, token, uint64(ts))
	if err != nil {
		return nil, fmt.Errorf("query snapshot at: %w", err)
	}
	defer rows.Close()

	snaps, err := scanSnapshots(rows)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, storage.ErrNotFound
	}
	return snaps[0], nil
}

// GetRange retrieves snapshots for (protocol, token) within [start, end]
// inclusive, ordered by timestamp ASC.
func (s *SnapshotStore) GetRange(ctx context.Context, protocol, token string, start, end int64) ([]*domain.RateSnapshot, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM rate_snapshots
		WHERE protocol = ? AND token = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`

	rows, err := s.conn.Query(ctx, query, protocol, token, uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query snapshot range: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// GetByTimestamp retrieves all snapshots captured at exactly ts, ordered by
// protocol then token.
func (s *SnapshotStore) GetByTimestamp(ctx context.Context, ts int64) ([]*domain.RateSnapshot, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM rate_snapshots
		WHERE timestamp = ?
		ORDER BY protocol ASC, token ASC
	`

	rows, err := s.conn.Query(ctx, query, uint64(ts))
	if err != nil {
		return nil, fmt.Errorf("query snapshots by timestamp: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// exists checks if a snapshot with the given key exists.
func (s *SnapshotStore) exists(ctx context.Context, protocol, token string, ts int64) (bool, error) {
	query := `
		SELECT count(*) FROM rate_snapshots
		WHERE protocol = ? AND token = ? AND timestamp = ?
	`

	var count uint64
	err := s.conn.QueryRow(ctx, query, protocol, token, uint64(ts)).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// scanSnapshots scans multiple rows.
func scanSnapshots(rows chRows) ([]*domain.RateSnapshot, error) {
	var snaps []*domain.RateSnapshot

	for rows.Next() {
		var snap domain.RateSnapshot
		var ts uint64

		err := rows.Scan(
			&ts, &snap.Protocol, &snap.Token,
			&snap.LendBaseAPR, &snap.LendRewardAPR, &snap.BorrowBaseAPR, &snap.BorrowRewardAPR,
			&snap.CollateralRatio, &snap.LiquidationThreshold, &snap.BorrowWeight,
			&snap.PriceUSD, &snap.AvailableBorrowUSD, &snap.BorrowFee,
		)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}

		snap.Timestamp = int64(ts)
		snaps = append(snaps, &snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot rows: %w", err)
	}

	return snaps, nil
}
