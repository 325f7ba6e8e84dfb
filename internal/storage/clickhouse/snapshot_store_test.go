package clickhouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lending-strategy-lab/internal/domain"
	"lending-strategy-lab/internal/storage"
)

const (
	testTokenUSDC = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	testTokenSOL  = "So11111111111111111111111111111111111111112"
)

func createTestSnapshot(ts int64, protocol, token string) *domain.RateSnapshot {
	return &domain.RateSnapshot{
		Timestamp:            ts,
		Protocol:             protocol,
		Token:                token,
		LendBaseAPR:          0.08,
		LendRewardAPR:        0.01,
		BorrowBaseAPR:        0.12,
		BorrowRewardAPR:      0.005,
		CollateralRatio:      0.80,
		LiquidationThreshold: 0.85,
		BorrowWeight:         1.0,
		PriceUSD:             1.0,
		AvailableBorrowUSD:   500_000,
		BorrowFee:            0.001,
	}
}

func TestSnapshotStore_InsertBulkAndGetAt(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewSnapshotStore(conn)

	err := store.InsertBulk(ctx, []*domain.RateSnapshot{
		createTestSnapshot(1000, "drift", testTokenUSDC),
		createTestSnapshot(2000, "drift", testTokenUSDC),
		createTestSnapshot(1000, "kamino", testTokenUSDC),
	})
	require.NoError(t, err)

	// Exact hit.
	snap, err := store.GetAt(ctx, "drift", testTokenUSDC, 2000)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), snap.Timestamp)
	assert.InDelta(t, 0.08, snap.LendBaseAPR, 1e-12)
	assert.InDelta(t, 0.85, snap.LiquidationThreshold, 1e-12)

	// At-or-before picks the latest row not after ts.
	snap, err = store.GetAt(ctx, "drift", testTokenUSDC, 1500)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), snap.Timestamp)

	// Nothing at or before the first row.
	_, err = store.GetAt(ctx, "drift", testTokenUSDC, 999)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSnapshotStore_InsertBulk_Duplicate(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewSnapshotStore(conn)

	require.NoError(t, store.InsertBulk(ctx, []*domain.RateSnapshot{
		createTestSnapshot(1000, "drift", testTokenUSDC),
	}))

	// Against existing rows.
	err := store.InsertBulk(ctx, []*domain.RateSnapshot{
		createTestSnapshot(1000, "drift", testTokenUSDC),
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	// Within the batch.
	err = store.InsertBulk(ctx, []*domain.RateSnapshot{
		createTestSnapshot(3000, "drift", testTokenUSDC),
		createTestSnapshot(3000, "drift", testTokenUSDC),
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestSnapshotStore_InsertBulk_Invalid(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewSnapshotStore(conn)

	bad := createTestSnapshot(1000, "drift", testTokenUSDC)
	bad.LiquidationThreshold = 0.70 // below collateral ratio

	err := store.InsertBulk(ctx, []*domain.RateSnapshot{bad})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestSnapshotStore_GetRange(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewSnapshotStore(conn)

	require.NoError(t, store.InsertBulk(ctx, []*domain.RateSnapshot{
		createTestSnapshot(1000, "drift", testTokenSOL),
		createTestSnapshot(2000, "drift", testTokenSOL),
		createTestSnapshot(3000, "drift", testTokenSOL),
		createTestSnapshot(2000, "kamino", testTokenSOL),
	}))

	// Bounds are inclusive; other protocols are excluded.
	snaps, err := store.GetRange(ctx, "drift", testTokenSOL, 1000, 2000)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, int64(1000), snaps[0].Timestamp)
	assert.Equal(t, int64(2000), snaps[1].Timestamp)
}

func TestSnapshotStore_GetByTimestamp(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewSnapshotStore(conn)

	require.NoError(t, store.InsertBulk(ctx, []*domain.RateSnapshot{
		createTestSnapshot(1000, "kamino", testTokenUSDC),
		createTestSnapshot(1000, "drift", testTokenUSDC),
		createTestSnapshot(1000, "drift", testTokenSOL),
		createTestSnapshot(2000, "drift", testTokenUSDC),
	}))

	snaps, err := store.GetByTimestamp(ctx, 1000)
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	// Ordered by protocol then token.
	assert.Equal(t, "drift", snaps[0].Protocol)
	assert.Equal(t, "drift", snaps[1].Protocol)
	assert.Equal(t, "kamino", snaps[2].Protocol)
}
