package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lending-strategy-lab/internal/domain"
	"lending-strategy-lab/internal/storage"
)

func createTestPosition(positionID, portfolioID string) *domain.Position {
	legs := []domain.LegState{
		{
			Leg:                  domain.Leg{Token: "USDC", Protocol: "drift", Side: domain.SideLend},
			Multiplier:           1.0,
			BaseAPR:              0.08,
			RewardAPR:            0.01,
			PriceUSD:             1.0,
			CollateralRatio:      0.85,
			LiquidationThreshold: 0.90,
			BorrowWeight:         1.0,
		},
		{
			Leg:                  domain.Leg{Token: "SOL", Protocol: "drift", Side: domain.SideBorrow},
			Multiplier:           0.64,
			BaseAPR:              0.05,
			RewardAPR:            0.0,
			PriceUSD:             150.0,
			BorrowFee:            0.001,
			CollateralRatio:      0.80,
			LiquidationThreshold: 0.85,
			BorrowWeight:         1.0,
		},
	}
	state := domain.StateSnapshot{
		Timestamp:   1_000_000,
		Legs:        legs,
		Multipliers: domain.Multipliers{LendA: 1.0, BorrowA: 0.64},
	}

	return &domain.Position{
		PositionID:  positionID,
		PortfolioID: portfolioID,
		Variant:     domain.VariantStablecoinLending,
		Status:      domain.StatusActive,
		CapitalUSD:  1000,
		Entry:       state,
		Live:        state,
		Version:     1,
		CreatedAt:   1_000_000,
	}
}

func TestPositionStore_InsertAndGetByID(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPositionStore(pool)

	pos := createTestPosition("pos-001", "pf-001")

	err := store.Insert(ctx, pos)
	require.NoError(t, err)

	retrieved, err := store.GetByID(ctx, "pos-001")
	require.NoError(t, err)

	assert.Equal(t, pos.PositionID, retrieved.PositionID)
	assert.Equal(t, pos.PortfolioID, retrieved.PortfolioID)
	assert.Equal(t, pos.Variant, retrieved.Variant)
	assert.Equal(t, pos.Status, retrieved.Status)
	assert.InDelta(t, pos.CapitalUSD, retrieved.CapitalUSD, 0.0001)
	assert.Equal(t, pos.Version, retrieved.Version)
	assert.Equal(t, pos.CreatedAt, retrieved.CreatedAt)
	assert.Nil(t, retrieved.ClosedAt)

	// Nested state round-trips through JSONB.
	require.Len(t, retrieved.Entry.Legs, 2)
	assert.Equal(t, pos.Entry.Legs[0].Leg, retrieved.Entry.Legs[0].Leg)
	assert.InDelta(t, pos.Entry.Legs[1].Multiplier, retrieved.Entry.Legs[1].Multiplier, 1e-12)
	assert.InDelta(t, pos.Entry.Legs[1].BorrowFee, retrieved.Entry.Legs[1].BorrowFee, 1e-12)
	assert.Equal(t, pos.Entry.Multipliers, retrieved.Entry.Multipliers)
	assert.Equal(t, pos.Live.Timestamp, retrieved.Live.Timestamp)
}

func TestPositionStore_InsertDuplicate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPositionStore(pool)

	pos := createTestPosition("pos-dup", "pf-001")

	err := store.Insert(ctx, pos)
	require.NoError(t, err)

	err = store.Insert(ctx, pos)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestPositionStore_GetByID_NotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPositionStore(pool)

	_, err := store.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPositionStore_InsertBulk_Atomic(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPositionStore(pool)

	existing := createTestPosition("pos-existing", "pf-001")
	require.NoError(t, store.Insert(ctx, existing))

	batch := []*domain.Position{
		createTestPosition("pos-new-1", "pf-002"),
		createTestPosition("pos-existing", "pf-002"), // conflicts
		createTestPosition("pos-new-2", "pf-002"),
	}

	err := store.InsertBulk(ctx, batch)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	// Nothing from the failed batch landed.
	_, err = store.GetByID(ctx, "pos-new-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.GetByID(ctx, "pos-new-2")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPositionStore_Update_VersionCheck(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPositionStore(pool)

	pos := createTestPosition("pos-upd", "pf-001")
	require.NoError(t, store.Insert(ctx, pos))

	pos.RebalanceCount = 1
	err := store.Update(ctx, pos, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pos.Version)

	retrieved, err := store.GetByID(ctx, "pos-upd")
	require.NoError(t, err)
	assert.Equal(t, int64(2), retrieved.Version)
	assert.Equal(t, 1, retrieved.RebalanceCount)

	// A writer holding the stale version loses.
	err = store.Update(ctx, pos, 1)
	assert.ErrorIs(t, err, storage.ErrVersionConflict)
}

func TestPositionStore_Update_NotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPositionStore(pool)

	pos := createTestPosition("pos-ghost", "pf-001")
	err := store.Update(ctx, pos, 1)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPositionStore_Update_ClosedAt(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPositionStore(pool)

	pos := createTestPosition("pos-close", "pf-001")
	require.NoError(t, store.Insert(ctx, pos))

	pos.Status = domain.StatusClosed
	pos.ClosedAt = ptr(int64(2_000_000))
	require.NoError(t, store.Update(ctx, pos, 1))

	retrieved, err := store.GetByID(ctx, "pos-close")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClosed, retrieved.Status)
	require.NotNil(t, retrieved.ClosedAt)
	assert.Equal(t, int64(2_000_000), *retrieved.ClosedAt)
}

func TestPositionStore_GetByStatus_Ordering(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPositionStore(pool)

	later := createTestPosition("pos-b", "pf-001")
	later.CreatedAt = 2_000_000
	earlier := createTestPosition("pos-a", "pf-001")
	earlier.CreatedAt = 1_000_000
	closed := createTestPosition("pos-c", "pf-001")
	closed.Status = domain.StatusClosed
	closed.ClosedAt = ptr(int64(3_000_000))

	require.NoError(t, store.Insert(ctx, later))
	require.NoError(t, store.Insert(ctx, earlier))
	require.NoError(t, store.Insert(ctx, closed))

	active, err := store.GetByStatus(ctx, domain.StatusActive)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "pos-a", active[0].PositionID)
	assert.Equal(t, "pos-b", active[1].PositionID)
}

func TestPositionStore_GetByPortfolio(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPositionStore(pool)

	require.NoError(t, store.Insert(ctx, createTestPosition("pos-1", "pf-x")))
	require.NoError(t, store.Insert(ctx, createTestPosition("pos-2", "pf-x")))
	require.NoError(t, store.Insert(ctx, createTestPosition("pos-3", "pf-y")))

	got, err := store.GetByPortfolio(ctx, "pf-x")
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, p := range got {
		assert.Equal(t, "pf-x", p.PortfolioID)
	}
}
