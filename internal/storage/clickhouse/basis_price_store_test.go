package clickhouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lending-strategy-lab/internal/domain"
	"lending-strategy-lab/internal/storage"
)

func createTestBasisPrice(ts int64, market, token string) *domain.BasisPrice {
	return &domain.BasisPrice{
		Timestamp: ts,
		Market:    market,
		Token:     token,
		SpotBid:   149.8,
		SpotAsk:   150.2,
		PerpBid:   150.1,
		PerpAsk:   150.5,
	}
}

func TestBasisPriceStore_InsertBulkAndGetAt(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewBasisPriceStore(conn)

	err := store.InsertBulk(ctx, []*domain.BasisPrice{
		createTestBasisPrice(1000, "drift-perp", testTokenSOL),
		createTestBasisPrice(2000, "drift-perp", testTokenSOL),
	})
	require.NoError(t, err)

	p, err := store.GetAt(ctx, "drift-perp", testTokenSOL, 1500)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), p.Timestamp)
	assert.InDelta(t, 150.1, p.PerpBid, 1e-12)
	assert.InDelta(t, 150.5, p.PerpAsk, 1e-12)

	_, err = store.GetAt(ctx, "drift-perp", testTokenSOL, 999)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = store.GetAt(ctx, "other-perp", testTokenSOL, 1500)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestBasisPriceStore_InsertBulk_Duplicate(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewBasisPriceStore(conn)

	require.NoError(t, store.InsertBulk(ctx, []*domain.BasisPrice{
		createTestBasisPrice(1000, "drift-perp", testTokenSOL),
	}))

	err := store.InsertBulk(ctx, []*domain.BasisPrice{
		createTestBasisPrice(1000, "drift-perp", testTokenSOL),
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	err = store.InsertBulk(ctx, []*domain.BasisPrice{
		createTestBasisPrice(2000, "drift-perp", testTokenSOL),
		createTestBasisPrice(2000, "drift-perp", testTokenSOL),
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestBasisPriceStore_InsertBulk_Invalid(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewBasisPriceStore(conn)

	bad := createTestBasisPrice(1000, "", testTokenSOL)

	err := store.InsertBulk(ctx, []*domain.BasisPrice{bad})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
