package memory

import (
	"context"
	"errors"
	"testing"

	"lending-strategy-lab/internal/domain"
	"lending-strategy-lab/internal/storage"
)

func basisRow(ts int64, market, token string, bid, ask float64) *domain.BasisPrice {
	return &domain.BasisPrice{
		Timestamp: ts,
		Market:    market,
		Token:     token,
		SpotBid:   bid,
		SpotAsk:   ask,
		PerpBid:   bid,
		PerpAsk:   ask,
	}
}

func TestBasisPriceStore_InsertBulkAndGetAt(t *testing.T) {
	store := NewBasisPriceStore()
	ctx := context.Background()

	err := store.InsertBulk(ctx, []*domain.BasisPrice{
		basisRow(100, "drift-perp", tokSOL, 150.1, 150.5),
		basisRow(200, "drift-perp", tokSOL, 151.1, 151.5),
	})
	if err != nil {
		t.Fatalf("InsertBulk: %v", err)
	}

	// Exact hit.
	got, err := store.GetAt(ctx, "drift-perp", tokSOL, 200)
	if err != nil {
		t.Fatalf("GetAt: %v", err)
	}
	if got.PerpBid != 151.1 {
		t.Errorf("GetAt(200) bid = %v, want 151.1", got.PerpBid)
	}

	// Between rows: at-or-before wins.
	got, err = store.GetAt(ctx, "drift-perp", tokSOL, 150)
	if err != nil {
		t.Fatalf("GetAt: %v", err)
	}
	if got.Timestamp != 100 {
		t.Errorf("GetAt(150) ts = %d, want 100", got.Timestamp)
	}

	// Before all rows.
	if _, err = store.GetAt(ctx, "drift-perp", tokSOL, 50); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetAt(50) err = %v, want ErrNotFound", err)
	}

	// Unknown market.
	if _, err = store.GetAt(ctx, "jupiter-perp", tokSOL, 200); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetAt unknown market err = %v, want ErrNotFound", err)
	}
}

func TestBasisPriceStore_InsertBulkDuplicateFailsBatch(t *testing.T) {
	store := NewBasisPriceStore()
	ctx := context.Background()

	if err := store.InsertBulk(ctx, []*domain.BasisPrice{basisRow(100, "drift-perp", tokSOL, 150, 151)}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := store.InsertBulk(ctx, []*domain.BasisPrice{
		basisRow(200, "drift-perp", tokSOL, 152, 153),
		basisRow(100, "drift-perp", tokSOL, 999, 999), // dup of seeded row
	})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("err = %v, want ErrDuplicateKey", err)
	}

	// Nothing from the failed batch may have landed.
	if got, err := store.GetAt(ctx, "drift-perp", tokSOL, 200); err == nil && got.Timestamp == 200 {
		t.Error("failed batch partially applied")
	}
}

func TestBasisPriceStore_IntraBatchDuplicate(t *testing.T) {
	store := NewBasisPriceStore()
	ctx := context.Background()

	err := store.InsertBulk(ctx, []*domain.BasisPrice{
		basisRow(100, "drift-perp", tokSOL, 150, 151),
		basisRow(100, "drift-perp", tokSOL, 150, 151),
	})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("err = %v, want ErrDuplicateKey", err)
	}
}

func TestBasisPriceStore_RejectsInvalidRows(t *testing.T) {
	store := NewBasisPriceStore()
	ctx := context.Background()

	bad := basisRow(100, "", tokSOL, 150, 151) // empty market
	if err := store.InsertBulk(ctx, []*domain.BasisPrice{bad}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}

	if err := store.InsertBulk(ctx, []*domain.BasisPrice{nil}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("nil row err = %v, want ErrInvalidInput", err)
	}
}

func TestBasisPriceStore_DefensiveCopies(t *testing.T) {
	store := NewBasisPriceStore()
	ctx := context.Background()

	original := basisRow(100, "drift-perp", tokSOL, 150.1, 150.5)
	if err := store.InsertBulk(ctx, []*domain.BasisPrice{original}); err != nil {
		t.Fatalf("InsertBulk: %v", err)
	}

	original.PerpBid = 999

	got, err := store.GetAt(ctx, "drift-perp", tokSOL, 100)
	if err != nil {
		t.Fatalf("GetAt: %v", err)
	}
	if got.PerpBid != 150.1 {
		t.Errorf("store shares memory with caller: bid = %v", got.PerpBid)
	}

	got.PerpBid = 777
	again, _ := store.GetAt(ctx, "drift-perp", tokSOL, 100)
	if again.PerpBid != 150.1 {
		t.Errorf("returned row shares memory with store: bid = %v", again.PerpBid)
	}
}
