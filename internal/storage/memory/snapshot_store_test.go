package memory

import (
	"context"
	"errors"
	"testing"

	"lending-strategy-lab/internal/domain"
	"lending-strategy-lab/internal/storage"
)

const (
	tokUSDC = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	tokSOL  = "So11111111111111111111111111111111111111112"
)

func snap(ts int64, protocol, token string, lendAPR float64) *domain.RateSnapshot {
	return &domain.RateSnapshot{
		Timestamp:            ts,
		Protocol:             protocol,
		Token:                token,
		LendBaseAPR:          lendAPR,
		CollateralRatio:      0.70,
		LiquidationThreshold: 0.75,
		BorrowWeight:         1.0,
		PriceUSD:             1.0,
	}
}

func TestSnapshotStore_InsertBulkAndGetAt(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()

	err := store.InsertBulk(ctx, []*domain.RateSnapshot{
		snap(100, "drift", tokUSDC, 0.05),
		snap(200, "drift", tokUSDC, 0.06),
		snap(300, "drift", tokUSDC, 0.07),
	})
	if err != nil {
		t.Fatalf("InsertBulk: %v", err)
	}

	// Exact hit.
	got, err := store.GetAt(ctx, "drift", tokUSDC, 200)
	if err != nil {
		t.Fatalf("GetAt: %v", err)
	}
	if got.LendBaseAPR != 0.06 {
		t.Errorf("GetAt(200) APR = %v, want 0.06", got.LendBaseAPR)
	}

	// Between rows: at-or-before wins.
	got, err = store.GetAt(ctx, "drift", tokUSDC, 250)
	if err != nil {
		t.Fatalf("GetAt: %v", err)
	}
	if got.Timestamp != 200 {
		t.Errorf("GetAt(250) ts = %d, want 200", got.Timestamp)
	}

	// Before all rows: never extrapolated backwards.
	if _, err = store.GetAt(ctx, "drift", tokUSDC, 50); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetAt(50) err = %v, want ErrNotFound", err)
	}
}

func TestSnapshotStore_InsertBulkDuplicateFailsBatch(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()

	if err := store.InsertBulk(ctx, []*domain.RateSnapshot{snap(100, "drift", tokUSDC, 0.05)}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := store.InsertBulk(ctx, []*domain.RateSnapshot{
		snap(200, "drift", tokUSDC, 0.06),
		snap(100, "drift", tokUSDC, 0.09), // dup of seeded row
	})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("err = %v, want ErrDuplicateKey", err)
	}

	// Nothing from the failed batch may have landed.
	if _, err := store.GetAt(ctx, "drift", tokUSDC, 200); err == nil {
		got, _ := store.GetAt(ctx, "drift", tokUSDC, 200)
		if got.Timestamp == 200 {
			t.Error("failed batch partially applied")
		}
	}
}

func TestSnapshotStore_GetRangeOrdered(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()

	err := store.InsertBulk(ctx, []*domain.RateSnapshot{
		snap(300, "drift", tokSOL, 0.07),
		snap(100, "drift", tokSOL, 0.05),
		snap(200, "drift", tokSOL, 0.06),
		snap(200, "kamino", tokSOL, 0.04),
	})
	if err != nil {
		t.Fatalf("InsertBulk: %v", err)
	}

	rows, err := store.GetRange(ctx, "drift", tokSOL, 100, 250)
	if err != nil {
		t.Fatalf("GetRange: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].Timestamp != 100 || rows[1].Timestamp != 200 {
		t.Errorf("rows out of order: %d, %d", rows[0].Timestamp, rows[1].Timestamp)
	}
}

func TestSnapshotStore_DefensiveCopies(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()

	original := snap(100, "drift", tokUSDC, 0.05)
	if err := store.InsertBulk(ctx, []*domain.RateSnapshot{original}); err != nil {
		t.Fatalf("InsertBulk: %v", err)
	}

	original.LendBaseAPR = 999

	got, err := store.GetAt(ctx, "drift", tokUSDC, 100)
	if err != nil {
		t.Fatalf("GetAt: %v", err)
	}
	if got.LendBaseAPR != 0.05 {
		t.Errorf("store shares memory with caller: APR = %v", got.LendBaseAPR)
	}

	got.LendBaseAPR = 777
	again, _ := store.GetAt(ctx, "drift", tokUSDC, 100)
	if again.LendBaseAPR != 0.05 {
		t.Errorf("returned row shares memory with store: APR = %v", again.LendBaseAPR)
	}
}

func TestSnapshotStore_RejectsInvalidRows(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()

	bad := snap(100, "drift", tokUSDC, 0.05)
	bad.LiquidationThreshold = 0.50 // below collateral ratio

	if err := store.InsertBulk(ctx, []*domain.RateSnapshot{bad}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}
