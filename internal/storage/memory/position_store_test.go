package memory

import (
	"context"
	"errors"
	"testing"

	"lending-strategy-lab/internal/domain"
	"lending-strategy-lab/internal/storage"
)

func position(id string, createdAt int64) *domain.Position {
	return &domain.Position{
		PositionID: id,
		Variant:    domain.VariantStablecoinLending,
		Status:     domain.StatusActive,
		CapitalUSD: 1000,
		Entry: domain.StateSnapshot{
			Timestamp: createdAt,
			Legs: []domain.LegState{{
				Leg:        domain.Leg{Token: tokUSDC, Protocol: "drift", Side: domain.SideLend},
				Multiplier: 1,
				BaseAPR:    0.05,
				PriceUSD:   1.0,
			}},
			Multipliers: domain.Multipliers{LendA: 1},
		},
		Version:   1,
		CreatedAt: createdAt,
	}
}

func TestPositionStore_InsertAndGet(t *testing.T) {
	store := NewPositionStore()
	ctx := context.Background()

	p := position("pos-1", 100)
	p.Live = p.Entry

	if err := store.Insert(ctx, p); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := store.Insert(ctx, p); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("second Insert err = %v, want ErrDuplicateKey", err)
	}

	got, err := store.GetByID(ctx, "pos-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.CapitalUSD != 1000 || got.Status != domain.StatusActive {
		t.Errorf("got %+v", got)
	}

	if _, err := store.GetByID(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetByID(missing) err = %v, want ErrNotFound", err)
	}
}

func TestPositionStore_UpdateVersionCheck(t *testing.T) {
	store := NewPositionStore()
	ctx := context.Background()

	p := position("pos-1", 100)
	if err := store.Insert(ctx, p); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	p.RebalanceCount = 1
	if err := store.Update(ctx, p, 1); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if p.Version != 2 {
		t.Errorf("Version after update = %d, want 2", p.Version)
	}

	// A writer holding the stale version must be rejected.
	stale := position("pos-1", 100)
	stale.RebalanceCount = 99
	if err := store.Update(ctx, stale, 1); !errors.Is(err, storage.ErrVersionConflict) {
		t.Fatalf("stale Update err = %v, want ErrVersionConflict", err)
	}

	got, _ := store.GetByID(ctx, "pos-1")
	if got.RebalanceCount != 1 {
		t.Errorf("RebalanceCount = %d, stale write applied", got.RebalanceCount)
	}

	if err := store.Update(ctx, position("missing", 1), 1); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Update(missing) err = %v, want ErrNotFound", err)
	}
}

func TestPositionStore_InsertBulkAtomic(t *testing.T) {
	store := NewPositionStore()
	ctx := context.Background()

	if err := store.Insert(ctx, position("pos-1", 100)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := store.InsertBulk(ctx, []*domain.Position{
		position("pos-2", 200),
		position("pos-1", 300), // duplicate
	})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("err = %v, want ErrDuplicateKey", err)
	}

	if _, err := store.GetByID(ctx, "pos-2"); !errors.Is(err, storage.ErrNotFound) {
		t.Error("failed batch partially applied: pos-2 exists")
	}
}

func TestPositionStore_GetByStatusOrdering(t *testing.T) {
	store := NewPositionStore()
	ctx := context.Background()

	a := position("pos-b", 100)
	b := position("pos-a", 100)
	c := position("pos-c", 50)
	closed := position("pos-d", 10)
	closed.Status = domain.StatusClosed

	for _, p := range []*domain.Position{a, b, c, closed} {
		if err := store.Insert(ctx, p); err != nil {
			t.Fatalf("Insert %s: %v", p.PositionID, err)
		}
	}

	active, err := store.GetByStatus(ctx, domain.StatusActive)
	if err != nil {
		t.Fatalf("GetByStatus: %v", err)
	}
	if len(active) != 3 {
		t.Fatalf("got %d active, want 3", len(active))
	}
	// CreatedAt ASC, then PositionID ASC.
	wantOrder := []string{"pos-c", "pos-a", "pos-b"}
	for i, want := range wantOrder {
		if active[i].PositionID != want {
			t.Errorf("position %d = %s, want %s", i, active[i].PositionID, want)
		}
	}
}

func TestPositionStore_CloneIsolation(t *testing.T) {
	store := NewPositionStore()
	ctx := context.Background()

	p := position("pos-1", 100)
	if err := store.Insert(ctx, p); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	p.Entry.Legs[0].BaseAPR = 999

	got, _ := store.GetByID(ctx, "pos-1")
	if got.Entry.Legs[0].BaseAPR != 0.05 {
		t.Errorf("entry legs shared with caller: %v", got.Entry.Legs[0].BaseAPR)
	}
}
