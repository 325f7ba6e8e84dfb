package cmd

import (
	"context"
	"fmt"

	"lending-strategy-lab/internal/config"
	"lending-strategy-lab/internal/storage"
	"lending-strategy-lab/internal/storage/clickhouse"
	"lending-strategy-lab/internal/storage/memory"
	"lending-strategy-lab/internal/storage/migrations"
	"lending-strategy-lab/internal/storage/postgres"
)

// stores bundles every store the commands need, regardless of backend.
type stores struct {
	snapshots  storage.SnapshotStore
	basis      storage.BasisPriceStore
	positions  storage.PositionStore
	segments   storage.SegmentStore
	portfolios storage.PortfolioStore

	close func()
}

// openStores wires the storage backend selected in the config. The db
// backend runs migrations on both databases before returning.
func openStores(ctx context.Context) (*stores, error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		return &stores{
			snapshots:  memory.NewSnapshotStore(),
			basis:      memory.NewBasisPriceStore(),
			positions:  memory.NewPositionStore(),
			segments:   memory.NewSegmentStore(),
			portfolios: memory.NewPortfolioStore(),
			close:      func() {},
		}, nil

	case config.BackendDB:
		pgDSN, err := cfg.Storage.PostgresDSN()
		if err != nil {
			return nil, err
		}
		chDSN, err := cfg.Storage.ClickhouseDSN()
		if err != nil {
			return nil, err
		}

		pool, err := postgres.NewPool(ctx, pgDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}

		conn, err := migrations.RunClickhouseMigrations(ctx, chDSN)
		if err != nil {
			pool.Close()
			return nil, err
		}

		return &stores{
			snapshots:  clickhouse.NewSnapshotStore(conn),
			basis:      clickhouse.NewBasisPriceStore(conn),
			positions:  postgres.NewPositionStore(pool),
			segments:   postgres.NewSegmentStore(pool),
			portfolios: postgres.NewPortfolioStore(pool),
			close: func() {
				pool.Close()
				conn.Close()
			},
		}, nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
