package cmd

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"lending-strategy-lab/internal/domain"
)

// marketDataFile is the YAML shape of a recorded market data fixture.
type marketDataFile struct {
	Snapshots   []snapshotRow `yaml:"snapshots"`
	BasisPrices []basisRow    `yaml:"basis_prices"`
}

type snapshotRow struct {
	Timestamp int64  `yaml:"timestamp"`
	Protocol  string `yaml:"protocol"`
	Token     string `yaml:"token"`

	LendBaseAPR     float64 `yaml:"lend_base_apr"`
	LendRewardAPR   float64 `yaml:"lend_reward_apr"`
	BorrowBaseAPR   float64 `yaml:"borrow_base_apr"`
	BorrowRewardAPR float64 `yaml:"borrow_reward_apr"`

	CollateralRatio      float64 `yaml:"collateral_ratio"`
	LiquidationThreshold float64 `yaml:"liquidation_threshold"`
	BorrowWeight         float64 `yaml:"borrow_weight"`

	PriceUSD           float64 `yaml:"price_usd"`
	AvailableBorrowUSD float64 `yaml:"available_borrow_usd"`
	BorrowFee          float64 `yaml:"borrow_fee"`
}

type basisRow struct {
	Timestamp int64  `yaml:"timestamp"`
	Market    string `yaml:"market"`
	Token     string `yaml:"token"`

	SpotBid float64 `yaml:"spot_bid"`
	SpotAsk float64 `yaml:"spot_ask"`
	PerpBid float64 `yaml:"perp_bid"`
	PerpAsk float64 `yaml:"perp_ask"`
}

func (r snapshotRow) domain() *domain.RateSnapshot {
	return &domain.RateSnapshot{
		Timestamp:            r.Timestamp,
		Protocol:             r.Protocol,
		Token:                r.Token,
		LendBaseAPR:          r.LendBaseAPR,
		LendRewardAPR:        r.LendRewardAPR,
		BorrowBaseAPR:        r.BorrowBaseAPR,
		BorrowRewardAPR:      r.BorrowRewardAPR,
		CollateralRatio:      r.CollateralRatio,
		LiquidationThreshold: r.LiquidationThreshold,
		BorrowWeight:         r.BorrowWeight,
		PriceUSD:             r.PriceUSD,
		AvailableBorrowUSD:   r.AvailableBorrowUSD,
		BorrowFee:            r.BorrowFee,
	}
}

func (r basisRow) domain() *domain.BasisPrice {
	return &domain.BasisPrice{
		Timestamp: r.Timestamp,
		Market:    r.Market,
		Token:     r.Token,
		SpotBid:   r.SpotBid,
		SpotAsk:   r.SpotAsk,
		PerpBid:   r.PerpBid,
		PerpAsk:   r.PerpAsk,
	}
}

// seedMarketData loads a YAML fixture and inserts its rows into the stores.
func seedMarketData(ctx context.Context, st *stores, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read market data file: %w", err)
	}

	var file marketDataFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse market data file: %w", err)
	}

	snapshots := make([]*domain.RateSnapshot, 0, len(file.Snapshots))
	for _, row := range file.Snapshots {
		snapshots = append(snapshots, row.domain())
	}
	if err := st.snapshots.InsertBulk(ctx, snapshots); err != nil {
		return fmt.Errorf("insert snapshots: %w", err)
	}

	if len(file.BasisPrices) > 0 {
		prices := make([]*domain.BasisPrice, 0, len(file.BasisPrices))
		for _, row := range file.BasisPrices {
			prices = append(prices, row.domain())
		}
		if err := st.basis.InsertBulk(ctx, prices); err != nil {
			return fmt.Errorf("insert basis prices: %w", err)
		}
	}

	return nil
}
