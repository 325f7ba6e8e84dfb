package domain

import (
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// Snapshot validation errors.
var (
	ErrInvalidToken      = errors.New("invalid token contract address")
	ErrInvalidThresholds = errors.New("liquidation threshold must exceed collateral ratio")
)

// RateSnapshot is one immutable market observation for a (protocol, token)
// pair at a point in time. Rows are written once by the ingestion layer and
// never altered. All rates are dimensionless decimals where 1.0 = 100%,
// timestamps are integer seconds since epoch.
type RateSnapshot struct {
	Timestamp int64  // unix seconds
	Protocol  string // lending protocol identifier
	Token     string // token contract address (base58)

	LendBaseAPR   float64
	LendRewardAPR float64

	BorrowBaseAPR   float64
	BorrowRewardAPR float64

	CollateralRatio      float64 // max loan-to-value for opening a borrow
	LiquidationThreshold float64 // loan-to-value at which liquidation starts
	BorrowWeight         float64 // risk weight applied to borrowed value

	PriceUSD           float64
	AvailableBorrowUSD float64 // liquidity available to borrow
	BorrowFee          float64 // upfront fee rate charged on borrow notional
}

// LendAPR returns the combined base + reward lend rate.
func (s *RateSnapshot) LendAPR() float64 {
	return s.LendBaseAPR + s.LendRewardAPR
}

// BorrowAPR returns the combined base + reward borrow rate.
func (s *RateSnapshot) BorrowAPR() float64 {
	return s.BorrowBaseAPR + s.BorrowRewardAPR
}

// Validate checks structural invariants before a snapshot row is accepted.
// The threshold ordering is only enforced when both fields are present.
func (s *RateSnapshot) Validate() error {
	if s.Timestamp <= 0 {
		return fmt.Errorf("snapshot timestamp must be positive, got %d", s.Timestamp)
	}
	if s.Protocol == "" {
		return errors.New("snapshot protocol is empty")
	}
	if err := ValidateToken(s.Token); err != nil {
		return err
	}
	if s.CollateralRatio > 0 && s.LiquidationThreshold > 0 &&
		s.LiquidationThreshold <= s.CollateralRatio {
		return fmt.Errorf("%w: threshold=%.4f ratio=%.4f",
			ErrInvalidThresholds, s.LiquidationThreshold, s.CollateralRatio)
	}
	return nil
}

// BasisPrice carries directional bid/ask pricing between a spot token and its
// perpetual-futures proxy. Used only by perpetual-futures strategy variants.
type BasisPrice struct {
	Timestamp int64
	Market    string // perpetual market key
	Token     string // spot token contract address

	SpotBid float64
	SpotAsk float64
	PerpBid float64
	PerpAsk float64
}

// Validate checks structural invariants for a basis price row.
func (b *BasisPrice) Validate() error {
	if b.Timestamp <= 0 {
		return fmt.Errorf("basis price timestamp must be positive, got %d", b.Timestamp)
	}
	if b.Market == "" {
		return errors.New("basis price market is empty")
	}
	return ValidateToken(b.Token)
}

// ValidateToken checks that a token contract address is non-empty, plausibly
// sized and valid base58.
func ValidateToken(token string) error {
	if len(token) < 32 || len(token) > 44 {
		return fmt.Errorf("%w: %q", ErrInvalidToken, token)
	}
	if _, err := base58.Decode(token); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidToken, token, err)
	}
	return nil
}
