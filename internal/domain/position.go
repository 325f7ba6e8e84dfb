package domain

// Position status constants. Transitions are one-directional:
// ACTIVE -> CLOSED or ACTIVE -> LIQUIDATED, never back.
const (
	StatusActive     = "ACTIVE"
	StatusClosed     = "CLOSED"
	StatusLiquidated = "LIQUIDATED"
)

// Rebalance reason codes.
const (
	ReasonDrift     = "LIQUIDATION_DRIFT"
	ReasonScheduled = "SCHEDULED"
	ReasonManual    = "MANUAL"
	ReasonClose     = "CLOSE"
)

// LegState captures one leg's market state at a segment boundary.
type LegState struct {
	Leg        Leg
	Multiplier float64 // position size per unit of capital

	BaseAPR   float64 // base rate at the boundary
	RewardAPR float64 // reward rate at the boundary
	PriceUSD  float64
	BorrowFee float64 // upfront fee rate, borrow legs only

	CollateralRatio      float64
	LiquidationThreshold float64
	BorrowWeight         float64
}

// StateSnapshot is the full per-leg state of a position at one timestamp.
// The entry snapshot is immutable after creation; the live snapshot is the
// baseline advanced by each rebalance.
type StateSnapshot struct {
	Timestamp   int64
	Legs        []LegState
	Multipliers Multipliers
}

// PnLBreakdown splits realized earnings by rate component and leg side.
// All figures are USD.
type PnLBreakdown struct {
	LendBaseUSD     float64
	LendRewardUSD   float64
	BorrowBaseUSD   float64 // interest paid, positive
	BorrowRewardUSD float64 // borrow-side rewards earned
	FeesUSD         float64 // upfront borrow fees charged
}

// TotalUSD nets earnings against interest and fees.
func (p PnLBreakdown) TotalUSD() float64 {
	return p.LendBaseUSD + p.LendRewardUSD + p.BorrowRewardUSD -
		p.BorrowBaseUSD - p.FeesUSD
}

// Add accumulates another breakdown into this one.
func (p *PnLBreakdown) Add(other PnLBreakdown) {
	p.LendBaseUSD += other.LendBaseUSD
	p.LendRewardUSD += other.LendRewardUSD
	p.BorrowBaseUSD += other.BorrowBaseUSD
	p.BorrowRewardUSD += other.BorrowRewardUSD
	p.FeesUSD += other.FeesUSD
}

// Position is a deployed strategy instance. The entry snapshot is never
// mutated after creation; everything else changes only through rebalance and
// close operations. Version supports optimistic concurrency control in the
// store.
type Position struct {
	PositionID  string // ULID
	PortfolioID string // empty for manually deployed positions
	Variant     string
	Status      string

	CapitalUSD float64

	Entry StateSnapshot // immutable
	Live  StateSnapshot // baseline advanced by each rebalance

	Realized       PnLBreakdown
	RebalanceCount int

	Version   int64
	CreatedAt int64
	ClosedAt  *int64
}

// Terminal reports whether the position can accept further transitions.
func (p *Position) Terminal() bool {
	return p.Status == StatusClosed || p.Status == StatusLiquidated
}

// RebalanceSegment is the immutable record of one rebalance interval's
// realized performance. Segments are append-only, keyed by
// (position id, sequence number), with sequence numbers strictly increasing
// from 1 and seg[k].ClosedAt == seg[k+1].OpenedAt.
type RebalanceSegment struct {
	PositionID string
	Seq        int

	OpenedAt int64
	ClosedAt int64

	Opening []LegState
	Closing []LegState

	Realized PnLBreakdown
	Reason   string
}
