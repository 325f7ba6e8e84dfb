package strategy

import (
	"fmt"
	"math"

	"lending-strategy-lab/internal/domain"
)

// PerpBorrowing is the three-leg volatile carry: lend a stablecoin, borrow a
// volatile token against it, hold an equal long perp to stay delta neutral.
// The non-looped variant sizes a single borrow cycle.
type PerpBorrowing struct {
	LiquidationDistance float64
}

// NewPerpBorrowing creates the non-looped perp borrowing calculator.
func NewPerpBorrowing(liquidationDistance float64) *PerpBorrowing {
	return &PerpBorrowing{LiquidationDistance: liquidationDistance}
}

// Variant returns the strategy variant identifier.
func (s *PerpBorrowing) Variant() string { return domain.VariantPerpBorrowing }

// RequiredLegs returns lend stable, borrow volatile, long perp.
func (s *PerpBorrowing) RequiredLegs() []LegSpec {
	return []LegSpec{
		{Side: domain.SideLend, Slot: SlotA},
		{Side: domain.SideBorrow, Slot: SlotA},
		{Side: domain.SidePerpLong, Slot: SlotB, Perp: true},
	}
}

// CalculatePositions sizes one borrow cycle: lend a unit, borrow the loop
// ratio, match it with perp exposure.
func (s *PerpBorrowing) CalculatePositions(in RiskInputs) (domain.Multipliers, error) {
	r := loopRatio(in.A, in.LiquidationDistance)
	return domain.Multipliers{
		LendA:   1,
		BorrowA: r,
		LendB:   r,
	}, nil
}

// AnalyzeStrategy sizes the position and computes APR metrics.
// PerpBorrowingRecursive reuses this implementation with its own sizing.
func (s *PerpBorrowing) AnalyzeStrategy(legs []LegMarketData) (*Analysis, error) {
	return s.analyzeWith(s, legs)
}

// analyzeWith runs the shared validation and APR pipeline with the sizing of
// the supplied calculator. Keeps the fee/APR formulas in one place for both
// the looped and non-looped variants.
func (s *PerpBorrowing) analyzeWith(calc Calculator, legs []LegMarketData) (*Analysis, error) {
	specs := s.RequiredLegs()
	if err := validateLegs(specs, legs); err != nil {
		return nil, err
	}

	in := RiskInputs{
		A:                   slotRisk(specs, legs, SlotA),
		LiquidationDistance: s.LiquidationDistance,
	}

	m, err := calc.CalculatePositions(in)
	if err != nil {
		return nil, err
	}

	return analyze(specs, legs, m, s.LiquidationDistance), nil
}

var _ Calculator = (*PerpBorrowing)(nil)

// PerpBorrowingRecursive recycles each borrow cycle's retained margin as new
// collateral, compounding exposure as a geometric series over the recycled
// fraction q = r*(1-d). Delegates everything but sizing to PerpBorrowing.
type PerpBorrowingRecursive struct {
	PerpBorrowing
}

// NewPerpBorrowingRecursive creates the looped perp borrowing calculator.
func NewPerpBorrowingRecursive(liquidationDistance float64) *PerpBorrowingRecursive {
	return &PerpBorrowingRecursive{PerpBorrowing{LiquidationDistance: liquidationDistance}}
}

// Variant returns the strategy variant identifier.
func (s *PerpBorrowingRecursive) Variant() string { return domain.VariantPerpBorrowingRecursive }

// CalculatePositions sizes the converged series:
//
//	q       = r * (1-d)
//	factor  = 1 / (1-q)
//	L_A     = factor
//	B_A     = L_B = r * factor
//	B_B     = 0
//
// Convergence requires q < 1, guaranteed for r, d in (0,1) but still checked.
// The multipliers must satisfy (L_A + d*B_A) - B_A = 1: one unit of capital,
// fully deployed, nothing created or destroyed.
func (s *PerpBorrowingRecursive) CalculatePositions(in RiskInputs) (domain.Multipliers, error) {
	d := in.LiquidationDistance
	r := loopRatio(in.A, d)

	q := r * (1 - d)
	if q >= 1 {
		return domain.Multipliers{}, fmt.Errorf("%w: q=%.6f", ErrInvalidConvergence, q)
	}

	factor := 1 / (1 - q)
	m := domain.Multipliers{
		LendA:   factor,
		BorrowA: r * factor,
		LendB:   r * factor,
	}

	conserved := (m.LendA + d*m.BorrowA) - m.BorrowA
	if math.Abs(conserved-1) > conservationTolerance {
		return domain.Multipliers{}, fmt.Errorf("%w: got %.12f", ErrCapitalConservation, conserved)
	}

	return m, nil
}

// AnalyzeStrategy delegates the APR pipeline to PerpBorrowing, overriding
// only the sizing step.
func (s *PerpBorrowingRecursive) AnalyzeStrategy(legs []LegMarketData) (*Analysis, error) {
	return s.analyzeWith(s, legs)
}

var _ Calculator = (*PerpBorrowingRecursive)(nil)
