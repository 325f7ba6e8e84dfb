package strategy

import (
	"fmt"
	"math"

	"lending-strategy-lab/internal/domain"
)

// RecursiveLending is the four-leg fully recursive loop: lend A on protocol
// A, borrow B, lend B on protocol B, borrow A back. The loop converges to a
// geometric-series multiplier on both sides.
type RecursiveLending struct {
	LiquidationDistance float64
}

// NewRecursiveLending creates the recursive loop calculator.
func NewRecursiveLending(liquidationDistance float64) *RecursiveLending {
	return &RecursiveLending{LiquidationDistance: liquidationDistance}
}

// Variant returns the strategy variant identifier.
func (s *RecursiveLending) Variant() string { return domain.VariantRecursiveLending }

// RequiredLegs returns lend A, borrow on A, lend B, borrow on B.
func (s *RecursiveLending) RequiredLegs() []LegSpec {
	return []LegSpec{
		{Side: domain.SideLend, Slot: SlotA},
		{Side: domain.SideBorrow, Slot: SlotA},
		{Side: domain.SideLend, Slot: SlotB},
		{Side: domain.SideBorrow, Slot: SlotB},
	}
}

// CalculatePositions derives the converged loop multipliers:
//
//	r_X = liquidationThreshold_X / borrowWeight_X / (1+d)
//	L_A = 1 / (1 - r_A*r_B)
//	B_A = L_A * r_A;  L_B = B_A;  B_B = L_B * r_B
//
// Each r is capped at 99.5% of the slot's maximum collateral ratio when the
// implied loan-to-value would exceed it. A product >= 1 after the clamp is
// rejected as non-convergent.
func (s *RecursiveLending) CalculatePositions(in RiskInputs) (domain.Multipliers, error) {
	rA := loopRatio(in.A, in.LiquidationDistance)
	rB := loopRatio(in.B, in.LiquidationDistance)

	if rA*rB >= 1 {
		return domain.Multipliers{}, fmt.Errorf("%w: r_A=%.4f r_B=%.4f", ErrInvalidConvergence, rA, rB)
	}

	lendA := 1 / (1 - rA*rB)
	borrowA := lendA * rA
	lendB := borrowA
	borrowB := lendB * rB

	return domain.Multipliers{
		LendA:   lendA,
		BorrowA: borrowA,
		LendB:   lendB,
		BorrowB: borrowB,
	}, nil
}

// AnalyzeStrategy sizes the loop and computes APR metrics. The loop's net
// exposure must equal the deployed capital.
func (s *RecursiveLending) AnalyzeStrategy(legs []LegMarketData) (*Analysis, error) {
	specs := s.RequiredLegs()
	if err := validateLegs(specs, legs); err != nil {
		return nil, err
	}

	in := RiskInputs{
		A:                   slotRisk(specs, legs, SlotA),
		B:                   slotRisk(specs, legs, SlotB),
		LiquidationDistance: s.LiquidationDistance,
	}

	m, err := s.CalculatePositions(in)
	if err != nil {
		return nil, err
	}

	// Net equity of the loop: lent minus borrowed on both sides.
	equity := (m.LendA + m.LendB) - (m.BorrowA + m.BorrowB)
	if math.Abs(equity-1) > 1e-6 {
		return nil, fmt.Errorf("%w: equity=%.9f", ErrCapitalConservation, equity)
	}

	return analyze(specs, legs, m, s.LiquidationDistance), nil
}

var _ Calculator = (*RecursiveLending)(nil)
