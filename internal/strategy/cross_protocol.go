package strategy

import "lending-strategy-lab/internal/domain"

// NoLoopCrossProtocol is the three-leg carry without recursion: lend token A
// on protocol A, borrow token B against it, lend token B on protocol B.
type NoLoopCrossProtocol struct {
	LiquidationDistance float64
}

// NewNoLoopCrossProtocol creates the cross-protocol calculator.
func NewNoLoopCrossProtocol(liquidationDistance float64) *NoLoopCrossProtocol {
	return &NoLoopCrossProtocol{LiquidationDistance: liquidationDistance}
}

// Variant returns the strategy variant identifier.
func (s *NoLoopCrossProtocol) Variant() string { return domain.VariantNoLoopCrossProtocol }

// RequiredLegs returns lend A, borrow on A, lend B.
func (s *NoLoopCrossProtocol) RequiredLegs() []LegSpec {
	return []LegSpec{
		{Side: domain.SideLend, Slot: SlotA},
		{Side: domain.SideBorrow, Slot: SlotA},
		{Side: domain.SideLend, Slot: SlotB},
	}
}

// CalculatePositions sizes a single borrow cycle: lend one unit, borrow the
// loop ratio against it, lend the borrowed amount on the counter protocol.
func (s *NoLoopCrossProtocol) CalculatePositions(in RiskInputs) (domain.Multipliers, error) {
	r := loopRatio(in.A, in.LiquidationDistance)
	return domain.Multipliers{
		LendA:   1,
		BorrowA: r,
		LendB:   r,
	}, nil
}

// AnalyzeStrategy sizes the position and computes APR metrics.
func (s *NoLoopCrossProtocol) AnalyzeStrategy(legs []LegMarketData) (*Analysis, error) {
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

	return analyze(specs, legs, m, s.LiquidationDistance), nil
}

var _ Calculator = (*NoLoopCrossProtocol)(nil)
