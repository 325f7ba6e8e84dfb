package strategy

import "lending-strategy-lab/internal/domain"

// PerpLending is the two-leg delta-neutral carry: lend the spot token,
// short an equal notional of its perpetual future. Earns lend APR plus
// short-side funding with no directional exposure.
type PerpLending struct{}

// NewPerpLending creates the spot-lend-vs-short-perp calculator.
func NewPerpLending() *PerpLending {
	return &PerpLending{}
}

// Variant returns the strategy variant identifier.
func (s *PerpLending) Variant() string { return domain.VariantPerpLending }

// RequiredLegs returns the spot lend leg and the perp short leg.
func (s *PerpLending) RequiredLegs() []LegSpec {
	return []LegSpec{
		{Side: domain.SideLend, Slot: SlotA},
		{Side: domain.SidePerpShort, Slot: SlotB, Perp: true},
	}
}

// CalculatePositions returns matched unit notionals on both sides.
func (s *PerpLending) CalculatePositions(_ RiskInputs) (domain.Multipliers, error) {
	return domain.Multipliers{LendA: 1, LendB: 1}, nil
}

// AnalyzeStrategy computes the carry APR. The perp leg's mark price comes
// from the analyzer's basis resolution; when unresolvable its liquidation
// metric is reported indeterminate, never defaulted.
func (s *PerpLending) AnalyzeStrategy(legs []LegMarketData) (*Analysis, error) {
	specs := s.RequiredLegs()
	if err := validateLegs(specs, legs); err != nil {
		return nil, err
	}

	m, err := s.CalculatePositions(RiskInputs{})
	if err != nil {
		return nil, err
	}

	return analyze(specs, legs, m, 0), nil
}

var _ Calculator = (*PerpLending)(nil)
