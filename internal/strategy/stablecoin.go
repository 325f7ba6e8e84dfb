package strategy

import "lending-strategy-lab/internal/domain"

// StablecoinLending is the single-leg baseline: lend a stablecoin, no
// leverage, no borrow.
type StablecoinLending struct{}

// NewStablecoinLending creates the stablecoin lending calculator.
func NewStablecoinLending() *StablecoinLending {
	return &StablecoinLending{}
}

// Variant returns the strategy variant identifier.
func (s *StablecoinLending) Variant() string { return domain.VariantStablecoinLending }

// RequiredLegs returns the single lend leg.
func (s *StablecoinLending) RequiredLegs() []LegSpec {
	return []LegSpec{
		{Side: domain.SideLend, Slot: SlotA},
	}
}

// CalculatePositions returns unit lend exposure; there is nothing to size.
func (s *StablecoinLending) CalculatePositions(_ RiskInputs) (domain.Multipliers, error) {
	return domain.Multipliers{LendA: 1}, nil
}

// AnalyzeStrategy computes the APR of plain lending.
func (s *StablecoinLending) AnalyzeStrategy(legs []LegMarketData) (*Analysis, error) {
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

var _ Calculator = (*StablecoinLending)(nil)
