package strategy

import (
	"errors"

	"lending-strategy-lab/internal/domain"
)

// Factory errors
var (
	ErrUnknownVariant             = errors.New("unknown strategy variant")
	ErrMissingLiquidationDistance = errors.New("leveraged variant requires LiquidationDistance")
	ErrInvalidLiquidationDistance = errors.New("LiquidationDistance must be in (0,1)")
)

// FromConfig creates a Calculator from domain.StrategyConfig.
// Validates required parameters per variant and returns clear errors for
// missing or invalid params.
func FromConfig(cfg domain.StrategyConfig) (Calculator, error) {
	switch cfg.Variant {
	case domain.VariantStablecoinLending:
		return NewStablecoinLending(), nil
	case domain.VariantPerpLending:
		return NewPerpLending(), nil
	case domain.VariantNoLoopCrossProtocol:
		d, err := liquidationDistance(cfg)
		if err != nil {
			return nil, err
		}
		return NewNoLoopCrossProtocol(d), nil
	case domain.VariantRecursiveLending:
		d, err := liquidationDistance(cfg)
		if err != nil {
			return nil, err
		}
		return NewRecursiveLending(d), nil
	case domain.VariantPerpBorrowing:
		d, err := liquidationDistance(cfg)
		if err != nil {
			return nil, err
		}
		return NewPerpBorrowing(d), nil
	case domain.VariantPerpBorrowingRecursive:
		d, err := liquidationDistance(cfg)
		if err != nil {
			return nil, err
		}
		return NewPerpBorrowingRecursive(d), nil
	default:
		return nil, ErrUnknownVariant
	}
}

// AllVariants lists every variant identifier the factory accepts.
func AllVariants() []string {
	return []string{
		domain.VariantStablecoinLending,
		domain.VariantNoLoopCrossProtocol,
		domain.VariantRecursiveLending,
		domain.VariantPerpLending,
		domain.VariantPerpBorrowing,
		domain.VariantPerpBorrowingRecursive,
	}
}

// RequiredLegsFor returns the leg structure of a variant. Sizing parameters
// do not affect the structure, so none are needed.
func RequiredLegsFor(variant string) ([]LegSpec, error) {
	switch variant {
	case domain.VariantStablecoinLending:
		return NewStablecoinLending().RequiredLegs(), nil
	case domain.VariantNoLoopCrossProtocol:
		return NewNoLoopCrossProtocol(0).RequiredLegs(), nil
	case domain.VariantRecursiveLending:
		return NewRecursiveLending(0).RequiredLegs(), nil
	case domain.VariantPerpLending:
		return NewPerpLending().RequiredLegs(), nil
	case domain.VariantPerpBorrowing:
		return NewPerpBorrowing(0).RequiredLegs(), nil
	case domain.VariantPerpBorrowingRecursive:
		return NewPerpBorrowingRecursive(0).RequiredLegs(), nil
	default:
		return nil, ErrUnknownVariant
	}
}

// MultiplierFor maps a leg spec onto its slot's multiplier.
func MultiplierFor(m domain.Multipliers, spec LegSpec) float64 {
	return legMultiplier(m, spec)
}

func liquidationDistance(cfg domain.StrategyConfig) (float64, error) {
	if cfg.LiquidationDistance == nil {
		return 0, ErrMissingLiquidationDistance
	}
	d := *cfg.LiquidationDistance
	if d <= 0 || d >= 1 {
		return 0, ErrInvalidLiquidationDistance
	}
	return d, nil
}
