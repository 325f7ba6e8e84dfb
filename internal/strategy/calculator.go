package strategy

import (
	"errors"
	"fmt"
	"math"

	"lending-strategy-lab/internal/domain"
)

// Calculation errors. Candidates failing with these are excluded by callers,
// never coerced to zero.
var (
	// ErrDataIncomplete marks a missing or non-positive required input
	// (price, collateral ratio, liquidation threshold, borrow weight).
	ErrDataIncomplete = errors.New("required market data missing or non-positive")

	// ErrInvalidConvergence marks a loop ratio >= 1 even after the safety
	// clamp; the geometric series does not converge.
	ErrInvalidConvergence = errors.New("loop ratio does not converge")

	// ErrCapitalConservation marks multipliers that fail the capital
	// conservation identity. The formula is never trusted silently.
	ErrCapitalConservation = errors.New("capital conservation check failed")

	// ErrLegCount marks market data whose leg count does not match the
	// variant's required legs.
	ErrLegCount = errors.New("market data leg count mismatch")
)

// Year and horizon constants.
const (
	YearSeconds = 365 * 24 * 3600
	yearDays    = 365.0

	// Implied loan-to-value is capped at this share of the maximum
	// collateral ratio when the derived loop ratio would exceed it.
	// A hard safety clamp, not an optimization.
	ltvCapRatio = 0.995

	conservationTolerance = 1e-9
)

// Slot names the protocol account a leg sits in.
type Slot byte

const (
	SlotA Slot = 'A'
	SlotB Slot = 'B'
)

// LegSpec describes one required leg of a strategy variant.
type LegSpec struct {
	Side domain.Side
	Slot Slot
	Perp bool // leg priced by the perp market rather than a lending protocol
}

// LegMarketData is the market input for one leg.
type LegMarketData struct {
	Snapshot *domain.RateSnapshot

	// EffectivePrice overrides Snapshot.PriceUSD when positive. The rate
	// analyzer sets it after resolving a directional basis price for perp
	// legs.
	EffectivePrice float64
}

// Price returns the effective USD price for the leg.
func (l LegMarketData) Price() float64 {
	if l.EffectivePrice > 0 {
		return l.EffectivePrice
	}
	if l.Snapshot == nil {
		return 0
	}
	return l.Snapshot.PriceUSD
}

// SlotRisk carries the risk parameters of one protocol slot: the collateral
// asset's ratio and threshold plus the borrowed asset's weight.
type SlotRisk struct {
	CollateralRatio      float64
	LiquidationThreshold float64
	BorrowWeight         float64
}

// RiskInputs parameterize position sizing.
type RiskInputs struct {
	A SlotRisk
	B SlotRisk

	// LiquidationDistance is the safety buffer d kept between current
	// loan-to-value and the liquidation threshold, as a fraction.
	LiquidationDistance float64
}

// Analysis is the full output of analyzing one candidate combination.
type Analysis struct {
	Multipliers domain.Multipliers

	GrossAPR        float64
	NetAPR          float64
	APR5            float64
	APR30           float64
	APR90           float64
	BreakevenDays   float64
	TotalUpfrontFee float64

	LiquidationDistances []domain.LiqDistance
}

// Calculator sizes positions and computes yield for one strategy variant.
// Implementations are pure: no persistence, no clock.
type Calculator interface {
	// Variant returns the strategy variant identifier.
	Variant() string

	// RequiredLegs returns the leg structure the variant needs, in order.
	RequiredLegs() []LegSpec

	// CalculatePositions derives position multipliers from risk parameters.
	CalculatePositions(in RiskInputs) (domain.Multipliers, error)

	// AnalyzeStrategy validates market data for every required leg, sizes
	// the position and computes APR metrics. Returns ErrDataIncomplete when
	// any required input is missing or non-positive.
	AnalyzeStrategy(legs []LegMarketData) (*Analysis, error)
}

// loopRatio derives the borrowable fraction r for a slot:
// r = liquidationThreshold / borrowWeight / (1+d), capped at 99.5% of the
// maximum collateral ratio when the implied loan-to-value would exceed it.
func loopRatio(risk SlotRisk, distance float64) float64 {
	r := risk.LiquidationThreshold / risk.BorrowWeight / (1 + distance)
	if r > risk.CollateralRatio {
		r = ltvCapRatio * risk.CollateralRatio
	}
	return r
}

// legMultiplier maps a leg spec onto a Multipliers slot.
func legMultiplier(m domain.Multipliers, spec LegSpec) float64 {
	if spec.Slot == SlotA {
		if spec.Side == domain.SideLend {
			return m.LendA
		}
		return m.BorrowA
	}
	if spec.Side == domain.SideBorrow {
		return m.BorrowB
	}
	return m.LendB
}

// validateLegs checks the market data against the required leg structure.
// Prices for perp legs are checked only at liquidation-metric time; every
// other leg requires a strictly positive price here.
func validateLegs(specs []LegSpec, legs []LegMarketData) error {
	if len(legs) != len(specs) {
		return fmt.Errorf("%w: want %d legs, got %d", ErrLegCount, len(specs), len(legs))
	}
	for i, spec := range specs {
		md := legs[i]
		if md.Snapshot == nil {
			return fmt.Errorf("%w: leg %d has no snapshot", ErrDataIncomplete, i)
		}
		if !spec.Perp && md.Price() <= 0 {
			return fmt.Errorf("%w: leg %d price %.6f", ErrDataIncomplete, i, md.Price())
		}
		switch spec.Side {
		case domain.SideLend:
			if !spec.Perp && md.Snapshot.CollateralRatio <= 0 {
				return fmt.Errorf("%w: leg %d collateral ratio", ErrDataIncomplete, i)
			}
			if !spec.Perp && md.Snapshot.LiquidationThreshold <= 0 {
				return fmt.Errorf("%w: leg %d liquidation threshold", ErrDataIncomplete, i)
			}
		case domain.SideBorrow:
			if md.Snapshot.BorrowWeight <= 0 {
				return fmt.Errorf("%w: leg %d borrow weight", ErrDataIncomplete, i)
			}
		}
	}
	return nil
}

// slotRisk assembles SlotRisk for a slot from its lend (collateral) and
// borrow legs. Missing legs leave zero fields; variants only read the slots
// they declared.
func slotRisk(specs []LegSpec, legs []LegMarketData, slot Slot) SlotRisk {
	var risk SlotRisk
	risk.BorrowWeight = 1.0
	for i, spec := range specs {
		if spec.Slot != slot || spec.Perp {
			continue
		}
		switch spec.Side {
		case domain.SideLend:
			risk.CollateralRatio = legs[i].Snapshot.CollateralRatio
			risk.LiquidationThreshold = legs[i].Snapshot.LiquidationThreshold
		case domain.SideBorrow:
			risk.BorrowWeight = legs[i].Snapshot.BorrowWeight
		}
	}
	return risk
}

// analyze computes the APR breakdown and liquidation distances for sized
// multipliers. Shared by every variant:
//
//	netAPR  = sum(lend_i * lendRate_i) - sum(borrow_i * borrowRate_i)
//	        - sum(borrow_i * upfrontFee_i)
//	aprN    = netAPR - totalUpfrontFees * 365/N
//
// Perp legs earn funding on the short side and pay it on the long side; they
// carry no upfront borrow fee.
func analyze(specs []LegSpec, legs []LegMarketData, m domain.Multipliers, distance float64) *Analysis {
	var gross, fees float64

	for i, spec := range specs {
		mult := legMultiplier(m, spec)
		snap := legs[i].Snapshot
		switch spec.Side {
		case domain.SideLend, domain.SidePerpShort:
			gross += mult * snap.LendAPR()
		case domain.SideBorrow:
			gross -= mult * snap.BorrowAPR()
			fees += mult * snap.BorrowFee
		case domain.SidePerpLong:
			gross -= mult * snap.BorrowAPR()
		}
	}

	net := gross - fees

	a := &Analysis{
		Multipliers:     m,
		GrossAPR:        gross,
		NetAPR:          net,
		APR5:            net - fees*yearDays/5,
		APR30:           net - fees*yearDays/30,
		APR90:           net - fees*yearDays/90,
		TotalUpfrontFee: fees,
	}

	switch {
	case fees == 0:
		a.BreakevenDays = 0
	case gross <= 0:
		a.BreakevenDays = math.Inf(1)
	default:
		a.BreakevenDays = fees * yearDays / gross
	}

	a.LiquidationDistances = liquidationDistances(specs, legs, m, distance)
	return a
}

// liquidationDistances derives the per-leg safety buffer from current
// loan-to-value vs. the slot's liquidation threshold. A leg whose required
// price is non-positive gets an indeterminate metric, never a default value.
func liquidationDistances(specs []LegSpec, legs []LegMarketData, m domain.Multipliers, distance float64) []domain.LiqDistance {
	var out []domain.LiqDistance
	for i, spec := range specs {
		switch spec.Side {
		case domain.SideBorrow:
			if legs[i].Price() <= 0 {
				out = append(out, domain.LiqDistance{Leg: i, Indeterminate: true})
				continue
			}

			lend, borrow, threshold, weight := slotExposure(specs, legs, m, spec.Slot)
			if lend <= 0 || threshold <= 0 {
				out = append(out, domain.LiqDistance{Leg: i, Indeterminate: true})
				continue
			}

			ltv := borrow * weight / lend
			out = append(out, domain.LiqDistance{
				Leg:   i,
				Value: (threshold - ltv) / threshold,
			})
		case domain.SidePerpLong, domain.SidePerpShort:
			// Perp margin is sized to hold the configured buffer; without a
			// resolvable mark price the metric stays indeterminate.
			if legs[i].Price() <= 0 {
				out = append(out, domain.LiqDistance{Leg: i, Indeterminate: true})
			} else {
				out = append(out, domain.LiqDistance{Leg: i, Value: distance})
			}
		}
	}
	if out == nil && distance > 0 {
		// Unleveraged variants still report the configured buffer so that
		// downstream comparisons have a baseline.
		out = append(out, domain.LiqDistance{Leg: 0, Value: distance})
	}
	return out
}

// slotExposure sums lend and borrow notionals for a slot and returns the
// slot's liquidation threshold plus the borrow weight in effect.
func slotExposure(specs []LegSpec, legs []LegMarketData, m domain.Multipliers, slot Slot) (lend, borrow, threshold, weight float64) {
	weight = 1.0
	for i, spec := range specs {
		if spec.Slot != slot {
			continue
		}
		mult := legMultiplier(m, spec)
		switch spec.Side {
		case domain.SideLend, domain.SidePerpShort:
			lend += mult
			if spec.Side == domain.SideLend && legs[i].Snapshot.LiquidationThreshold > 0 {
				threshold = legs[i].Snapshot.LiquidationThreshold
			}
		case domain.SideBorrow, domain.SidePerpLong:
			borrow += mult
			if legs[i].Snapshot.BorrowWeight > 0 {
				weight = legs[i].Snapshot.BorrowWeight
			}
		}
	}
	return lend, borrow, threshold, weight
}
