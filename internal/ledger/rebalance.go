package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"

	"lending-strategy-lab/internal/domain"
	"lending-strategy-lab/internal/storage"
	"lending-strategy-lab/internal/strategy"
)

// SlotDrift is the liquidation-distance drift of one protocol slot between
// the rebalance baseline and the market at the evaluation timestamp.
type SlotDrift struct {
	Slot     byte // 'A' or 'B'
	Baseline float64
	Live     float64
}

// Drift returns how much closer to liquidation the slot has moved.
func (d SlotDrift) Drift() float64 {
	return math.Abs(d.Baseline) - math.Abs(d.Live)
}

// RebalanceSignal is the outcome of an auto-rebalance evaluation.
type RebalanceSignal struct {
	Triggered bool
	Slots     []SlotDrift
}

// ShouldRebalance evaluates the drift rule at asOf: trigger when any
// leveraged slot's |baseline distance| - |live distance| >= threshold. The
// baseline is the entry state if never rebalanced, else the last segment's
// closing state. Zero threshold means DefaultRebalanceThreshold.
func (l *Ledger) ShouldRebalance(ctx context.Context, positionID string, asOf int64, threshold float64) (*RebalanceSignal, error) {
	if threshold <= 0 {
		threshold = DefaultRebalanceThreshold
	}

	p, err := l.positions.GetByID(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if p.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrPositionTerminal, positionID, p.Status)
	}

	baseline := p.Entry.Legs
	if p.RebalanceCount > 0 {
		last, err := l.segments.GetLast(ctx, p.PositionID)
		if err != nil {
			return nil, err
		}
		baseline = last.Closing
	}

	specs, err := strategy.RequiredLegsFor(p.Variant)
	if err != nil {
		return nil, err
	}

	live := make([]domain.LegState, len(baseline))
	for i, leg := range baseline {
		snap, err := l.rates.GetAt(ctx, leg.Leg.Protocol, leg.Leg.Token, asOf)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s/%s at %d", ErrNoSnapshots, leg.Leg.Protocol, leg.Leg.Token, asOf)
			}
			return nil, err
		}
		live[i] = legState(leg.Leg, leg.Multiplier, snap)
	}

	signal := &RebalanceSignal{}
	for _, slot := range []strategy.Slot{strategy.SlotA, strategy.SlotB} {
		base, ok := slotDistance(specs, baseline, baseline, slot)
		if !ok {
			continue
		}
		now, ok := slotDistance(specs, baseline, live, slot)
		if !ok {
			continue
		}

		drift := SlotDrift{Slot: byte(slot), Baseline: base, Live: now}
		signal.Slots = append(signal.Slots, drift)
		if drift.Drift() >= threshold {
			signal.Triggered = true
		}
	}
	return signal, nil
}

// slotDistance computes a slot's liquidation distance with leg values marked
// to current prices: each leg's token amount was fixed at the baseline, so
// its live notional scales by price(now)/price(baseline). Slots with no
// borrow leg, or with any unresolvable price, report no distance.
func slotDistance(specs []strategy.LegSpec, baseline, current []domain.LegState, slot strategy.Slot) (float64, bool) {
	var lend, borrow, threshold float64
	weight := 1.0
	hasBorrow := false

	for i, spec := range specs {
		if spec.Slot != slot || spec.Perp {
			continue
		}

		if baseline[i].PriceUSD <= 0 || current[i].PriceUSD <= 0 {
			return 0, false
		}
		value := baseline[i].Multiplier * current[i].PriceUSD / baseline[i].PriceUSD

		switch spec.Side {
		case domain.SideLend:
			lend += value
			if current[i].LiquidationThreshold > 0 {
				threshold = current[i].LiquidationThreshold
			}
		case domain.SideBorrow:
			hasBorrow = true
			borrow += value
			if current[i].BorrowWeight > 0 {
				weight = current[i].BorrowWeight
			}
		}
	}

	if !hasBorrow || lend <= 0 || threshold <= 0 {
		return 0, false
	}

	ltv := borrow * weight / lend
	return (threshold - ltv) / threshold, true
}
