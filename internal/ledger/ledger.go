// Package ledger is the event-sourced position journal: immutable entry
// state, append-only rebalance segments and a live baseline derived from the
// last segment. Every operation takes an explicit as-of timestamp; the
// ledger never reads a wall clock.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"lending-strategy-lab/internal/domain"
	"lending-strategy-lab/internal/idhash"
	"lending-strategy-lab/internal/lookup"
	"lending-strategy-lab/internal/observability"
	"lending-strategy-lab/internal/storage"
	"lending-strategy-lab/internal/strategy"
)

// Ledger errors.
var (
	// ErrTimeTravel marks a rebalance or close requested before an existing
	// segment boundary. Rejected outright, never reordered.
	ErrTimeTravel = errors.New("operation timestamp precedes last segment boundary")

	// ErrPositionTerminal marks an operation against a closed or liquidated
	// position.
	ErrPositionTerminal = errors.New("position is terminal")

	// ErrNoSnapshots marks a PnL integration window with no usable rate data
	// for a leg.
	ErrNoSnapshots = errors.New("no rate snapshots cover the integration window")
)

// DefaultRebalanceThreshold is the liquidation-distance drift that triggers
// an automatic rebalance.
const DefaultRebalanceThreshold = 0.02

// Ledger coordinates position state transitions over the position, segment
// and snapshot stores. Writes to one position are serialized by a
// per-position mutex; the store's version check backstops external writers.
type Ledger struct {
	positions storage.PositionStore
	segments  storage.SegmentStore
	rates     storage.SnapshotStore
	log       zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger attaches a component logger.
func WithLogger(log zerolog.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

// New creates a Ledger over the given stores.
func New(positions storage.PositionStore, segments storage.SegmentStore, rates storage.SnapshotStore, opts ...Option) *Ledger {
	l := &Ledger{
		positions: positions,
		segments:  segments,
		rates:     rates,
		log:       zerolog.Nop(),
		locks:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// lockPosition serializes writers on one position id.
func (l *Ledger) lockPosition(positionID string) func() {
	l.mu.Lock()
	m, ok := l.locks[positionID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[positionID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// BuildPosition assembles a new active position record for a candidate
// without persisting it. The entry snapshot captures the rates, prices and
// multipliers in force at asOf and is immutable from then on. Callers that
// commit several positions atomically batch the built records themselves.
func (l *Ledger) BuildPosition(ctx context.Context, c *domain.Candidate, capitalUSD float64, portfolioID string, asOf int64) (*domain.Position, error) {
	if capitalUSD <= 0 {
		return nil, fmt.Errorf("%w: capital %.2f", storage.ErrInvalidInput, capitalUSD)
	}

	specs, err := strategy.RequiredLegsFor(c.Variant)
	if err != nil {
		return nil, err
	}
	if len(specs) != len(c.Legs) {
		return nil, fmt.Errorf("%w: candidate has %d legs, variant %s wants %d",
			storage.ErrInvalidInput, len(c.Legs), c.Variant, len(specs))
	}

	legs := make([]domain.LegState, len(c.Legs))
	for i, leg := range c.Legs {
		snap, err := l.rates.GetAt(ctx, leg.Protocol, leg.Token, asOf)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s/%s at %d", ErrNoSnapshots, leg.Protocol, leg.Token, asOf)
			}
			return nil, err
		}
		legs[i] = legState(leg, strategy.MultiplierFor(c.Multipliers, specs[i]), snap)
	}

	entry := domain.StateSnapshot{
		Timestamp:   asOf,
		Legs:        legs,
		Multipliers: c.Multipliers,
	}

	return &domain.Position{
		PositionID:  idhash.NewPositionID(asOf),
		PortfolioID: portfolioID,
		Variant:     c.Variant,
		Status:      domain.StatusActive,
		CapitalUSD:  capitalUSD,
		Entry:       entry,
		Live:        cloneState(entry),
		Version:     1,
		CreatedAt:   asOf,
	}, nil
}

// Open builds and persists a single new position at asOf.
func (l *Ledger) Open(ctx context.Context, c *domain.Candidate, capitalUSD float64, portfolioID string, asOf int64) (*domain.Position, error) {
	p, err := l.BuildPosition(ctx, c, capitalUSD, portfolioID, asOf)
	if err != nil {
		return nil, err
	}

	if err := l.positions.Insert(ctx, p); err != nil {
		return nil, err
	}
	observability.RecordPositionOpened()

	l.log.Info().
		Str("position_id", p.PositionID).
		Str("variant", p.Variant).
		Float64("capital_usd", capitalUSD).
		Int64("as_of", asOf).
		Msg("position opened")

	return p, nil
}

// Rebalance integrates realized PnL since the previous boundary, appends one
// immutable segment and advances the live baseline to the rates and prices
// at asOf. The position stays active.
func (l *Ledger) Rebalance(ctx context.Context, positionID string, asOf int64, reason string) (*domain.RebalanceSegment, error) {
	unlock := l.lockPosition(positionID)
	defer unlock()

	p, err := l.positions.GetByID(ctx, positionID)
	if err != nil {
		return nil, err
	}

	seg, closing, pnl, err := l.buildSegment(ctx, p, asOf, reason)
	if err != nil {
		return nil, err
	}

	if err := l.segments.Insert(ctx, seg); err != nil {
		return nil, err
	}

	expected := p.Version
	p.Live = domain.StateSnapshot{
		Timestamp:   asOf,
		Legs:        closing,
		Multipliers: p.Live.Multipliers,
	}
	p.Realized.Add(pnl)
	p.RebalanceCount++
	if err := l.positions.Update(ctx, p, expected); err != nil {
		if errors.Is(err, storage.ErrVersionConflict) {
			observability.RecordVersionConflict()
		}
		return nil, err
	}
	observability.RecordRebalance(reason)

	l.log.Info().
		Str("position_id", positionID).
		Int("seq", seg.Seq).
		Str("reason", reason).
		Float64("realized_usd", pnl.TotalUSD()).
		Int64("as_of", asOf).
		Msg("position rebalanced")

	return seg, nil
}

// Close integrates PnL through asOf, appends the final segment and marks the
// position closed. Terminal: no further segments may be appended.
func (l *Ledger) Close(ctx context.Context, positionID string, asOf int64) (*domain.Position, error) {
	unlock := l.lockPosition(positionID)
	defer unlock()

	p, err := l.positions.GetByID(ctx, positionID)
	if err != nil {
		return nil, err
	}

	seg, closing, pnl, err := l.buildSegment(ctx, p, asOf, domain.ReasonClose)
	if err != nil {
		return nil, err
	}

	if err := l.segments.Insert(ctx, seg); err != nil {
		return nil, err
	}

	expected := p.Version
	p.Live = domain.StateSnapshot{
		Timestamp:   asOf,
		Legs:        closing,
		Multipliers: p.Live.Multipliers,
	}
	p.Realized.Add(pnl)
	p.Status = domain.StatusClosed
	p.ClosedAt = &asOf
	if err := l.positions.Update(ctx, p, expected); err != nil {
		if errors.Is(err, storage.ErrVersionConflict) {
			observability.RecordVersionConflict()
		}
		return nil, err
	}
	observability.RecordPositionClosed()

	l.log.Info().
		Str("position_id", positionID).
		Float64("realized_usd", p.Realized.TotalUSD()).
		Int64("as_of", asOf).
		Msg("position closed")

	return p, nil
}

// MarkLiquidated records an externally detected liquidation. The transition
// is terminal; realized PnL stays as of the last boundary because the
// position's collateral is gone, not withdrawn.
func (l *Ledger) MarkLiquidated(ctx context.Context, positionID string, asOf int64) (*domain.Position, error) {
	unlock := l.lockPosition(positionID)
	defer unlock()

	p, err := l.positions.GetByID(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if p.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrPositionTerminal, positionID, p.Status)
	}
	if asOf < p.Live.Timestamp {
		return nil, fmt.Errorf("%w: as-of %d precedes baseline %d", ErrTimeTravel, asOf, p.Live.Timestamp)
	}

	expected := p.Version
	p.Status = domain.StatusLiquidated
	p.ClosedAt = &asOf
	if err := l.positions.Update(ctx, p, expected); err != nil {
		if errors.Is(err, storage.ErrVersionConflict) {
			observability.RecordVersionConflict()
		}
		return nil, err
	}
	observability.RecordLiquidation()

	l.log.Warn().
		Str("position_id", positionID).
		Int64("as_of", asOf).
		Msg("position liquidated")

	return p, nil
}

// StateAt returns the position state that was true at ts. A timestamp inside
// a historical segment's [opening, closing) window reproduces that segment's
// opening state; anything else returns the live state.
func (l *Ledger) StateAt(ctx context.Context, positionID string, ts int64) (*domain.StateSnapshot, error) {
	p, err := l.positions.GetByID(ctx, positionID)
	if err != nil {
		return nil, err
	}

	segs, err := l.segments.GetByPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}

	for _, seg := range segs {
		if ts >= seg.OpenedAt && ts < seg.ClosedAt {
			s := domain.StateSnapshot{
				Timestamp:   seg.OpenedAt,
				Legs:        cloneLegs(seg.Opening),
				Multipliers: p.Live.Multipliers,
			}
			return &s, nil
		}
	}

	live := cloneState(p.Live)
	return &live, nil
}

// buildSegment validates the transition and assembles the next segment: PnL
// integrated over [Live.Timestamp, asOf), closing leg states at asOf, and the
// upfront-fee charge. Does not persist anything.
func (l *Ledger) buildSegment(ctx context.Context, p *domain.Position, asOf int64, reason string) (*domain.RebalanceSegment, []domain.LegState, domain.PnLBreakdown, error) {
	var zero domain.PnLBreakdown

	if p.Terminal() {
		return nil, nil, zero, fmt.Errorf("%w: %s is %s", ErrPositionTerminal, p.PositionID, p.Status)
	}
	if asOf < p.Live.Timestamp {
		return nil, nil, zero, fmt.Errorf("%w: as-of %d precedes baseline %d", ErrTimeTravel, asOf, p.Live.Timestamp)
	}

	seq := 1
	if last, err := l.segments.GetLast(ctx, p.PositionID); err == nil {
		seq = last.Seq + 1
		if asOf < last.ClosedAt {
			return nil, nil, zero, fmt.Errorf("%w: as-of %d precedes segment %d close %d",
				ErrTimeTravel, asOf, last.Seq, last.ClosedAt)
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, nil, zero, err
	}

	var pnl domain.PnLBreakdown
	closing := make([]domain.LegState, len(p.Live.Legs))
	for i, leg := range p.Live.Legs {
		earned, err := l.legEarnings(ctx, leg, p.Live.Timestamp, asOf, p.CapitalUSD)
		if err != nil {
			return nil, nil, zero, err
		}
		pnl.Add(earned)

		snap, err := l.rates.GetAt(ctx, leg.Leg.Protocol, leg.Leg.Token, asOf)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, nil, zero, fmt.Errorf("%w: %s/%s at %d",
					ErrNoSnapshots, leg.Leg.Protocol, leg.Leg.Token, asOf)
			}
			return nil, nil, zero, err
		}
		closing[i] = legState(leg.Leg, leg.Multiplier, snap)
	}

	pnl.FeesUSD = l.segmentFees(p, seq, closing)

	seg := &domain.RebalanceSegment{
		PositionID: p.PositionID,
		Seq:        seq,
		OpenedAt:   p.Live.Timestamp,
		ClosedAt:   asOf,
		Opening:    cloneLegs(p.Live.Legs),
		Closing:    cloneLegs(closing),
		Realized:   pnl,
		Reason:     reason,
	}
	return seg, closing, pnl, nil
}

// segmentFees computes the upfront borrow fee charged by a segment. The
// first segment charges the full fee on every borrow leg. Later segments
// charge only the incremental token amount re-borrowed when prices moved,
// max(0, newAmount-prevAmount)*feeRate*price, so fees already paid are never
// charged twice.
func (l *Ledger) segmentFees(p *domain.Position, seq int, closing []domain.LegState) float64 {
	var fees float64
	for i, leg := range p.Entry.Legs {
		if leg.Leg.Side != domain.SideBorrow {
			continue
		}

		if seq == 1 {
			fees += leg.Multiplier * p.CapitalUSD * leg.BorrowFee
			continue
		}

		prev := p.Live.Legs[i]
		next := closing[i]
		if prev.PriceUSD <= 0 || next.PriceUSD <= 0 {
			continue
		}

		notional := leg.Multiplier * p.CapitalUSD
		prevAmount := notional / prev.PriceUSD
		newAmount := notional / next.PriceUSD
		if delta := newAmount - prevAmount; delta > 0 {
			fees += delta * next.BorrowFee * next.PriceUSD
		}
	}
	return fees
}

// legEarnings integrates one leg's accrual over [start, end) against the
// snapshot series in the store: multiplier * rate(t_i) * dt/yearSeconds *
// capital per interval, base and reward tracked separately.
func (l *Ledger) legEarnings(ctx context.Context, leg domain.LegState, start, end int64, capitalUSD float64) (domain.PnLBreakdown, error) {
	var pnl domain.PnLBreakdown
	if end <= start {
		return pnl, nil
	}

	series, err := l.rateSeries(ctx, leg.Leg, start, end)
	if err != nil {
		return pnl, err
	}

	rates, durations := lookup.Intervals(series, end)
	for i, snap := range rates {
		scale := leg.Multiplier * capitalUSD * float64(durations[i]) / float64(strategy.YearSeconds)
		switch leg.Leg.Side {
		case domain.SideLend, domain.SidePerpShort:
			pnl.LendBaseUSD += scale * snap.LendBaseAPR
			pnl.LendRewardUSD += scale * snap.LendRewardAPR
		case domain.SideBorrow, domain.SidePerpLong:
			pnl.BorrowBaseUSD += scale * snap.BorrowBaseAPR
			pnl.BorrowRewardUSD += scale * snap.BorrowRewardAPR
		}
	}
	return pnl, nil
}

// rateSeries assembles the ordered snapshot series covering [start, end):
// the rate in force at start (looked up at-or-before), then every strictly
// later row before end.
func (l *Ledger) rateSeries(ctx context.Context, leg domain.Leg, start, end int64) ([]*domain.RateSnapshot, error) {
	first, err := l.rates.GetAt(ctx, leg.Protocol, leg.Token, start)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s/%s at %d", ErrNoSnapshots, leg.Protocol, leg.Token, start)
		}
		return nil, err
	}

	// The opening rate applies from start even when observed earlier.
	head := *first
	if head.Timestamp < start {
		head.Timestamp = start
	}

	series := []*domain.RateSnapshot{&head}
	rows, err := l.rates.GetRange(ctx, leg.Protocol, leg.Token, start, end)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		if r.Timestamp > head.Timestamp && r.Timestamp < end {
			series = append(series, r)
		}
	}
	return series, nil
}

// legState snapshots one leg's market state from a rate row. Lend-style legs
// carry the lend rates, borrow-style legs the borrow rates.
func legState(leg domain.Leg, multiplier float64, snap *domain.RateSnapshot) domain.LegState {
	s := domain.LegState{
		Leg:                  leg,
		Multiplier:           multiplier,
		PriceUSD:             snap.PriceUSD,
		BorrowFee:            snap.BorrowFee,
		CollateralRatio:      snap.CollateralRatio,
		LiquidationThreshold: snap.LiquidationThreshold,
		BorrowWeight:         snap.BorrowWeight,
	}
	switch leg.Side {
	case domain.SideLend, domain.SidePerpShort:
		s.BaseAPR = snap.LendBaseAPR
		s.RewardAPR = snap.LendRewardAPR
	case domain.SideBorrow, domain.SidePerpLong:
		s.BaseAPR = snap.BorrowBaseAPR
		s.RewardAPR = snap.BorrowRewardAPR
	}
	return s
}

func cloneLegs(legs []domain.LegState) []domain.LegState {
	out := make([]domain.LegState, len(legs))
	copy(out, legs)
	return out
}

func cloneState(s domain.StateSnapshot) domain.StateSnapshot {
	s.Legs = cloneLegs(s.Legs)
	return s
}
