// Package analyzer enumerates token/protocol/variant combinations over one
// market view, sizes each with its strategy calculator and returns the valid
// candidates ranked by an APR metric. The scan is read-only: nothing is
// persisted and repeated scans over the same view produce identical output.
package analyzer

import (
	"context"
	"runtime"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"lending-strategy-lab/internal/domain"
	"lending-strategy-lab/internal/idhash"
	"lending-strategy-lab/internal/strategy"
)

// Analyzer runs combinatorial rate scans for a fixed set of strategy
// calculators.
type Analyzer struct {
	calcs   []strategy.Calculator
	workers int
	log     zerolog.Logger
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithWorkers bounds the evaluation pool size.
func WithWorkers(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.workers = n
		}
	}
}

// WithLogger attaches a component logger.
func WithLogger(log zerolog.Logger) Option {
	return func(a *Analyzer) { a.log = log }
}

// New creates an Analyzer over the given calculators. Scan evaluates
// variants in the order given here.
func New(calcs []strategy.Calculator, opts ...Option) *Analyzer {
	a := &Analyzer{
		calcs:   calcs,
		workers: runtime.NumCPU(),
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// job is one enumerated combination, carrying its enumeration index so
// results can be reassembled in order after concurrent evaluation.
type job struct {
	idx  int
	calc strategy.Calculator
	legs []domain.Leg
	data []strategy.LegMarketData
}

// Scan evaluates every valid combination in the view and returns candidates
// sorted descending by metric. The sort is stable and ties keep enumeration
// order, so output never depends on worker scheduling. Combinations whose
// calculators reject them (incomplete data, non-convergent sizing) are
// dropped, not zeroed.
func (a *Analyzer) Scan(ctx context.Context, view *MarketView, metric domain.APRMetric) ([]domain.Candidate, error) {
	jobs := a.enumerate(view)
	a.log.Debug().
		Int64("timestamp", view.Timestamp).
		Int("combinations", len(jobs)).
		Msg("scan enumerated")

	results := make([]*domain.Candidate, len(jobs))

	workers := a.workers
	if workers > len(jobs) {
		workers = len(jobs)
	}
	if workers < 1 {
		workers = 1
	}

	feed := make(chan job)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range feed {
				results[j.idx] = a.evaluate(j)
			}
		}()
	}

	var ctxErr error
	for _, j := range jobs {
		if ctxErr = ctx.Err(); ctxErr != nil {
			break
		}
		feed <- j
	}
	close(feed)
	wg.Wait()

	if ctxErr != nil {
		return nil, ctxErr
	}

	candidates := make([]domain.Candidate, 0, len(jobs))
	for _, c := range results {
		if c != nil {
			candidates = append(candidates, *c)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].MetricValue(metric) > candidates[j].MetricValue(metric)
	})

	a.log.Info().
		Int64("timestamp", view.Timestamp).
		Int("combinations", len(jobs)).
		Int("candidates", len(candidates)).
		Str("metric", string(metric)).
		Msg("scan complete")

	return candidates, nil
}

// evaluate runs one combination through its calculator. A rejected
// combination yields nil.
func (a *Analyzer) evaluate(j job) *domain.Candidate {
	analysis, err := j.calc.AnalyzeStrategy(j.data)
	if err != nil {
		a.log.Debug().
			Str("variant", j.calc.Variant()).
			Err(err).
			Msg("combination rejected")
		return nil
	}

	return &domain.Candidate{
		CandidateID:          idhash.ComputeCandidateID(j.calc.Variant(), j.legs),
		Variant:              j.calc.Variant(),
		Legs:                 j.legs,
		Multipliers:          analysis.Multipliers,
		GrossAPR:             analysis.GrossAPR,
		NetAPR:               analysis.NetAPR,
		APR5:                 analysis.APR5,
		APR30:                analysis.APR30,
		APR90:                analysis.APR90,
		BreakevenDays:        analysis.BreakevenDays,
		TotalUpfrontFee:      analysis.TotalUpfrontFee,
		LiquidationDistances: analysis.LiquidationDistances,
	}
}

// enumerate walks every combination each calculator's leg structure admits,
// in a fixed order: calculators as configured, then protocols and tokens in
// sorted order. Combinations with missing snapshots are not emitted.
func (a *Analyzer) enumerate(view *MarketView) []job {
	var jobs []job
	add := func(calc strategy.Calculator, legs []domain.Leg, data []strategy.LegMarketData) {
		jobs = append(jobs, job{idx: len(jobs), calc: calc, legs: legs, data: data})
	}

	for _, calc := range a.calcs {
		switch calc.Variant() {
		case domain.VariantStablecoinLending:
			enumerateStablecoin(view, calc, add)
		case domain.VariantNoLoopCrossProtocol:
			enumerateCrossProtocol(view, calc, add)
		case domain.VariantRecursiveLending:
			enumerateRecursive(view, calc, add)
		case domain.VariantPerpLending:
			enumeratePerpLending(view, calc, add)
		case domain.VariantPerpBorrowing, domain.VariantPerpBorrowingRecursive:
			enumeratePerpBorrowing(view, calc, add)
		}
	}
	return jobs
}

type addFunc func(strategy.Calculator, []domain.Leg, []strategy.LegMarketData)

func enumerateStablecoin(view *MarketView, calc strategy.Calculator, add addFunc) {
	for _, p := range view.LendingProtocols() {
		for _, t := range view.Tokens() {
			if !view.Stable(t) {
				continue
			}
			snap := view.Snapshot(p, t)
			if snap == nil {
				continue
			}
			add(calc,
				[]domain.Leg{{Token: t, Protocol: p, Side: domain.SideLend}},
				[]strategy.LegMarketData{{Snapshot: snap}})
		}
	}
}

func enumerateCrossProtocol(view *MarketView, calc strategy.Calculator, add addFunc) {
	for _, p := range view.LendingProtocols() {
		for _, q := range view.LendingProtocols() {
			if p == q {
				continue
			}
			for _, ta := range view.Tokens() {
				for _, tb := range view.Tokens() {
					if ta == tb {
						continue
					}
					lendA := view.Snapshot(p, ta)
					borrowB := view.Snapshot(p, tb)
					lendB := view.Snapshot(q, tb)
					if lendA == nil || borrowB == nil || lendB == nil {
						continue
					}
					add(calc,
						[]domain.Leg{
							{Token: ta, Protocol: p, Side: domain.SideLend},
							{Token: tb, Protocol: p, Side: domain.SideBorrow},
							{Token: tb, Protocol: q, Side: domain.SideLend},
						},
						[]strategy.LegMarketData{
							{Snapshot: lendA},
							{Snapshot: borrowB},
							{Snapshot: lendB},
						})
				}
			}
		}
	}
}

func enumerateRecursive(view *MarketView, calc strategy.Calculator, add addFunc) {
	for _, p := range view.LendingProtocols() {
		for _, q := range view.LendingProtocols() {
			if p == q {
				continue
			}
			for _, ta := range view.Tokens() {
				for _, tb := range view.Tokens() {
					if ta == tb {
						continue
					}
					lendA := view.Snapshot(p, ta)
					borrowB := view.Snapshot(p, tb)
					lendB := view.Snapshot(q, tb)
					borrowA := view.Snapshot(q, ta)
					if lendA == nil || borrowB == nil || lendB == nil || borrowA == nil {
						continue
					}
					add(calc,
						[]domain.Leg{
							{Token: ta, Protocol: p, Side: domain.SideLend},
							{Token: tb, Protocol: p, Side: domain.SideBorrow},
							{Token: tb, Protocol: q, Side: domain.SideLend},
							{Token: ta, Protocol: q, Side: domain.SideBorrow},
						},
						[]strategy.LegMarketData{
							{Snapshot: lendA},
							{Snapshot: borrowB},
							{Snapshot: lendB},
							{Snapshot: borrowA},
						})
				}
			}
		}
	}
}

func enumeratePerpLending(view *MarketView, calc strategy.Calculator, add addFunc) {
	for _, p := range view.LendingProtocols() {
		for _, m := range view.PerpMarkets() {
			for _, t := range view.Tokens() {
				lend := view.Snapshot(p, t)
				funding := view.Snapshot(m, t)
				if lend == nil || funding == nil {
					continue
				}
				perpData, ok := resolvePerpLeg(view, m, t, funding, domain.SidePerpShort)
				if !ok {
					continue
				}
				add(calc,
					[]domain.Leg{
						{Token: t, Protocol: p, Side: domain.SideLend},
						{Token: t, Protocol: m, Side: domain.SidePerpShort},
					},
					[]strategy.LegMarketData{{Snapshot: lend}, perpData})
			}
		}
	}
}

func enumeratePerpBorrowing(view *MarketView, calc strategy.Calculator, add addFunc) {
	for _, p := range view.LendingProtocols() {
		for _, m := range view.PerpMarkets() {
			for _, s := range view.Tokens() {
				if !view.Stable(s) {
					continue
				}
				for _, v := range view.Tokens() {
					if view.Stable(v) {
						continue
					}
					lendS := view.Snapshot(p, s)
					borrowV := view.Snapshot(p, v)
					funding := view.Snapshot(m, v)
					if lendS == nil || borrowV == nil || funding == nil {
						continue
					}
					perpData, ok := resolvePerpLeg(view, m, v, funding, domain.SidePerpLong)
					if !ok {
						continue
					}
					add(calc,
						[]domain.Leg{
							{Token: s, Protocol: p, Side: domain.SideLend},
							{Token: v, Protocol: p, Side: domain.SideBorrow},
							{Token: v, Protocol: m, Side: domain.SidePerpLong},
						},
						[]strategy.LegMarketData{
							{Snapshot: lendS},
							{Snapshot: borrowV},
							perpData,
						})
				}
			}
		}
	}
}

// resolvePerpLeg resolves the directional price for a perp leg. A basis row,
// when present, must carry a positive price for the trade direction (sell
// hits the perp bid, buy lifts the perp ask) or the combination is skipped.
// A missing basis row falls back to the funding snapshot's general price.
func resolvePerpLeg(view *MarketView, market, token string, funding *domain.RateSnapshot, side domain.Side) (strategy.LegMarketData, bool) {
	data := strategy.LegMarketData{Snapshot: funding}

	b := view.Basis(market, token)
	if b == nil {
		return data, true
	}

	price := b.PerpBid
	if side == domain.SidePerpLong {
		price = b.PerpAsk
	}
	if price <= 0 {
		return strategy.LegMarketData{}, false
	}

	data.EffectivePrice = price
	return data, true
}
