// Package allocator turns a ranked candidate list into a constrained
// portfolio: confidence-weighted scoring, a deterministic greedy selection
// pass and a separate atomic commit into the position ledger.
package allocator

import (
	"context"
	"errors"
	"sort"

	"github.com/rs/zerolog"

	"lending-strategy-lab/internal/domain"
	"lending-strategy-lab/internal/idhash"
	"lending-strategy-lab/internal/ledger"
	"lending-strategy-lab/internal/storage"
)

// ErrNoCandidates is returned when an allocation pass has nothing to select.
var ErrNoCandidates = errors.New("no candidates satisfy the constraints")

// allocationEpsilon stops the selection loop once uncommitted capital falls
// below this fraction of portfolio size.
const allocationEpsilon = 1e-6

// Allocator scores and selects candidates under exposure constraints.
// Allocate has no side effects; only Commit persists.
type Allocator struct {
	rates      storage.SnapshotStore
	positions  storage.PositionStore
	portfolios storage.PortfolioStore
	ledger     *ledger.Ledger
	log        zerolog.Logger
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithLogger attaches a component logger.
func WithLogger(log zerolog.Logger) Option {
	return func(a *Allocator) { a.log = log }
}

// New creates an Allocator over the given stores and ledger.
func New(rates storage.SnapshotStore, positions storage.PositionStore, portfolios storage.PortfolioStore, led *ledger.Ledger, opts ...Option) *Allocator {
	a := &Allocator{
		rates:      rates,
		positions:  positions,
		portfolios: portfolios,
		ledger:     led,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Score computes the blended APR and confidence for every candidate,
// preserving input order.
func (a *Allocator) Score(ctx context.Context, candidates []domain.Candidate, constraints domain.AllocationConstraints, asOf int64) ([]domain.ScoredCandidate, error) {
	if err := constraints.Validate(); err != nil {
		return nil, err
	}

	scored := make([]domain.ScoredCandidate, len(candidates))
	for i := range candidates {
		c := &candidates[i]
		conf, err := a.confidence(ctx, c, constraints.Confidence, asOf)
		if err != nil {
			return nil, err
		}
		scored[i] = domain.ScoredCandidate{
			Candidate:  c,
			BlendedAPR: constraints.Weights.Blend(c),
			Confidence: conf,
		}
	}
	return scored, nil
}

// Allocate runs one scoring plus selection pass over candidates at asOf. The
// greedy loop processes candidates in blended-APR order and is strictly
// sequential: running exposure totals feed back into every acceptance check.
// Nothing is persisted.
func (a *Allocator) Allocate(ctx context.Context, candidates []domain.Candidate, constraints domain.AllocationConstraints, asOf int64) (*domain.AllocationResult, error) {
	scored, err := a.Score(ctx, candidates, constraints, asOf)
	if err != nil {
		return nil, err
	}

	ranked := rankByBlendedAPR(scored)

	result := &domain.AllocationResult{
		TokenExposureUSD:    make(map[string]float64),
		ProtocolExposureUSD: make(map[string]float64),
	}

	size := constraints.PortfolioSizeUSD
	remaining := size
	tokenLimitUSD := constraints.TokenExposureLimit * size
	protocolLimitUSD := constraints.ProtocolExposureLimit * size

	for _, sc := range ranked {
		if len(result.Selected) >= constraints.MaxStrategies {
			break
		}
		if remaining < allocationEpsilon*size {
			break
		}
		if sc.Confidence < constraints.MinConfidence {
			continue
		}

		slotsLeft := constraints.MaxStrategies - len(result.Selected)
		share := remaining / float64(slotsLeft)

		// Cap the equal share by the candidate's own exposure headroom.
		alloc := share
		for _, token := range sc.Candidate.Tokens() {
			if headroom := tokenLimitUSD - result.TokenExposureUSD[token]; headroom < alloc {
				alloc = headroom
			}
		}
		for _, protocol := range sc.Candidate.Protocols() {
			if headroom := protocolLimitUSD - result.ProtocolExposureUSD[protocol]; headroom < alloc {
				alloc = headroom
			}
		}
		if alloc <= 0 {
			continue
		}

		result.Selected = append(result.Selected, domain.SelectedCandidate{
			ScoredCandidate: sc,
			AllocationUSD:   alloc,
		})
		for _, token := range sc.Candidate.Tokens() {
			result.TokenExposureUSD[token] += alloc
		}
		for _, protocol := range sc.Candidate.Protocols() {
			result.ProtocolExposureUSD[protocol] += alloc
		}
		result.TotalAllocatedUSD += alloc
		remaining -= alloc
	}

	if len(result.Selected) == 0 {
		return nil, ErrNoCandidates
	}

	a.log.Info().
		Int("candidates", len(candidates)).
		Int("selected", len(result.Selected)).
		Float64("allocated_usd", result.TotalAllocatedUSD).
		Int64("as_of", asOf).
		Msg("allocation pass complete")

	return result, nil
}

// Commit persists an allocation result: one position per selected candidate,
// inserted as a single atomic batch, plus the portfolio record binding them.
// Either every leg of every strategy lands or nothing does.
func (a *Allocator) Commit(ctx context.Context, result *domain.AllocationResult, constraints domain.AllocationConstraints, asOf int64) (*domain.Portfolio, error) {
	if result == nil || len(result.Selected) == 0 {
		return nil, ErrNoCandidates
	}

	portfolioID := idhash.NewPositionID(asOf)

	positions := make([]*domain.Position, len(result.Selected))
	for i, sel := range result.Selected {
		p, err := a.ledger.BuildPosition(ctx, sel.Candidate, sel.AllocationUSD, portfolioID, asOf)
		if err != nil {
			return nil, err
		}
		positions[i] = p
	}

	if err := a.positions.InsertBulk(ctx, positions); err != nil {
		return nil, err
	}

	portfolio := &domain.Portfolio{
		PortfolioID:         portfolioID,
		CreatedAt:           asOf,
		Constraints:         constraints,
		TotalAllocatedUSD:   result.TotalAllocatedUSD,
		TokenExposureUSD:    result.TokenExposureUSD,
		ProtocolExposureUSD: result.ProtocolExposureUSD,
	}
	for _, p := range positions {
		portfolio.PositionIDs = append(portfolio.PositionIDs, p.PositionID)
	}

	if err := a.portfolios.Insert(ctx, portfolio); err != nil {
		return nil, err
	}

	a.log.Info().
		Str("portfolio_id", portfolioID).
		Int("positions", len(positions)).
		Float64("allocated_usd", result.TotalAllocatedUSD).
		Msg("allocation committed")

	return portfolio, nil
}

// rankByBlendedAPR orders scored candidates by blended APR descending,
// keeping input order on ties.
func rankByBlendedAPR(scored []domain.ScoredCandidate) []domain.ScoredCandidate {
	ranked := make([]domain.ScoredCandidate, len(scored))
	copy(ranked, scored)

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].BlendedAPR > ranked[j].BlendedAPR
	})
	return ranked
}
