package allocator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lending-strategy-lab/internal/domain"
	"lending-strategy-lab/internal/ledger"
	"lending-strategy-lab/internal/storage/memory"
)

const (
	tokUSDC = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	tokUSDT = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"
	tokSOL  = "So11111111111111111111111111111111111111112"

	day  = int64(24 * 3600)
	asOf = int64(100 * day)
)

type fixture struct {
	allocator  *Allocator
	rates      *memory.SnapshotStore
	positions  *memory.PositionStore
	portfolios *memory.PortfolioStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		rates:      memory.NewSnapshotStore(),
		positions:  memory.NewPositionStore(),
		portfolios: memory.NewPortfolioStore(),
	}
	segments := memory.NewSegmentStore()
	led := ledger.New(f.positions, segments, f.rates)
	f.allocator = New(f.rates, f.positions, f.portfolios, led)
	return f
}

// seedHistory writes daily lend snapshots for (protocol, token) over the
// trailing window, ending at asOf with rate last.
func (f *fixture) seedHistory(t *testing.T, protocol, token string, rates []float64, last float64) {
	t.Helper()
	var rows []*domain.RateSnapshot
	for i, r := range rates {
		rows = append(rows, &domain.RateSnapshot{
			Timestamp:            asOf - int64(len(rates)-i)*day,
			Protocol:             protocol,
			Token:                token,
			LendBaseAPR:          r,
			CollateralRatio:      0.70,
			LiquidationThreshold: 0.80,
			BorrowWeight:         1.0,
			PriceUSD:             1.0,
		})
	}
	rows = append(rows, &domain.RateSnapshot{
		Timestamp:            asOf,
		Protocol:             protocol,
		Token:                token,
		LendBaseAPR:          last,
		CollateralRatio:      0.70,
		LiquidationThreshold: 0.80,
		BorrowWeight:         1.0,
		PriceUSD:             1.0,
	})
	require.NoError(t, f.rates.InsertBulk(context.Background(), rows))
}

func lendCandidate(id, token, protocol string, netAPR float64) domain.Candidate {
	return domain.Candidate{
		CandidateID: id,
		Variant:     domain.VariantStablecoinLending,
		Legs:        []domain.Leg{{Token: token, Protocol: protocol, Side: domain.SideLend}},
		Multipliers: domain.Multipliers{LendA: 1},
		GrossAPR:    netAPR,
		NetAPR:      netAPR,
		APR5:        netAPR,
		APR30:       netAPR,
		APR90:       netAPR,
	}
}

func defaultConstraints() domain.AllocationConstraints {
	return domain.AllocationConstraints{
		PortfolioSizeUSD:      10_000,
		MaxStrategies:         3,
		TokenExposureLimit:    0.50,
		ProtocolExposureLimit: 0.50,
		MinConfidence:         0,
		Weights:               domain.DefaultBlendWeights,
		Confidence:            domain.DefaultConfidenceWeights,
	}
}

func TestAllocate_ExposureCapAppliedNotExceeded(t *testing.T) {
	// Portfolio 10000, token limit 0.30: a candidate wanting the full 5000
	// equal share must be capped at 3000, never allocated 5000.
	f := newFixture(t)
	f.seedHistory(t, "drift", tokUSDC, nil, 0.05)

	constraints := defaultConstraints()
	constraints.MaxStrategies = 2
	constraints.TokenExposureLimit = 0.30

	result, err := f.allocator.Allocate(context.Background(),
		[]domain.Candidate{lendCandidate("c1", tokUSDC, "drift", 0.05)},
		constraints, asOf)
	require.NoError(t, err)

	require.Len(t, result.Selected, 1)
	assert.InDelta(t, 3000, result.Selected[0].AllocationUSD, 1e-9)
	assert.InDelta(t, 3000, result.TokenExposureUSD[tokUSDC], 1e-9)
}

func TestAllocate_ExposureBoundHoldsAcrossCandidates(t *testing.T) {
	f := newFixture(t)
	f.seedHistory(t, "drift", tokUSDC, nil, 0.08)
	f.seedHistory(t, "kamino", tokUSDC, nil, 0.06)
	f.seedHistory(t, "drift", tokUSDT, nil, 0.05)

	constraints := defaultConstraints()
	constraints.TokenExposureLimit = 0.40
	constraints.ProtocolExposureLimit = 0.60

	candidates := []domain.Candidate{
		lendCandidate("c1", tokUSDC, "drift", 0.08),
		lendCandidate("c2", tokUSDC, "kamino", 0.06),
		lendCandidate("c3", tokUSDT, "drift", 0.05),
	}

	result, err := f.allocator.Allocate(context.Background(), candidates, constraints, asOf)
	require.NoError(t, err)

	size := constraints.PortfolioSizeUSD
	for token, exposure := range result.TokenExposureUSD {
		assert.LessOrEqual(t, exposure/size, constraints.TokenExposureLimit+1e-9, "token %s", token)
	}
	for protocol, exposure := range result.ProtocolExposureUSD {
		assert.LessOrEqual(t, exposure/size, constraints.ProtocolExposureLimit+1e-9, "protocol %s", protocol)
	}
	assert.LessOrEqual(t, result.TotalAllocatedUSD, size+1e-9)
}

func TestAllocate_RankedByBlendedAPR(t *testing.T) {
	f := newFixture(t)
	f.seedHistory(t, "drift", tokUSDC, nil, 0.03)
	f.seedHistory(t, "kamino", tokUSDT, nil, 0.09)

	constraints := defaultConstraints()
	constraints.MaxStrategies = 1

	candidates := []domain.Candidate{
		lendCandidate("low", tokUSDC, "drift", 0.03),
		lendCandidate("high", tokUSDT, "kamino", 0.09),
	}

	result, err := f.allocator.Allocate(context.Background(), candidates, constraints, asOf)
	require.NoError(t, err)

	require.Len(t, result.Selected, 1)
	assert.Equal(t, "high", result.Selected[0].Candidate.CandidateID)
}

func TestAllocate_MinConfidenceFilters(t *testing.T) {
	f := newFixture(t)
	f.seedHistory(t, "drift", tokUSDC, nil, 0.05)

	constraints := defaultConstraints()
	constraints.MinConfidence = 0.99

	_, err := f.allocator.Allocate(context.Background(),
		[]domain.Candidate{lendCandidate("c1", tokUSDC, "drift", 0.05)},
		constraints, asOf)
	assert.ErrorIs(t, err, ErrNoCandidates)
}

func TestAllocate_BadWeightsRejected(t *testing.T) {
	f := newFixture(t)

	constraints := defaultConstraints()
	constraints.Weights = domain.BlendWeights{Net: 0.9, Horizon5: 0.9}

	_, err := f.allocator.Allocate(context.Background(),
		[]domain.Candidate{lendCandidate("c1", tokUSDC, "drift", 0.05)},
		constraints, asOf)
	assert.ErrorIs(t, err, domain.ErrBadWeights)
}

func TestScore_SpikedAPRGetsLowerConfidence(t *testing.T) {
	f := newFixture(t)

	// Sixty days of stable history around 5% for both combinations.
	history := make([]float64, 60)
	for i := range history {
		history[i] = 0.05
		if i%2 == 0 {
			history[i] = 0.052
		}
	}
	f.seedHistory(t, "drift", tokUSDC, history, 0.05)
	f.seedHistory(t, "kamino", tokUSDT, history, 0.15)

	typical := lendCandidate("typical", tokUSDC, "drift", 0.05)
	spiked := lendCandidate("spiked", tokUSDT, "kamino", 0.15)

	scored, err := f.allocator.Score(context.Background(),
		[]domain.Candidate{typical, spiked}, defaultConstraints(), asOf)
	require.NoError(t, err)

	require.Len(t, scored, 2)
	assert.Greater(t, scored[0].Confidence, scored[1].Confidence,
		"a spiked current APR must score lower than a typical one")
}

func TestScore_FewSamplesNeutralBase(t *testing.T) {
	f := newFixture(t)
	// Three samples, below the floor of seven.
	f.seedHistory(t, "drift", tokUSDC, []float64{0.05, 0.05}, 0.05)

	c := lendCandidate("c1", tokUSDC, "drift", 0.05)
	scored, err := f.allocator.Score(context.Background(),
		[]domain.Candidate{c}, defaultConstraints(), asOf)
	require.NoError(t, err)

	// Base is neutral 0.5; both consistency terms are 1 (horizon APRs equal
	// current): 0.60*0.5 + 0.25 + 0.15.
	assert.InDelta(t, 0.70, scored[0].Confidence, 1e-9)
}

func TestNetAPRHistory_LegWithoutHistoryDropsSamples(t *testing.T) {
	f := newFixture(t)

	// Lend leg observed for ten days, perp leg only for the last three: only
	// the timestamps where both legs resolve an at-or-before rate survive.
	f.seedHistory(t, "drift", tokSOL, []float64{0.05, 0.05, 0.05, 0.05, 0.05, 0.05, 0.05, 0.05, 0.05}, 0.05)
	f.seedHistory(t, "drift-perp", tokSOL, []float64{0.01, 0.01}, 0.01)

	c := domain.Candidate{
		CandidateID: "c1",
		Variant:     domain.VariantPerpLending,
		Legs: []domain.Leg{
			{Token: tokSOL, Protocol: "drift", Side: domain.SideLend},
			{Token: tokSOL, Protocol: "drift-perp", Side: domain.SidePerpShort},
		},
		Multipliers: domain.Multipliers{LendA: 1, LendB: 1},
		NetAPR:      0.06,
	}

	samples, err := f.allocator.netAPRHistory(context.Background(), &c, asOf)
	require.NoError(t, err)

	require.Len(t, samples, 3)
	for _, s := range samples {
		assert.InDelta(t, 0.06, s, 1e-9)
	}
}

func TestCommit_AtomicBatchWithPortfolio(t *testing.T) {
	f := newFixture(t)
	f.seedHistory(t, "drift", tokUSDC, nil, 0.08)
	f.seedHistory(t, "kamino", tokUSDT, nil, 0.06)

	candidates := []domain.Candidate{
		lendCandidate("c1", tokUSDC, "drift", 0.08),
		lendCandidate("c2", tokUSDT, "kamino", 0.06),
	}

	ctx := context.Background()
	result, err := f.allocator.Allocate(ctx, candidates, defaultConstraints(), asOf)
	require.NoError(t, err)
	require.Len(t, result.Selected, 2)

	portfolio, err := f.allocator.Commit(ctx, result, defaultConstraints(), asOf)
	require.NoError(t, err)
	require.Len(t, portfolio.PositionIDs, 2)

	stored, err := f.portfolios.GetByID(ctx, portfolio.PortfolioID)
	require.NoError(t, err)
	assert.Equal(t, portfolio.TotalAllocatedUSD, stored.TotalAllocatedUSD)

	deployed, err := f.positions.GetByPortfolio(ctx, portfolio.PortfolioID)
	require.NoError(t, err)
	require.Len(t, deployed, 2)
	for _, p := range deployed {
		assert.Equal(t, domain.StatusActive, p.Status)
		assert.Equal(t, portfolio.PortfolioID, p.PortfolioID)
		assert.Positive(t, p.CapitalUSD)
	}
}

func TestCommit_NothingWithoutSelection(t *testing.T) {
	f := newFixture(t)

	_, err := f.allocator.Commit(context.Background(), &domain.AllocationResult{}, defaultConstraints(), asOf)
	assert.ErrorIs(t, err, ErrNoCandidates)
}

func TestAllocate_DeterministicRepeat(t *testing.T) {
	f := newFixture(t)
	f.seedHistory(t, "drift", tokUSDC, nil, 0.08)
	f.seedHistory(t, "kamino", tokUSDT, nil, 0.06)

	candidates := []domain.Candidate{
		lendCandidate("c1", tokUSDC, "drift", 0.08),
		lendCandidate("c2", tokUSDT, "kamino", 0.06),
	}

	first, err := f.allocator.Allocate(context.Background(), candidates, defaultConstraints(), asOf)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		again, err := f.allocator.Allocate(context.Background(), candidates, defaultConstraints(), asOf)
		require.NoError(t, err)
		require.Len(t, again.Selected, len(first.Selected))
		for j := range again.Selected {
			assert.Equal(t, first.Selected[j].Candidate.CandidateID, again.Selected[j].Candidate.CandidateID)
			assert.Equal(t, first.Selected[j].AllocationUSD, again.Selected[j].AllocationUSD)
		}
	}
}
