package domain

import (
	"errors"
	"fmt"
	"math"
)

// ErrBadWeights is returned when blend weights do not sum to 1.0.
var ErrBadWeights = errors.New("blend weights must sum to 1.0")

const weightSumTolerance = 1e-9

// BlendWeights combine net and horizon-amortized APRs into the ranking key
// used by the allocator. Defaults are policy, not derived constants.
type BlendWeights struct {
	Net       float64 `yaml:"net"`
	Horizon5  float64 `yaml:"horizon_5d"`
	Horizon30 float64 `yaml:"horizon_30d"`
	Horizon90 float64 `yaml:"horizon_90d"`
}

// DefaultBlendWeights is the default APR blend (30/30/30/10).
var DefaultBlendWeights = BlendWeights{Net: 0.30, Horizon5: 0.30, Horizon30: 0.30, Horizon90: 0.10}

// Validate checks the weights sum to 1.0 within floating tolerance.
func (w BlendWeights) Validate() error {
	sum := w.Net + w.Horizon5 + w.Horizon30 + w.Horizon90
	if math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("%w: got %.6f", ErrBadWeights, sum)
	}
	for _, v := range []float64{w.Net, w.Horizon5, w.Horizon30, w.Horizon90} {
		if v < -weightSumTolerance {
			return fmt.Errorf("%w: negative weight %.6f", ErrBadWeights, v)
		}
	}
	return nil
}

// Blend applies the weights to a candidate's APR figures.
func (w BlendWeights) Blend(c *Candidate) float64 {
	return w.Net*c.NetAPR + w.Horizon5*c.APR5 + w.Horizon30*c.APR30 + w.Horizon90*c.APR90
}

// ConfidenceWeights blend the normal-tail base confidence with short-horizon
// consistency ratios. Policy parameters with spec'd defaults.
type ConfidenceWeights struct {
	Base          float64 `yaml:"base"`
	Consistency5  float64 `yaml:"consistency_5d"`
	Consistency30 float64 `yaml:"consistency_30d"`
}

// DefaultConfidenceWeights is the default confidence blend (0.60/0.25/0.15).
var DefaultConfidenceWeights = ConfidenceWeights{Base: 0.60, Consistency5: 0.25, Consistency30: 0.15}

// AllocationConstraints is the constraint set a portfolio was built under.
// Recorded on the portfolio at creation time.
type AllocationConstraints struct {
	PortfolioSizeUSD      float64           `yaml:"portfolio_size_usd"`
	MaxStrategies         int               `yaml:"max_strategies"`
	TokenExposureLimit    float64           `yaml:"token_exposure_limit"`    // fraction of portfolio size
	ProtocolExposureLimit float64           `yaml:"protocol_exposure_limit"` // fraction of portfolio size
	MinConfidence         float64           `yaml:"min_confidence"`
	Weights               BlendWeights      `yaml:"blend_weights"`
	Confidence            ConfidenceWeights `yaml:"confidence_weights"`
}

// Validate checks the constraint set is internally consistent.
func (c AllocationConstraints) Validate() error {
	if c.PortfolioSizeUSD <= 0 {
		return fmt.Errorf("portfolio size must be positive, got %.2f", c.PortfolioSizeUSD)
	}
	if c.MaxStrategies <= 0 {
		return fmt.Errorf("max strategies must be positive, got %d", c.MaxStrategies)
	}
	if c.TokenExposureLimit <= 0 || c.TokenExposureLimit > 1 {
		return fmt.Errorf("token exposure limit must be in (0,1], got %.4f", c.TokenExposureLimit)
	}
	if c.ProtocolExposureLimit <= 0 || c.ProtocolExposureLimit > 1 {
		return fmt.Errorf("protocol exposure limit must be in (0,1], got %.4f", c.ProtocolExposureLimit)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min confidence must be in [0,1], got %.4f", c.MinConfidence)
	}
	return c.Weights.Validate()
}

// ScoredCandidate is a candidate with its allocator ranking inputs.
type ScoredCandidate struct {
	Candidate  *Candidate
	BlendedAPR float64
	Confidence float64
}

// SelectedCandidate is one accepted candidate with its allocation.
type SelectedCandidate struct {
	ScoredCandidate
	AllocationUSD float64
}

// AllocationResult is the outcome of one allocation pass. Nothing is
// persisted until the result is explicitly committed.
type AllocationResult struct {
	Selected            []SelectedCandidate
	TokenExposureUSD    map[string]float64
	ProtocolExposureUSD map[string]float64
	TotalAllocatedUSD   float64
}

// Portfolio groups positions deployed together under one constraint set.
// Aggregate exposure figures are recomputed at query time, not stored state.
type Portfolio struct {
	PortfolioID string // ULID
	CreatedAt   int64
	Constraints AllocationConstraints
	PositionIDs []string

	TotalAllocatedUSD   float64
	TokenExposureUSD    map[string]float64
	ProtocolExposureUSD map[string]float64
}
