package domain

// Strategy variant constants. A variant fixes the leg structure and sizing
// rule of a leveraged position.
const (
	VariantStablecoinLending      = "STABLECOIN_LENDING"
	VariantNoLoopCrossProtocol    = "NO_LOOP_CROSS_PROTOCOL"
	VariantRecursiveLending       = "RECURSIVE_LENDING"
	VariantPerpLending            = "PERP_LENDING"
	VariantPerpBorrowing          = "PERP_BORROWING"
	VariantPerpBorrowingRecursive = "PERP_BORROWING_RECURSIVE"
)

// Side identifies how a leg participates in a strategy.
type Side string

const (
	SideLend      Side = "LEND"
	SideBorrow    Side = "BORROW"
	SidePerpLong  Side = "PERP_LONG"
	SidePerpShort Side = "PERP_SHORT"
)

// Leg is one token-protocol lend or borrow step within a multi-leg strategy.
type Leg struct {
	Token    string // token contract address
	Protocol string // lending protocol, or perp market key for perp legs
	Side     Side
}

// Multipliers are position sizes per unit of deployed capital. Slot A is the
// primary collateral protocol, slot B the counter protocol (or perp market).
type Multipliers struct {
	LendA   float64
	BorrowA float64
	LendB   float64
	BorrowB float64
}

// LiqDistance is the liquidation safety buffer for one leg.
// Indeterminate is set when a required price was non-positive; the value must
// then never be sorted or averaged as if numeric.
type LiqDistance struct {
	Leg           int // index into Candidate.Legs
	Value         float64
	Indeterminate bool
}

// Candidate is one analyzed token/protocol/variant combination. Candidates
// are ephemeral: computed on demand and never persisted directly.
type Candidate struct {
	CandidateID string // deterministic hash of the combination
	Variant     string
	Legs        []Leg

	Multipliers Multipliers

	GrossAPR        float64
	NetAPR          float64
	APR5            float64 // 5-day fee-amortized
	APR30           float64
	APR90           float64
	BreakevenDays   float64 // +Inf when fees can never be recovered
	TotalUpfrontFee float64 // per unit of capital

	LiquidationDistances []LiqDistance
}

// APRMetric selects which APR figure ranks candidates.
type APRMetric string

const (
	MetricNetAPR APRMetric = "NET_APR"
	MetricAPR5   APRMetric = "APR_5D"
	MetricAPR30  APRMetric = "APR_30D"
	MetricAPR90  APRMetric = "APR_90D"
)

// MetricValue returns the candidate's value for a ranking metric.
func (c *Candidate) MetricValue(m APRMetric) float64 {
	switch m {
	case MetricAPR5:
		return c.APR5
	case MetricAPR30:
		return c.APR30
	case MetricAPR90:
		return c.APR90
	default:
		return c.NetAPR
	}
}

// Tokens returns the distinct token contracts the candidate touches, in leg
// order.
func (c *Candidate) Tokens() []string {
	seen := make(map[string]struct{}, len(c.Legs))
	var tokens []string
	for _, leg := range c.Legs {
		if _, ok := seen[leg.Token]; ok {
			continue
		}
		seen[leg.Token] = struct{}{}
		tokens = append(tokens, leg.Token)
	}
	return tokens
}

// Protocols returns the distinct protocols the candidate touches, in leg
// order.
func (c *Candidate) Protocols() []string {
	seen := make(map[string]struct{}, len(c.Legs))
	var protocols []string
	for _, leg := range c.Legs {
		if _, ok := seen[leg.Protocol]; ok {
			continue
		}
		seen[leg.Protocol] = struct{}{}
		protocols = append(protocols, leg.Protocol)
	}
	return protocols
}

// StrategyConfig selects and parameterizes a strategy variant for the
// calculator factory.
type StrategyConfig struct {
	Variant string

	// LiquidationDistance is the safety buffer d kept between current
	// loan-to-value and the liquidation threshold. Required for every
	// leveraged variant.
	LiquidationDistance *float64
}
