package analyzer

import (
	"sort"

	"lending-strategy-lab/internal/domain"
)

type pairKey struct {
	protocol string
	token    string
}

// MarketView is one immutable cross-section of the market at a single
// timestamp: lending-protocol rate snapshots, perp funding snapshots and
// directional basis prices. Scans never mutate it, so a view can be shared
// across concurrent evaluations.
type MarketView struct {
	Timestamp int64

	snapshots map[pairKey]*domain.RateSnapshot
	basis     map[pairKey]*domain.BasisPrice

	perpMarkets  map[string]bool
	stableTokens map[string]bool

	lendProtocols []string // sorted, perp markets excluded
	perpList      []string // sorted
	tokens        []string // sorted union over lending protocols
}

// ViewConfig names the perp venues and the stable-token set. Protocols not
// listed as perp markets are treated as lending protocols.
type ViewConfig struct {
	PerpMarkets  []string
	StableTokens []string
}

// NewMarketView indexes snapshots and basis prices for combination
// enumeration. Rows not matching the view timestamp are ignored.
func NewMarketView(timestamp int64, snapshots []domain.RateSnapshot, basis []domain.BasisPrice, cfg ViewConfig) *MarketView {
	v := &MarketView{
		Timestamp:    timestamp,
		snapshots:    make(map[pairKey]*domain.RateSnapshot),
		basis:        make(map[pairKey]*domain.BasisPrice),
		perpMarkets:  make(map[string]bool, len(cfg.PerpMarkets)),
		stableTokens: make(map[string]bool, len(cfg.StableTokens)),
	}
	for _, m := range cfg.PerpMarkets {
		v.perpMarkets[m] = true
	}
	for _, t := range cfg.StableTokens {
		v.stableTokens[t] = true
	}

	protoSeen := make(map[string]bool)
	tokenSeen := make(map[string]bool)
	for i := range snapshots {
		s := snapshots[i]
		if s.Timestamp != timestamp {
			continue
		}
		v.snapshots[pairKey{s.Protocol, s.Token}] = &s
		if v.perpMarkets[s.Protocol] {
			continue
		}
		if !protoSeen[s.Protocol] {
			protoSeen[s.Protocol] = true
			v.lendProtocols = append(v.lendProtocols, s.Protocol)
		}
		if !tokenSeen[s.Token] {
			tokenSeen[s.Token] = true
			v.tokens = append(v.tokens, s.Token)
		}
	}
	for i := range basis {
		b := basis[i]
		if b.Timestamp != timestamp {
			continue
		}
		v.basis[pairKey{b.Market, b.Token}] = &b
	}

	for m := range v.perpMarkets {
		v.perpList = append(v.perpList, m)
	}

	// Enumeration order must not depend on map iteration.
	sort.Strings(v.lendProtocols)
	sort.Strings(v.perpList)
	sort.Strings(v.tokens)

	return v
}

// Snapshot returns the rate snapshot for a (protocol, token) pair, nil when
// the pair was not observed at the view timestamp.
func (v *MarketView) Snapshot(protocol, token string) *domain.RateSnapshot {
	return v.snapshots[pairKey{protocol, token}]
}

// Basis returns the directional basis row for (market, token), nil when
// absent.
func (v *MarketView) Basis(market, token string) *domain.BasisPrice {
	return v.basis[pairKey{market, token}]
}

// LendingProtocols returns the sorted lending protocols in the view.
func (v *MarketView) LendingProtocols() []string { return v.lendProtocols }

// PerpMarkets returns the sorted perp venues configured for the view.
func (v *MarketView) PerpMarkets() []string { return v.perpList }

// Tokens returns the sorted tokens observed on lending protocols.
func (v *MarketView) Tokens() []string { return v.tokens }

// Stable reports whether a token is in the configured stable set.
func (v *MarketView) Stable(token string) bool { return v.stableTokens[token] }
