package allocator

import (
	"context"
	"errors"

	"lending-strategy-lab/internal/domain"
	"lending-strategy-lab/internal/lookup"
	"lending-strategy-lab/internal/stats"
	"lending-strategy-lab/internal/storage"
	"lending-strategy-lab/internal/strategy"
)

const (
	// ConfidenceWindowSeconds is the trailing history window for net APR
	// samples.
	ConfidenceWindowSeconds = 60 * 24 * 3600

	// MinConfidenceSamples is the sample floor below which confidence is
	// neutral.
	MinConfidenceSamples = 7

	neutralConfidence = 0.5
)

// confidence scores one candidate against its trailing net APR history at
// asOf. An unusually high current APR scores low (mean reversion risk), an
// unusually low one scores high. Fewer than MinConfidenceSamples samples, or
// a flat history, default the base score to neutral.
func (a *Allocator) confidence(ctx context.Context, c *domain.Candidate, weights domain.ConfidenceWeights, asOf int64) (float64, error) {
	samples, err := a.netAPRHistory(ctx, c, asOf)
	if err != nil {
		return 0, err
	}

	base := neutralConfidence
	if len(samples) >= MinConfidenceSamples {
		mean := stats.Mean(samples)
		stddev := stats.Stddev(samples, mean)
		if stddev > 0 {
			z := (c.NetAPR - mean) / stddev
			base = stats.NormalUpperTail(z)
		}
	}

	blended := weights.Base*base +
		weights.Consistency5*consistency(c.APR5, c.NetAPR) +
		weights.Consistency30*consistency(c.APR30, c.NetAPR)

	return stats.Clamp(blended, 0, 1), nil
}

// consistency measures how much of the current APR a fee-amortized horizon
// keeps: clamp(x/current, 0, 1), neutral when the current APR is not
// positive.
func consistency(x, current float64) float64 {
	if current <= 0 {
		return neutralConfidence
	}
	return stats.Clamp(x/current, 0, 1)
}

// netAPRHistory recomputes the candidate's net APR at every observation
// timestamp of its first leg inside the trailing window, marking the other
// legs to their at-or-before rates. Timestamps where any leg has no history
// yet are dropped.
func (a *Allocator) netAPRHistory(ctx context.Context, c *domain.Candidate, asOf int64) ([]float64, error) {
	if len(c.Legs) == 0 {
		return nil, nil
	}

	specs, err := strategy.RequiredLegsFor(c.Variant)
	if err != nil {
		return nil, err
	}

	windowStart := asOf - ConfidenceWindowSeconds
	series := make([][]*domain.RateSnapshot, len(c.Legs))
	for i, leg := range c.Legs {
		series[i], err = a.legSeries(ctx, leg, windowStart, asOf)
		if err != nil {
			return nil, err
		}
	}

	var samples []float64
sampling:
	for _, row := range series[0] {
		ts := row.Timestamp
		if ts < windowStart {
			continue
		}
		var gross, fees float64
		for i, leg := range c.Legs {
			snap, err := lookup.RateAt(ts, series[i])
			if err != nil {
				continue sampling
			}

			mult := strategy.MultiplierFor(c.Multipliers, specs[i])
			switch leg.Side {
			case domain.SideLend, domain.SidePerpShort:
				gross += mult * snap.LendAPR()
			case domain.SideBorrow:
				gross -= mult * snap.BorrowAPR()
				fees += mult * snap.BorrowFee
			case domain.SidePerpLong:
				gross -= mult * snap.BorrowAPR()
			}
		}
		samples = append(samples, gross-fees)
	}
	return samples, nil
}

// legSeries fetches one leg's ordered snapshot series covering the window:
// the rate in force at the window start, when one exists, then every row
// inside the window.
func (a *Allocator) legSeries(ctx context.Context, leg domain.Leg, start, end int64) ([]*domain.RateSnapshot, error) {
	rows, err := a.rates.GetRange(ctx, leg.Protocol, leg.Token, start, end)
	if err != nil {
		return nil, err
	}

	head, err := a.rates.GetAt(ctx, leg.Protocol, leg.Token, start)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return rows, nil
		}
		return nil, err
	}
	if len(rows) == 0 || head.Timestamp < rows[0].Timestamp {
		rows = append([]*domain.RateSnapshot{head}, rows...)
	}
	return rows, nil
}
