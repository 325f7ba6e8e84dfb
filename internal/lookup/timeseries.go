package lookup

import (
	"errors"

	"lending-strategy-lab/internal/domain"
)

// ErrNoRateData is returned when a series has no row at or before the
// requested timestamp.
var ErrNoRateData = errors.New("no rate data available")

// RateAt returns the snapshot at or before the target timestamp.
// Snapshots must be ordered by timestamp ASC. If no snapshot exists at or
// before target, returns ErrNoRateData: rates are never extrapolated
// backwards.
func RateAt(target int64, snapshots []*domain.RateSnapshot) (*domain.RateSnapshot, error) {
	if len(snapshots) == 0 {
		return nil, ErrNoRateData
	}

	for i := len(snapshots) - 1; i >= 0; i-- {
		if snapshots[i].Timestamp <= target {
			return snapshots[i], nil
		}
	}

	return nil, ErrNoRateData
}

// Intervals splits an ordered snapshot series into left-closed integration
// intervals [t_i, t_{i+1}), with the final interval closed by bound. Snapshots
// after bound are ignored. The returned slices are parallel: rate i applies
// over duration i seconds.
func Intervals(snapshots []*domain.RateSnapshot, bound int64) (rates []*domain.RateSnapshot, durations []int64) {
	for i, s := range snapshots {
		if s.Timestamp >= bound {
			break
		}
		end := bound
		if i+1 < len(snapshots) && snapshots[i+1].Timestamp < bound {
			end = snapshots[i+1].Timestamp
		}
		rates = append(rates, s)
		durations = append(durations, end-s.Timestamp)
	}
	return rates, durations
}
