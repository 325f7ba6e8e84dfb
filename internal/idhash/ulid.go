package idhash

import (
	"math/rand"
	"sync"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
)

// NewPositionID returns a new ULID for a position or portfolio record.
// The timestamp component is the supplied as-of time in seconds, so IDs sort
// by deployment time without the library ever reading a wall clock.
func NewPositionID(asOf int64) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	if entropy == nil {
		entropy = ulid.Monotonic(rand.New(rand.NewSource(asOf)), 0)
	}
	return ulid.MustNew(uint64(asOf)*1000, entropy).String()
}
