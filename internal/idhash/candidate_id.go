package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"lending-strategy-lab/internal/domain"
)

// ComputeCandidateID computes a deterministic candidate ID using SHA256.
// Formula: SHA256(variant|token:protocol:side|...) over legs in order.
// Returns hex-encoded hash (64 characters). Identical combinations always
// hash to the same ID, which makes repeated analyzer runs comparable.
func ComputeCandidateID(variant string, legs []domain.Leg) string {
	var b strings.Builder
	b.WriteString(variant)
	for _, leg := range legs {
		b.WriteString("|")
		b.WriteString(leg.Token)
		b.WriteString(":")
		b.WriteString(leg.Protocol)
		b.WriteString(":")
		b.WriteString(string(leg.Side))
	}

	hash := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(hash[:])
}
