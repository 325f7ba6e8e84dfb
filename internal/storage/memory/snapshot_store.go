package memory

import (
	"context"
	"sort"
	"sync"

	"lending-strategy-lab/internal/domain"
	"lending-strategy-lab/internal/storage"
)

type snapshotKey struct {
	Timestamp int64
	Protocol  string
	Token     string
}

// SnapshotStore is an in-memory implementation of storage.SnapshotStore.
type SnapshotStore struct {
	mu   sync.RWMutex
	data map[snapshotKey]*domain.RateSnapshot
}

// NewSnapshotStore creates a new in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		data: make(map[snapshotKey]*domain.RateSnapshot),
	}
}

// InsertBulk adds multiple snapshots atomically. Fails entire batch on any
// duplicate or validation error.
func (s *SnapshotStore) InsertBulk(_ context.Context, snapshots []*domain.RateSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[snapshotKey]struct{}, len(snapshots))
	for _, snap := range snapshots {
		if snap == nil {
			return storage.ErrInvalidInput
		}
		if err := snap.Validate(); err != nil {
			return storage.ErrInvalidInput
		}

		key := snapshotKey{snap.Timestamp, snap.Protocol, snap.Token}
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, snap := range snapshots {
		cp := *snap
		s.data[snapshotKey{snap.Timestamp, snap.Protocol, snap.Token}] = &cp
	}
	return nil
}

// GetAt retrieves the snapshot for (protocol, token) at or before ts.
// Returns ErrNotFound if no snapshot exists at or before ts.
func (s *SnapshotStore) GetAt(_ context.Context, protocol, token string, ts int64) (*domain.RateSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *domain.RateSnapshot
	for key, snap := range s.data {
		if key.Protocol != protocol || key.Token != token || key.Timestamp > ts {
			continue
		}
		if best == nil || key.Timestamp > best.Timestamp {
			best = snap
		}
	}
	if best == nil {
		return nil, storage.ErrNotFound
	}

	cp := *best
	return &cp, nil
}

// GetRange retrieves snapshots for (protocol, token) within [start, end]
// inclusive, ordered by timestamp ASC.
func (s *SnapshotStore) GetRange(_ context.Context, protocol, token string, start, end int64) ([]*domain.RateSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.RateSnapshot
	for key, snap := range s.data {
		if key.Protocol != protocol || key.Token != token {
			continue
		}
		if key.Timestamp < start || key.Timestamp > end {
			continue
		}
		cp := *snap
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp < result[j].Timestamp
	})
	return result, nil
}

// GetByTimestamp retrieves all snapshots captured at exactly ts, ordered by
// protocol ASC, token ASC.
func (s *SnapshotStore) GetByTimestamp(_ context.Context, ts int64) ([]*domain.RateSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.RateSnapshot
	for key, snap := range s.data {
		if key.Timestamp != ts {
			continue
		}
		cp := *snap
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Protocol != result[j].Protocol {
			return result[i].Protocol < result[j].Protocol
		}
		return result[i].Token < result[j].Token
	})
	return result, nil
}

var _ storage.SnapshotStore = (*SnapshotStore)(nil)
