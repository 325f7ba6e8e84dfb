package memory

import (
	"context"
	"sort"
	"sync"

	"lending-strategy-lab/internal/domain"
	"lending-strategy-lab/internal/storage"
)

type segmentKey struct {
	PositionID string
	Seq        int
}

// SegmentStore is an in-memory implementation of storage.SegmentStore.
// Segments are append-only; there is no update or delete.
type SegmentStore struct {
	mu   sync.RWMutex
	data map[segmentKey]*domain.RebalanceSegment
}

// NewSegmentStore creates a new in-memory segment store.
func NewSegmentStore() *SegmentStore {
	return &SegmentStore{
		data: make(map[segmentKey]*domain.RebalanceSegment),
	}
}

func cloneSegment(seg *domain.RebalanceSegment) *domain.RebalanceSegment {
	cp := *seg
	cp.Opening = append([]domain.LegState(nil), seg.Opening...)
	cp.Closing = append([]domain.LegState(nil), seg.Closing...)
	return &cp
}

// Insert adds a new segment. Returns ErrDuplicateKey if (position id, seq)
// exists.
func (s *SegmentStore) Insert(_ context.Context, seg *domain.RebalanceSegment) error {
	if seg == nil || seg.PositionID == "" || seg.Seq < 1 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := segmentKey{seg.PositionID, seg.Seq}
	if _, exists := s.data[key]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[key] = cloneSegment(seg)
	return nil
}

// GetByPosition retrieves all segments for a position, ordered by seq ASC.
func (s *SegmentStore) GetByPosition(_ context.Context, positionID string) ([]*domain.RebalanceSegment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.RebalanceSegment
	for key, seg := range s.data {
		if key.PositionID == positionID {
			result = append(result, cloneSegment(seg))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Seq < result[j].Seq
	})
	return result, nil
}

// GetLast retrieves the highest-seq segment for a position. Returns
// ErrNotFound if the position has no segments.
func (s *SegmentStore) GetLast(_ context.Context, positionID string) (*domain.RebalanceSegment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *domain.RebalanceSegment
	for key, seg := range s.data {
		if key.PositionID != positionID {
			continue
		}
		if best == nil || key.Seq > best.Seq {
			best = seg
		}
	}
	if best == nil {
		return nil, storage.ErrNotFound
	}
	return cloneSegment(best), nil
}

var _ storage.SegmentStore = (*SegmentStore)(nil)
