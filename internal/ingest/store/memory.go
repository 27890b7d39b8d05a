package store

import (
	"context"
	"slices"
	"sync"

	"github.com/nationdonation-web/csv-processor/internal/ingest/entity"
	"github.com/nationdonation-web/csv-processor/internal/pkg/pkgerror"
)

// DefaultMaxRuns is the history size used when NewInMemoryStore gets a
// non-positive limit.
const DefaultMaxRuns = 1000

// InMemoryStore keeps the most recent runs. Once full, the oldest finished run
// is evicted to make room; runs still in progress are never evicted.
type InMemoryStore struct {
	mu      sync.RWMutex
	maxRuns int
	runs    map[string]*runRecord
	order   []string
}

type runRecord struct {
	mu   sync.RWMutex
	meta entity.RunMeta
}

func NewInMemoryStore(maxRuns int) *InMemoryStore {
	if maxRuns < 1 {
		maxRuns = DefaultMaxRuns
	}

	return &InMemoryStore{
		maxRuns: maxRuns,
		runs:    make(map[string]*runRecord),
	}
}

func (s *InMemoryStore) CreateRun(ctx context.Context, meta entity.RunMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[meta.ID]; exists {
		return pkgerror.NewBusiness("run already exists", pkgerror.CodeConflict)
	}

	if len(s.order) >= s.maxRuns {
		s.evictLocked()
	}

	s.runs[meta.ID] = &runRecord{meta: cloneMeta(meta)}
	s.order = append(s.order, meta.ID)

	return nil
}

func (s *InMemoryStore) UpdateRun(ctx context.Context, runID string, fn func(meta *entity.RunMeta)) error {
	rec, err := s.get(runID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	fn(&rec.meta)

	return nil
}

func (s *InMemoryStore) GetRun(ctx context.Context, runID string) (entity.RunMeta, error) {
	rec, err := s.get(runID)
	if err != nil {
		return entity.RunMeta{}, err
	}

	rec.mu.RLock()
	defer rec.mu.RUnlock()

	return cloneMeta(rec.meta), nil
}

// ListRuns returns one page of runs, newest first, and the total run count.
func (s *InMemoryStore) ListRuns(ctx context.Context, page, pageSize int) ([]entity.RunMeta, int, error) {
	s.mu.RLock()
	ids := slices.Clone(s.order)
	records := make([]*runRecord, len(ids))
	for i, id := range ids {
		records[i] = s.runs[id]
	}
	s.mu.RUnlock()

	total := len(records)
	start := (page - 1) * pageSize
	end := min(start+pageSize, total)
	if start >= total {
		return []entity.RunMeta{}, total, nil
	}

	items := make([]entity.RunMeta, 0, end-start)
	for i := start; i < end; i++ {
		rec := records[total-1-i]
		rec.mu.RLock()
		items = append(items, cloneMeta(rec.meta))
		rec.mu.RUnlock()
	}

	return items, total, nil
}

func (s *InMemoryStore) evictLocked() {
	for i, id := range s.order {
		rec := s.runs[id]
		rec.mu.RLock()
		done := rec.meta.State.Terminal()
		rec.mu.RUnlock()

		if done {
			delete(s.runs, id)
			s.order = slices.Delete(s.order, i, i+1)
			return
		}
	}
}

func (s *InMemoryStore) get(runID string) (*runRecord, error) {
	s.mu.RLock()
	rec, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, pkgerror.ErrNotFound
	}

	return rec, nil
}

func cloneMeta(meta entity.RunMeta) entity.RunMeta {
	meta.ChunkSizes = slices.Clone(meta.ChunkSizes)
	return meta
}
