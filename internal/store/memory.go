package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps comparison tables in process memory. Reconcile works on
// a private copy of the collection and swaps it in on success, so readers
// only ever observe committed snapshots.
type MemoryStore struct {
	mu      sync.RWMutex
	tables  map[string]map[string]Row
	history []*SyncHistory
	locks   map[string]bool
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables: make(map[string]map[string]Row),
		locks:  make(map[string]bool),
		now:    time.Now,
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) LocalMap(ctx context.Context, collection string) (HashMap, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	local := make(HashMap, len(s.tables[collection]))
	for k, r := range s.tables[collection] {
		local[k] = r.Fingerprint
	}
	return local, nil
}

func (s *MemoryStore) Reconcile(ctx context.Context, collection string, fn func(Batch) error) error {
	s.mu.RLock()
	working := maps.Clone(s.tables[collection])
	s.mu.RUnlock()
	if working == nil {
		working = make(map[string]Row)
	}

	if err := fn(&memoryBatch{rows: working, now: s.now}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.mu.Lock()
	s.tables[collection] = working
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) TryLock(ctx context.Context, collection string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks[collection] {
		return nil, fmt.Errorf("%s: %w", collection, ErrLocked)
	}
	s.locks[collection] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.locks, collection)
			s.mu.Unlock()
		})
	}, nil
}

func (s *MemoryStore) ListRecords(ctx context.Context, collection string, limit, offset int) ([]*Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	table := s.tables[collection]
	keys := slices.Sorted(maps.Keys(table))
	var records []*Row
	for i := offset; i < len(keys) && len(records) < limit; i++ {
		r := table[keys[i]]
		records = append(records, &r)
	}
	return records, nil
}

func (s *MemoryStore) CreateSyncHistory(ctx context.Context, history *SyncHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := *history
	s.history = append(s.history, &h)
	return nil
}

func (s *MemoryStore) GetSyncHistory(ctx context.Context, collection string, limit, offset int) ([]*SyncHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*SyncHistory
	for _, h := range s.history {
		if collection == "" || h.Collection == collection {
			c := *h
			matched = append(matched, &c)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].StartedAt.After(matched[j].StartedAt)
	})
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

type memoryBatch struct {
	rows map[string]Row
	now  func() time.Time
}

func (b *memoryBatch) ApplyAdditions(ctx context.Context, rows []Row) error {
	seen := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		if _, ok := b.rows[r.Key]; ok {
			return fmt.Errorf("insert record %s: %w", r.Key, ErrDuplicateKey)
		}
		if _, ok := seen[r.Key]; ok {
			return fmt.Errorf("insert record %s: %w", r.Key, ErrDuplicateKey)
		}
		seen[r.Key] = struct{}{}
	}
	ts := b.now()
	for _, r := range rows {
		r.UpdatedAt = ts
		b.rows[r.Key] = r
	}
	return nil
}

func (b *memoryBatch) ApplyUpdates(ctx context.Context, rows []Row) error {
	for _, r := range rows {
		if _, ok := b.rows[r.Key]; !ok {
			return fmt.Errorf("update record %s: %w", r.Key, ErrKeyNotFound)
		}
	}
	ts := b.now()
	for _, r := range rows {
		r.UpdatedAt = ts
		b.rows[r.Key] = r
	}
	return nil
}

func (b *memoryBatch) ApplyDeletions(ctx context.Context, keys []string) error {
	for _, k := range keys {
		delete(b.rows, k)
	}
	return nil
}
