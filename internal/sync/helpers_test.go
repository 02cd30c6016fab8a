package sync

import (
	"context"
	"errors"
	"sync"

	"mana-sync-service/internal/store"
)

type fakeRecord struct {
	ID   string            `json:"id"`
	Body map[string]string `json:"body"`
}

func (r fakeRecord) Key() string  { return r.ID }
func (r fakeRecord) Content() any { return r }

func rec(id, body string) Record {
	return fakeRecord{ID: id, Body: map[string]string{"text": body}}
}

// stubSource returns a fixed result and counts invocations.
type stubSource struct {
	mu      sync.Mutex
	records []Record
	err     error
	calls   int
	// gate, when set, blocks the fetch until it is closed or ctx ends.
	gate    chan struct{}
	started chan struct{}
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) FetchCurrentRecords(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	s.calls++
	records, err, gate, started := s.records, s.err, s.gate, s.started
	s.mu.Unlock()

	if started != nil {
		close(started)
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return records, err
}

func (s *stubSource) set(records ...Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = records
	s.err = nil
}

func (s *stubSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// recordingStore wraps a MemoryStore, logs every gateway call and can fail a
// chosen batch operation.
type recordingStore struct {
	*store.MemoryStore

	mu       sync.Mutex
	calls    []string
	deleted  [][]string
	failOn   string
	failErr  error
	localErr error
	lockErr  error
}

func newRecordingStore() *recordingStore {
	return &recordingStore{MemoryStore: store.NewMemoryStore()}
}

func (s *recordingStore) log(call string) {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
}

func (s *recordingStore) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *recordingStore) count(call string) int {
	n := 0
	for _, c := range s.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

func (s *recordingStore) LocalMap(ctx context.Context, collection string) (store.HashMap, error) {
	s.log("LocalMap")
	if s.localErr != nil {
		return nil, s.localErr
	}
	return s.MemoryStore.LocalMap(ctx, collection)
}

func (s *recordingStore) TryLock(ctx context.Context, collection string) (func(), error) {
	s.log("TryLock")
	if s.lockErr != nil {
		return nil, s.lockErr
	}
	return s.MemoryStore.TryLock(ctx, collection)
}

func (s *recordingStore) Reconcile(ctx context.Context, collection string, fn func(store.Batch) error) error {
	s.log("Reconcile")
	return s.MemoryStore.Reconcile(ctx, collection, func(b store.Batch) error {
		return fn(&recordingBatch{Batch: b, owner: s})
	})
}

func (s *recordingStore) seed(collection string, local store.HashMap) {
	rows := make([]store.Row, 0, len(local))
	for k, fp := range local {
		rows = append(rows, store.Row{Key: k, Fingerprint: fp, Payload: []byte(`{}`)})
	}
	err := s.MemoryStore.Reconcile(context.Background(), collection, func(b store.Batch) error {
		return b.ApplyAdditions(context.Background(), rows)
	})
	if err != nil {
		panic(err)
	}
}

type recordingBatch struct {
	store.Batch
	owner *recordingStore
}

func (b *recordingBatch) fault(op string) error {
	b.owner.log(op)
	if b.owner.failOn == op {
		if b.owner.failErr != nil {
			return b.owner.failErr
		}
		return errors.New("injected fault in " + op)
	}
	return nil
}

func (b *recordingBatch) ApplyAdditions(ctx context.Context, rows []store.Row) error {
	if err := b.fault("ApplyAdditions"); err != nil {
		return err
	}
	return b.Batch.ApplyAdditions(ctx, rows)
}

func (b *recordingBatch) ApplyUpdates(ctx context.Context, rows []store.Row) error {
	if err := b.fault("ApplyUpdates"); err != nil {
		return err
	}
	return b.Batch.ApplyUpdates(ctx, rows)
}

func (b *recordingBatch) ApplyDeletions(ctx context.Context, keys []string) error {
	b.owner.mu.Lock()
	b.owner.deleted = append(b.owner.deleted, append([]string(nil), keys...))
	b.owner.mu.Unlock()
	if err := b.fault("ApplyDeletions"); err != nil {
		return err
	}
	return b.Batch.ApplyDeletions(ctx, keys)
}

// recordingNotifier and recordingMetrics capture outcomes.
type recordingNotifier struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (n *recordingNotifier) Notify(_ context.Context, out Outcome) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.outcomes = append(n.outcomes, out)
	return nil
}

type recordingMetrics struct {
	mu       sync.Mutex
	statuses []Status
}

func (m *recordingMetrics) ObserveOutcome(out Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, out.Status)
}
