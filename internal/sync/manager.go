package sync

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"mana-sync-service/internal/logger"
)

// CollectionStatus is the manager's view of one collection.
type CollectionStatus struct {
	State       State    `json:"state"`
	LastOutcome *Outcome `json:"last_outcome,omitempty"`
}

// ManagerStatus is a point-in-time view of every collection.
type ManagerStatus struct {
	Status      string                      `json:"status"`
	Collections map[string]CollectionStatus `json:"collections"`
}

// Manager owns one orchestrator per collection and every cycle it starts in
// the background.
type Manager struct {
	orchestrators map[string]*Orchestrator
	order         []string

	ctx        context.Context
	cancel     context.CancelFunc
	background conc.WaitGroup

	mu      sync.Mutex
	running int
	closed  bool
	last    map[string]Outcome
}

func NewManager(orchestrators ...*Orchestrator) (*Manager, error) {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		orchestrators: make(map[string]*Orchestrator, len(orchestrators)),
		last:          make(map[string]Outcome),
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, o := range orchestrators {
		name := o.Collection()
		if _, ok := m.orchestrators[name]; ok {
			cancel()
			return nil, fmt.Errorf("%w: collection %s configured twice", ErrInvalidConfig, name)
		}
		m.orchestrators[name] = o
		m.order = append(m.order, name)
	}
	if len(m.order) == 0 {
		cancel()
		return nil, fmt.Errorf("%w: no collections configured", ErrInvalidConfig)
	}
	return m, nil
}

func (m *Manager) Collections() []string {
	return append([]string(nil), m.order...)
}

// Run runs one sync cycle for the named collection.
func (m *Manager) Run(ctx context.Context, collection string) (Outcome, error) {
	o, ok := m.orchestrators[collection]
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}

	m.begin()
	defer m.end()
	return m.record(o.RunSyncCycle(ctx)), nil
}

// RunAll runs a cycle for every collection concurrently and returns the
// outcomes in configuration order.
func (m *Manager) RunAll(ctx context.Context) []Outcome {
	m.begin()
	defer m.end()

	logger.Log.Info("Starting sync run", zap.Strings("collections", m.order))

	p := pool.NewWithResults[Outcome]()
	for _, name := range m.order {
		o := m.orchestrators[name]
		p.Go(func() Outcome {
			return m.record(o.RunSyncCycle(ctx))
		})
	}
	outcomes := p.Wait()

	index := make(map[string]int, len(m.order))
	for i, name := range m.order {
		index[name] = i
	}
	sort.Slice(outcomes, func(i, j int) bool {
		return index[outcomes[i].Collection] < index[outcomes[j].Collection]
	})
	return outcomes
}

// Trigger starts a cycle for the named collection, or for every collection
// when name is empty, without waiting for it. The cycle runs under the
// manager's lifetime, not the caller's.
func (m *Manager) Trigger(name string) error {
	if name != "" {
		if _, ok := m.orchestrators[name]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownCollection, name)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrShuttingDown
	}
	m.background.Go(func() {
		if name == "" {
			m.RunAll(m.ctx)
			return
		}
		_, _ = m.Run(m.ctx, name)
	})
	return nil
}

// Shutdown stops accepting triggers and waits for background cycles. When
// ctx ends first the cycles are cancelled and Shutdown still waits for them
// to return before reporting ctx's error.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.background.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.cancel()
		return nil
	case <-ctx.Done():
		logger.Log.Warn("Cancelling background sync cycles on shutdown")
		m.cancel()
		<-done
		return ctx.Err()
	}
}

func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running > 0
}

func (m *Manager) GetStatus() ManagerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := ManagerStatus{Status: "idle", Collections: make(map[string]CollectionStatus, len(m.order))}
	if m.running > 0 {
		status.Status = "running"
	}
	for _, name := range m.order {
		cs := CollectionStatus{State: m.orchestrators[name].State()}
		if last, ok := m.last[name]; ok {
			cs.LastOutcome = &last
		}
		status.Collections[name] = cs
	}
	return status
}

func (m *Manager) begin() {
	m.mu.Lock()
	m.running++
	m.mu.Unlock()
}

func (m *Manager) end() {
	m.mu.Lock()
	m.running--
	m.mu.Unlock()
}

func (m *Manager) record(out Outcome) Outcome {
	if out.Status == StatusSkipped {
		return out
	}
	m.mu.Lock()
	m.last[out.Collection] = out
	m.mu.Unlock()
	return out
}
