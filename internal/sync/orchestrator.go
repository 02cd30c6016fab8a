package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mana-sync-service/internal/logger"
	"mana-sync-service/internal/store"
)

const (
	defaultFetchTimeout = 2 * time.Minute
	historyWriteTimeout = 10 * time.Second
)

// Notifier receives every finished cycle's outcome.
type Notifier interface {
	Notify(ctx context.Context, outcome Outcome) error
}

// Recorder receives every finished cycle's outcome for metrics.
type Recorder interface {
	ObserveOutcome(outcome Outcome)
}

type Options struct {
	Collection string
	Source     Source
	Store      store.Store
	// FetchTimeout bounds the upstream fetch. Defaults to two minutes.
	FetchTimeout time.Duration
	// MaxDeleteRatio, when positive, treats a cycle deleting more than this
	// share of the stored rows as a suspected outage.
	MaxDeleteRatio float64
	Notifier       Notifier
	Metrics        Recorder

	now   func() time.Time
	newID func() string
}

// Orchestrator runs sync cycles for one collection. Cycles never overlap: a
// cycle triggered while another is running returns a skipped outcome.
type Orchestrator struct {
	opts Options

	cycleMu sync.Mutex

	stateMu sync.RWMutex
	state   State
}

func NewOrchestrator(opts Options) (*Orchestrator, error) {
	switch {
	case opts.Collection == "":
		return nil, fmt.Errorf("%w: collection name is required", ErrInvalidConfig)
	case opts.Source == nil:
		return nil, fmt.Errorf("%w: collection %s has no source", ErrInvalidConfig, opts.Collection)
	case opts.Store == nil:
		return nil, fmt.Errorf("%w: collection %s has no store", ErrInvalidConfig, opts.Collection)
	case opts.MaxDeleteRatio < 0 || opts.MaxDeleteRatio > 1:
		return nil, fmt.Errorf("%w: max delete ratio %v outside [0, 1]", ErrInvalidConfig, opts.MaxDeleteRatio)
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	if opts.newID == nil {
		opts.newID = uuid.NewString
	}
	return &Orchestrator{opts: opts, state: StateIdle}, nil
}

func (o *Orchestrator) Collection() string {
	return o.opts.Collection
}

func (o *Orchestrator) State() State {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.stateMu.Lock()
	o.state = s
	o.stateMu.Unlock()
	logger.Log.Debug("Sync cycle state", zap.String("collection", o.opts.Collection), zap.String("state", string(s)))
}

// RunSyncCycle fetches the upstream records, diffs them against the stored
// hash map and applies the changes in one transaction. Storage is only
// written after a complete fetch and diff.
func (o *Orchestrator) RunSyncCycle(ctx context.Context) Outcome {
	out := Outcome{
		CycleID:    o.opts.newID(),
		Collection: o.opts.Collection,
		StartedAt:  o.opts.now(),
	}

	if !o.cycleMu.TryLock() {
		logger.Log.Info("Sync cycle already running, skipping", zap.String("collection", o.opts.Collection))
		return o.skip(out)
	}
	defer o.cycleMu.Unlock()

	// The storage lock keeps cycles from other processes sharing the same
	// table out for the whole fetch, diff and persist.
	release, err := o.opts.Store.TryLock(ctx, o.opts.Collection)
	switch {
	case errors.Is(err, store.ErrLocked):
		logger.Log.Info("Collection locked by another sync, skipping", zap.String("collection", o.opts.Collection))
		return o.skip(out)
	case err != nil:
		out = o.fail(out, &PersistError{Collection: o.opts.Collection, Op: "lock collection", Err: err})
		out.FinishedAt = o.opts.now()
		o.report(ctx, out)
		return out
	}
	defer release()

	out = o.run(ctx, out)
	out.FinishedAt = o.opts.now()
	o.report(ctx, out)
	return out
}

func (o *Orchestrator) skip(out Outcome) Outcome {
	out.Status = StatusSkipped
	out.FinishedAt = out.StartedAt
	if o.opts.Metrics != nil {
		o.opts.Metrics.ObserveOutcome(out)
	}
	return out
}

func (o *Orchestrator) run(ctx context.Context, out Outcome) Outcome {
	o.setState(StateFetching)
	records, err := o.fetch(ctx)
	if err != nil {
		return o.fail(out, err)
	}

	o.setState(StateDiffing)
	remote, entries, err := ExtractHashMap(records)
	if err != nil {
		return o.fail(out, &FetchError{Source: o.opts.Source.Name(), Reason: FetchMalformed, Err: err})
	}

	checker := NewChecker(o.opts.Collection, remote, o.opts.Store)
	diff, err := checker.Diff(ctx)
	if err != nil {
		return o.fail(out, &PersistError{Collection: o.opts.Collection, Op: "read local map", Err: err})
	}
	out.Total = diff.LocalSize()

	if reason := o.outageReason(diff.RemoteSize(), diff.LocalSize(), len(diff.ToDelete)); reason != "" {
		o.setState(StateFailed)
		out.Status = StatusSuspectedOutage
		out.Err = fmt.Errorf("%w: %s", ErrSuspectedOutage, reason)
		return out
	}

	out.Unchanged = diff.Unchanged
	if diff.Empty() {
		o.setState(StateDone)
		out.Status = StatusSucceeded
		return out
	}

	o.setState(StatePersisting)
	additions := resolveRows(diff.ToAdd, entries)
	updates := resolveRows(diff.ToUpdate, entries)
	err = o.opts.Store.Reconcile(ctx, o.opts.Collection, func(b store.Batch) error {
		if len(additions) > 0 {
			if err := b.ApplyAdditions(ctx, additions); err != nil {
				return err
			}
		}
		if len(updates) > 0 {
			if err := b.ApplyUpdates(ctx, updates); err != nil {
				return err
			}
		}
		if len(diff.ToDelete) > 0 {
			if err := b.ApplyDeletions(ctx, diff.ToDelete); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return o.fail(out, &PersistError{Collection: o.opts.Collection, Op: "apply changes", Err: err})
	}

	o.setState(StateDone)
	out.Status = StatusSucceeded
	out.Added = len(diff.ToAdd)
	out.Updated = len(diff.ToUpdate)
	out.Deleted = len(diff.ToDelete)
	out.Total = diff.LocalSize() + out.Added - out.Deleted
	return out
}

func (o *Orchestrator) fetch(ctx context.Context) ([]Record, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, o.opts.FetchTimeout)
	defer cancel()

	records, err := o.opts.Source.FetchCurrentRecords(fetchCtx)
	if err != nil {
		var fetchErr *FetchError
		if errors.As(err, &fetchErr) {
			return nil, err
		}
		return nil, &FetchError{Source: o.opts.Source.Name(), Reason: FetchConnectivity, Err: err}
	}
	return records, nil
}

// outageReason explains why a fetched result should not be trusted, or
// returns "" when the cycle may proceed.
func (o *Orchestrator) outageReason(remote, local, deletes int) string {
	if local == 0 {
		return ""
	}
	if remote == 0 {
		return fmt.Sprintf("upstream returned no records while %d are stored", local)
	}
	ratio := o.opts.MaxDeleteRatio
	if ratio > 0 && float64(deletes)/float64(local) > ratio {
		return fmt.Sprintf("cycle would delete %d of %d stored records (limit %.0f%%)", deletes, local, ratio*100)
	}
	return ""
}

func (o *Orchestrator) fail(out Outcome, err error) Outcome {
	o.setState(StateFailed)
	out.Status = StatusFailed
	out.Err = err
	return out
}

func resolveRows(keys []string, entries map[string]Entry) []store.Row {
	rows := make([]store.Row, 0, len(keys))
	for _, k := range keys {
		e := entries[k]
		rows = append(rows, store.Row{Key: k, Fingerprint: e.Fingerprint, Payload: e.Payload})
	}
	return rows
}

func (o *Orchestrator) report(ctx context.Context, out Outcome) {
	fields := []zap.Field{
		zap.String("cycleID", out.CycleID),
		zap.String("collection", out.Collection),
		zap.String("status", string(out.Status)),
		zap.Int("added", out.Added),
		zap.Int("updated", out.Updated),
		zap.Int("deleted", out.Deleted),
		zap.Int("unchanged", out.Unchanged),
		zap.Duration("duration", out.Duration()),
	}
	switch out.Status {
	case StatusSucceeded:
		logger.Log.Info("Sync cycle completed", fields...)
	case StatusSuspectedOutage:
		logger.Log.Warn("Sync cycle aborted, storage left untouched", append(fields, zap.Error(out.Err))...)
	default:
		logger.Log.Error("Sync cycle failed", append(fields, zap.String("kind", FailureKind(out.Err)), zap.Error(out.Err))...)
	}

	if o.opts.Metrics != nil {
		o.opts.Metrics.ObserveOutcome(out)
	}

	// The cycle's own context may already be cancelled; bookkeeping still runs.
	bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyWriteTimeout)
	defer cancel()

	history := &store.SyncHistory{
		ID:          out.CycleID,
		Collection:  out.Collection,
		StartedAt:   out.StartedAt,
		CompletedAt: sql.NullTime{Time: out.FinishedAt, Valid: true},
		Status:      string(out.Status),
		Added:       out.Added,
		Updated:     out.Updated,
		Deleted:     out.Deleted,
		Unchanged:   out.Unchanged,
	}
	if out.Err != nil {
		history.ErrorMessage = sql.NullString{String: out.Err.Error(), Valid: true}
	}
	if err := o.opts.Store.CreateSyncHistory(bgCtx, history); err != nil {
		logger.Log.Error("Failed to record sync history", zap.String("cycleID", out.CycleID), zap.Error(err))
	}

	if o.opts.Notifier != nil {
		if err := o.opts.Notifier.Notify(bgCtx, out); err != nil {
			logger.Log.Error("Failed to notify sync outcome", zap.String("cycleID", out.CycleID), zap.Error(err))
		}
	}
}
