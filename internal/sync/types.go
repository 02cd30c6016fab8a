package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Record is one upstream entity. Key is its stable identity within the
// collection; Content is everything a reader can observe about it and is
// what the fingerprint covers.
type Record interface {
	Key() string
	Content() any
}

// Source enumerates the current record set of one upstream collection.
type Source interface {
	Name() string
	FetchCurrentRecords(ctx context.Context) ([]Record, error)
}

// State is the orchestrator's position in a sync cycle.
type State string

const (
	StateIdle       State = "idle"
	StateFetching   State = "fetching"
	StateDiffing    State = "diffing"
	StatePersisting State = "persisting"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

type Status string

const (
	StatusSucceeded       Status = "succeeded"
	StatusFailed          Status = "failed"
	StatusSuspectedOutage Status = "suspected_outage"
	StatusSkipped         Status = "skipped"
)

// Outcome reports one sync cycle.
type Outcome struct {
	CycleID    string
	Collection string
	Status     Status
	Added      int
	Updated    int
	Deleted    int
	Unchanged  int
	// Total is the number of rows in the comparison table once the cycle ended.
	Total      int
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

func (o Outcome) Duration() time.Duration {
	return o.FinishedAt.Sub(o.StartedAt)
}

// Reason is the failure message, empty for successful or skipped cycles.
func (o Outcome) Reason() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

func (o Outcome) String() string {
	if o.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", o.Status, o.Collection, o.Err)
	}
	return fmt.Sprintf("[%s] %s: +%d ~%d -%d (=%d)", o.Status, o.Collection, o.Added, o.Updated, o.Deleted, o.Unchanged)
}

type outcomeJSON struct {
	CycleID     string    `json:"cycle_id"`
	Collection  string    `json:"collection"`
	Status      Status    `json:"status"`
	Added       int       `json:"added"`
	Updated     int       `json:"updated"`
	Deleted     int       `json:"deleted"`
	Unchanged   int       `json:"unchanged"`
	Total       int       `json:"total"`
	Error       string    `json:"error,omitempty"`
	FailureKind string    `json:"failure_kind,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(outcomeJSON{
		CycleID:     o.CycleID,
		Collection:  o.Collection,
		Status:      o.Status,
		Added:       o.Added,
		Updated:     o.Updated,
		Deleted:     o.Deleted,
		Unchanged:   o.Unchanged,
		Total:       o.Total,
		Error:       o.Reason(),
		FailureKind: FailureKind(o.Err),
		StartedAt:   o.StartedAt,
		FinishedAt:  o.FinishedAt,
	})
}
