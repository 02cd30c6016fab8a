package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mana-sync-service/internal/sync"
)

func TestObserveOutcomeSucceeded(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSyncMetrics(reg)
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	m.ObserveOutcome(sync.Outcome{
		Collection: "symbols",
		Status:     sync.StatusSucceeded,
		Added:      3,
		Updated:    1,
		Deleted:    2,
		Total:      40,
		StartedAt:  start,
		FinishedAt: start.Add(2 * time.Second),
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CyclesCounter("symbols", sync.StatusSucceeded)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ChangesCounter("symbols", "added")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChangesCounter("symbols", "updated")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ChangesCounter("symbols", "deleted")))
	assert.Equal(t, 40.0, testutil.ToFloat64(m.LocalRecordsGauge("symbols")))

	count, err := testutil.GatherAndCount(reg, "manasync_sync_cycle_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestObserveOutcomeFailureLeavesChangesUntouched(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSyncMetrics(reg)

	m.ObserveOutcome(sync.Outcome{
		Collection: "cards",
		Status:     sync.StatusSuspectedOutage,
		Err:        sync.ErrSuspectedOutage,
	})
	m.ObserveOutcome(sync.Outcome{
		Collection: "cards",
		Status:     sync.StatusFailed,
		Err:        errors.New("boom"),
	})
	m.ObserveOutcome(sync.Outcome{Collection: "cards", Status: sync.StatusSkipped})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CyclesCounter("cards", sync.StatusSuspectedOutage)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CyclesCounter("cards", sync.StatusFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CyclesCounter("cards", sync.StatusSkipped)))

	count, err := testutil.GatherAndCount(reg, "manasync_sync_records_changed_total", "manasync_sync_local_records")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *SyncMetrics
	assert.NotPanics(t, func() {
		m.ObserveOutcome(sync.Outcome{Collection: "symbols", Status: sync.StatusSucceeded})
	})
}
