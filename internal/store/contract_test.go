package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract exercises the behaviour every Store implementation shares.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	row := func(key, fp string) Row {
		return Row{Key: key, Fingerprint: fp, Payload: []byte(`{"key":"` + key + `","fp":"` + fp + `"}`)}
	}

	t.Run("empty collection", func(t *testing.T) {
		s := newStore(t)
		local, err := s.LocalMap(ctx, "symbols")
		require.NoError(t, err)
		assert.Empty(t, local)
	})

	t.Run("additions updates deletions", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Reconcile(ctx, "symbols", func(b Batch) error {
			return b.ApplyAdditions(ctx, []Row{row("{W}", "1"), row("{U}", "2"), row("{B}", "3")})
		}))

		local, err := s.LocalMap(ctx, "symbols")
		require.NoError(t, err)
		assert.Equal(t, HashMap{"{W}": "1", "{U}": "2", "{B}": "3"}, local)

		require.NoError(t, s.Reconcile(ctx, "symbols", func(b Batch) error {
			if err := b.ApplyAdditions(ctx, []Row{row("{R}", "4")}); err != nil {
				return err
			}
			if err := b.ApplyUpdates(ctx, []Row{row("{U}", "22")}); err != nil {
				return err
			}
			return b.ApplyDeletions(ctx, []string{"{B}"})
		}))

		local, err = s.LocalMap(ctx, "symbols")
		require.NoError(t, err)
		assert.Equal(t, HashMap{"{W}": "1", "{U}": "22", "{R}": "4"}, local)

		records, err := s.ListRecords(ctx, "symbols", 10, 0)
		require.NoError(t, err)
		require.Len(t, records, 3)
		keys := []string{records[0].Key, records[1].Key, records[2].Key}
		assert.ElementsMatch(t, []string{"{W}", "{U}", "{R}"}, keys)
		for _, r := range records {
			if r.Key == "{U}" {
				assert.JSONEq(t, `{"key":"{U}","fp":"22"}`, string(r.Payload))
			}
		}

		page, err := s.ListRecords(ctx, "symbols", 2, 2)
		require.NoError(t, err)
		assert.Len(t, page, 1)
	})

	t.Run("failed reconcile leaves table untouched", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Reconcile(ctx, "symbols", func(b Batch) error {
			return b.ApplyAdditions(ctx, []Row{row("a", "1"), row("b", "2")})
		}))

		boom := errors.New("boom")
		err := s.Reconcile(ctx, "symbols", func(b Batch) error {
			if err := b.ApplyAdditions(ctx, []Row{row("c", "3")}); err != nil {
				return err
			}
			if err := b.ApplyDeletions(ctx, []string{"a"}); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		local, err := s.LocalMap(ctx, "symbols")
		require.NoError(t, err)
		assert.Equal(t, HashMap{"a": "1", "b": "2"}, local)
	})

	t.Run("duplicate addition rolls back", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Reconcile(ctx, "symbols", func(b Batch) error {
			return b.ApplyAdditions(ctx, []Row{row("a", "1")})
		}))

		err := s.Reconcile(ctx, "symbols", func(b Batch) error {
			return b.ApplyAdditions(ctx, []Row{row("z", "9"), row("a", "2")})
		})
		require.ErrorIs(t, err, ErrDuplicateKey)

		local, err := s.LocalMap(ctx, "symbols")
		require.NoError(t, err)
		assert.Equal(t, HashMap{"a": "1"}, local)
	})

	t.Run("update of unknown key fails", func(t *testing.T) {
		s := newStore(t)
		err := s.Reconcile(ctx, "symbols", func(b Batch) error {
			return b.ApplyUpdates(ctx, []Row{row("ghost", "1")})
		})
		require.ErrorIs(t, err, ErrKeyNotFound)
	})

	t.Run("collections are isolated", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Reconcile(ctx, "symbols", func(b Batch) error {
			return b.ApplyAdditions(ctx, []Row{row("shared", "1")})
		}))
		require.NoError(t, s.Reconcile(ctx, "cards", func(b Batch) error {
			return b.ApplyAdditions(ctx, []Row{row("shared", "2")})
		}))
		require.NoError(t, s.Reconcile(ctx, "cards", func(b Batch) error {
			return b.ApplyDeletions(ctx, []string{"shared"})
		}))

		symbols, err := s.LocalMap(ctx, "symbols")
		require.NoError(t, err)
		assert.Equal(t, HashMap{"shared": "1"}, symbols)

		cards, err := s.LocalMap(ctx, "cards")
		require.NoError(t, err)
		assert.Empty(t, cards)
	})

	t.Run("sync history", func(t *testing.T) {
		s := newStore(t)
		base := time.Now().UTC().Truncate(time.Millisecond)
		for i, collection := range []string{"symbols", "cards", "symbols"} {
			h := &SyncHistory{
				ID:          uuid.NewString(),
				Collection:  collection,
				StartedAt:   base.Add(time.Duration(i) * time.Minute),
				CompletedAt: sql.NullTime{Time: base.Add(time.Duration(i)*time.Minute + time.Second), Valid: true},
				Status:      "succeeded",
				Added:       i,
			}
			require.NoError(t, s.CreateSyncHistory(ctx, h))
		}

		all, err := s.GetSyncHistory(ctx, "", 10, 0)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, 2, all[0].Added)

		symbols, err := s.GetSyncHistory(ctx, "symbols", 10, 0)
		require.NoError(t, err)
		require.Len(t, symbols, 2)
		assert.True(t, symbols[0].StartedAt.After(symbols[1].StartedAt))
		assert.False(t, symbols[0].ErrorMessage.Valid)
	})

	t.Run("collection lock is exclusive", func(t *testing.T) {
		s := newStore(t)
		release, err := s.TryLock(ctx, "symbols")
		require.NoError(t, err)

		_, err = s.TryLock(ctx, "symbols")
		assert.ErrorIs(t, err, ErrLocked)

		other, err := s.TryLock(ctx, "cards")
		require.NoError(t, err)
		other()

		release()
		again, err := s.TryLock(ctx, "symbols")
		require.NoError(t, err)
		again()
	})
}
