package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestMemoryStoreReadersSeeCommittedSnapshots(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Reconcile(ctx, "symbols", func(b Batch) error {
		return b.ApplyAdditions(ctx, []Row{{Key: "a", Fingerprint: "1", Payload: []byte(`{}`)}})
	}))

	inside := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.Reconcile(ctx, "symbols", func(b Batch) error {
			if err := b.ApplyDeletions(ctx, []string{"a"}); err != nil {
				return err
			}
			if err := b.ApplyAdditions(ctx, []Row{{Key: "b", Fingerprint: "2", Payload: []byte(`{}`)}}); err != nil {
				return err
			}
			close(inside)
			<-release
			return nil
		})
	}()

	<-inside
	local, err := s.LocalMap(ctx, "symbols")
	require.NoError(t, err)
	assert.Equal(t, HashMap{"a": "1"}, local)

	close(release)
	wg.Wait()

	local, err = s.LocalMap(ctx, "symbols")
	require.NoError(t, err)
	assert.Equal(t, HashMap{"b": "2"}, local)
}

func TestMemoryStoreCancelledCommit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewMemoryStore()

	err := s.Reconcile(ctx, "symbols", func(b Batch) error {
		if err := b.ApplyAdditions(ctx, []Row{{Key: "a", Fingerprint: "1"}}); err != nil {
			return err
		}
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)

	local, err := s.LocalMap(context.Background(), "symbols")
	require.NoError(t, err)
	assert.Empty(t, local)
}

func TestChunking(t *testing.T) {
	rows := make([]Row, 7)
	chunks := chunkRows(rows, 3)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[2], 1)

	assert.Empty(t, chunkKeys(nil, 3))
	assert.Len(t, chunkKeys([]string{"a", "b"}, 3), 1)
}
