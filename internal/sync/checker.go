package sync

import (
	"context"
	"slices"

	"mana-sync-service/internal/store"
)

// Diff partitions the keys of a remote and a local hash map. The three
// slices are sorted and pairwise disjoint; Unchanged counts keys present on
// both sides with equal fingerprints.
type Diff struct {
	ToAdd     []string
	ToUpdate  []string
	ToDelete  []string
	Unchanged int
}

func (d Diff) Empty() bool {
	return len(d.ToAdd) == 0 && len(d.ToUpdate) == 0 && len(d.ToDelete) == 0
}

// LocalSize is the number of stored keys the diff was computed against.
func (d Diff) LocalSize() int {
	return len(d.ToUpdate) + len(d.ToDelete) + d.Unchanged
}

// RemoteSize is the number of fetched keys the diff was computed against.
func (d Diff) RemoteSize() int {
	return len(d.ToAdd) + len(d.ToUpdate) + d.Unchanged
}

// Compare classifies every key of remote and local in one pass over each map.
func Compare(remote, local store.HashMap) Diff {
	var d Diff
	for key, fp := range remote {
		stored, ok := local[key]
		switch {
		case !ok:
			d.ToAdd = append(d.ToAdd, key)
		case stored != fp:
			d.ToUpdate = append(d.ToUpdate, key)
		default:
			d.Unchanged++
		}
	}
	for key := range local {
		if _, ok := remote[key]; !ok {
			d.ToDelete = append(d.ToDelete, key)
		}
	}
	slices.Sort(d.ToAdd)
	slices.Sort(d.ToUpdate)
	slices.Sort(d.ToDelete)
	return d
}

// LocalMapReader is the read side of the persistence gateway.
type LocalMapReader interface {
	LocalMap(ctx context.Context, collection string) (store.HashMap, error)
}

// Checker compares a remote hash map with the stored one. The stored map is
// read at most once per Checker; later calls reuse it, including a read error.
type Checker struct {
	collection string
	remote     store.HashMap
	reader     LocalMapReader

	loaded bool
	local  store.HashMap
	diff   Diff
	err    error
}

func NewChecker(collection string, remote store.HashMap, reader LocalMapReader) *Checker {
	return &Checker{
		collection: collection,
		remote:     remote,
		reader:     reader,
	}
}

func (c *Checker) load(ctx context.Context) error {
	if c.loaded {
		return c.err
	}
	c.loaded = true
	c.local, c.err = c.reader.LocalMap(ctx, c.collection)
	if c.err == nil {
		c.diff = Compare(c.remote, c.local)
	}
	return c.err
}

// LocalMap returns the stored hash map the checker compared against.
func (c *Checker) LocalMap(ctx context.Context) (store.HashMap, error) {
	if err := c.load(ctx); err != nil {
		return nil, err
	}
	return c.local, nil
}

func (c *Checker) Diff(ctx context.Context) (Diff, error) {
	if err := c.load(ctx); err != nil {
		return Diff{}, err
	}
	return c.diff, nil
}

func (c *Checker) RecordsToAdd(ctx context.Context) ([]string, error) {
	d, err := c.Diff(ctx)
	return d.ToAdd, err
}

func (c *Checker) RecordsToUpdate(ctx context.Context) ([]string, error) {
	d, err := c.Diff(ctx)
	return d.ToUpdate, err
}

func (c *Checker) RecordsToDelete(ctx context.Context) ([]string, error) {
	d, err := c.Diff(ctx)
	return d.ToDelete, err
}
