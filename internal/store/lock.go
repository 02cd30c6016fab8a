package store

import (
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
)

const lockReleaseTimeout = 5 * time.Second

// lockName is the advisory lock name for a collection. MySQL caps lock names
// at 64 characters, so the collection is hashed.
func lockName(collection string) string {
	return fmt.Sprintf("manasync:sync:%016x", xxhash.Sum64String(collection))
}

// lockKey is the Postgres advisory lock key for a collection.
func lockKey(collection string) int64 {
	return int64(xxhash.Sum64String("manasync:sync:" + collection))
}
