package rescache

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const lockShards = 64

// lockTable hands out one mutex per cache key, created lazily and never
// removed. Keys are sharded by hash so that creating a lock for one key does
// not contend with lookups for unrelated keys.
type lockTable struct {
	shards [lockShards]lockShard
}

type lockShard struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockTable() *lockTable {
	t := &lockTable{}
	for i := range t.shards {
		t.shards[i].locks = make(map[string]*sync.Mutex)
	}
	return t
}

// get returns the mutex for key, creating it on first use. Two concurrent
// calls for the same key always return the same mutex.
func (t *lockTable) get(key string) *sync.Mutex {
	shard := &t.shards[xxhash.Sum64String(key)%lockShards]
	shard.mu.Lock()
	defer shard.mu.Unlock()

	m, ok := shard.locks[key]
	if !ok {
		m = &sync.Mutex{}
		shard.locks[key] = m
	}
	return m
}
