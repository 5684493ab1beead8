package profile

import (
	"hash/fnv"
	"sync"
)

// keyMutex provides a fixed-size pool of mutexes keyed by customer ID.
// Bounded memory regardless of how many customers are seen, at the cost
// of occasional false sharing between IDs that hash to the same shard.
type keyMutex struct {
	shards [256]sync.Mutex
}

// Lock acquires the mutex for the given key and returns an unlock
// function.
func (m *keyMutex) Lock(key string) func() {
	mu := m.shard(key)
	mu.Lock()
	return mu.Unlock
}

func (m *keyMutex) shard(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &m.shards[h.Sum32()%256]
}
