package db

import (
	"hash/fnv"
	"sync"
)

// invoiceLocks hands out mutexes keyed by invoice id from a fixed shard
// pool, so updates to one invoice never wait on updates to another (except
// for occasional hash collisions) and memory stays bounded no matter how
// many invoices exist.
type invoiceLocks struct {
	shards [64]sync.Mutex
}

func (l *invoiceLocks) lock(id string) func() {
	mu := l.shard(id)
	mu.Lock()
	return mu.Unlock
}

func (l *invoiceLocks) shard(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &l.shards[h.Sum32()%uint32(len(l.shards))]
}
