package download

import (
	"hash/fnv"
	"sync"
)

const registryShards = 16

type shard[V any] struct {
	mu    sync.RWMutex
	items map[string]V
}

// registry is a string-keyed map split across independently locked shards,
// so lookups for different tasks do not contend on one lock.
type registry[V any] struct {
	shards [registryShards]*shard[V]
}

func newRegistry[V any]() *registry[V] {
	r := &registry[V]{}
	for i := range r.shards {
		r.shards[i] = &shard[V]{items: make(map[string]V)}
	}
	return r
}

func (r *registry[V]) shardFor(key string) *shard[V] {
	h := fnv.New32a()
	h.Write([]byte(key))
	return r.shards[h.Sum32()%registryShards]
}

func (r *registry[V]) Get(key string) (V, bool) {
	s := r.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok
}

// SetIfAbsent stores v under key unless the key is taken.
func (r *registry[V]) SetIfAbsent(key string, v V) bool {
	s := r.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[key]; exists {
		return false
	}
	s.items[key] = v
	return true
}

func (r *registry[V]) Values() []V {
	var out []V
	for _, s := range r.shards {
		s.mu.RLock()
		for _, v := range s.items {
			out = append(out, v)
		}
		s.mu.RUnlock()
	}
	return out
}
