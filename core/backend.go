package core

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Backend is the opaque persistent key-value map spec.md §6 describes:
// 32-byte cube keys to CubeSize-byte cube binaries. The real persistent
// engine is an explicit external collaborator (spec.md §1); cubenet
// only ships in-process implementations suitable for tests and for
// bounded-memory operation.
type Backend interface {
	Get(key [CubeKeySize]byte) ([]byte, bool, error)
	Put(key [CubeKeySize]byte, value []byte) error
	Delete(key [CubeKeySize]byte) error
	Keys() [][CubeKeySize]byte
}

// MemoryBackend is the default Backend: an unbounded mutex-guarded map.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[[CubeKeySize]byte][]byte
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[[CubeKeySize]byte][]byte)}
}

func (b *MemoryBackend) Get(key [CubeKeySize]byte) ([]byte, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (b *MemoryBackend) Put(key [CubeKeySize]byte, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = append([]byte(nil), value...)
	return nil
}

func (b *MemoryBackend) Delete(key [CubeKeySize]byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
	return nil
}

func (b *MemoryBackend) Keys() [][CubeKeySize]byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([][CubeKeySize]byte, 0, len(b.data))
	for k := range b.data {
		out = append(out, k)
	}
	return out
}

// LRUBackend bounds memory use by evicting the least-recently-used
// entry once capacity is reached. Grounded on the teacher's diskLRU
// (core/storage.go) eviction bookkeeping, adapted to a pure in-memory
// cache via github.com/hashicorp/golang-lru/v2 rather than hand-rolled
// index/order slices paired with on-disk blobs — cubenet's Backend has
// no disk component, that belongs to the external persistent KV engine.
type LRUBackend struct {
	cache *lru.Cache[[CubeKeySize]byte, []byte]
}

// NewLRUBackend creates a bounded Backend holding at most capacity
// entries.
func NewLRUBackend(capacity int) (*LRUBackend, error) {
	c, err := lru.New[[CubeKeySize]byte, []byte](capacity)
	if err != nil {
		return nil, err
	}
	return &LRUBackend{cache: c}, nil
}

func (b *LRUBackend) Get(key [CubeKeySize]byte) ([]byte, bool, error) {
	v, ok := b.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (b *LRUBackend) Put(key [CubeKeySize]byte, value []byte) error {
	b.cache.Add(key, append([]byte(nil), value...))
	return nil
}

func (b *LRUBackend) Delete(key [CubeKeySize]byte) error {
	b.cache.Remove(key)
	return nil
}

func (b *LRUBackend) Keys() [][CubeKeySize]byte {
	return b.cache.Keys()
}
