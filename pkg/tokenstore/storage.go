package tokenstore

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Storage is one backing scope of a Store. Get reports ok=false for a
// missing key rather than an error.
type Storage interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// MemoryStorage keeps values in process memory. Entries idle longer than the
// configured TTL are dropped, and the least recently used entries are evicted
// once the size limit is reached. Reads and writes both restart an entry's
// idle timer.
type MemoryStorage struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, string]
}

// NewMemoryStorage creates a memory storage. A size of zero means unbounded
// and a ttl of zero means entries never expire.
func NewMemoryStorage(size int, ttl time.Duration) *MemoryStorage {
	return &MemoryStorage{
		cache: expirable.NewLRU[string, string](size, nil, ttl),
	}
}

func (m *MemoryStorage) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.cache.Get(key)
	if ok {
		m.cache.Add(key, value)
	}
	return value, ok, nil
}

func (m *MemoryStorage) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Add(key, value)
	return nil
}

func (m *MemoryStorage) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Remove(key)
	return nil
}

func (m *MemoryStorage) Len() int {
	return m.cache.Len()
}

type namespaced struct {
	storage Storage
	prefix  string
}

// Namespace partitions storage so that many token stores can share one
// backend. Keys are written as "<prefix>:<key>".
func Namespace(storage Storage, prefix string) Storage {
	if storage == nil {
		return nil
	}
	return &namespaced{storage: storage, prefix: prefix + ":"}
}

func (n *namespaced) Get(ctx context.Context, key string) (string, bool, error) {
	return n.storage.Get(ctx, n.prefix+key)
}

func (n *namespaced) Set(ctx context.Context, key, value string) error {
	return n.storage.Set(ctx, n.prefix+key, value)
}

func (n *namespaced) Delete(ctx context.Context, key string) error {
	return n.storage.Delete(ctx, n.prefix+key)
}
