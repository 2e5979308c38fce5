package cache

import (
	"sync"
)

// Cache is a small mutex-guarded map shared between request handlers
type Cache[T interface{}] struct {
	cache map[string]T
	mutex sync.RWMutex
}

func New[T interface{}]() *Cache[T] {
	return &Cache[T]{
		cache: make(map[string]T),
	}
}

func (c *Cache[T]) Remove(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.cache, key)
}

func (c *Cache[T]) Lookup(key string) (T, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	info, ok := c.cache[key]
	return info, ok
}

func (c *Cache[T]) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.cache)
}

func (c *Cache[T]) Store(key string, value T) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.cache[key] = value
}

// StoreIfAbsent stores value only if key is not present. It returns the value held for key after
// the call and whether this call stored it.
func (c *Cache[T]) StoreIfAbsent(key string, value T) (T, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if existing, ok := c.cache[key]; ok {
		return existing, false
	}
	c.cache[key] = value
	return value, true
}

// RemoveIf deletes key only if match returns true for the value currently held
func (c *Cache[T]) RemoveIf(key string, match func(T) bool) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	existing, ok := c.cache[key]
	if !ok || !match(existing) {
		return false
	}
	delete(c.cache, key)
	return true
}
