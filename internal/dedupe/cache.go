// ABOUTME: Thread-safe TTL+LRU map, and the set of recently seen keys built on it.
// ABOUTME: The Matrix bridge uses the set for redelivered events and maps for per-message state.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type settings struct {
	now func() time.Time
}

// Option tunes a Map or Cache.
type Option func(*settings)

// WithClock replaces time.Now, used by tests to step past the TTL.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

type entry[V any] struct {
	key     string
	value   V
	written time.Time
}

// Map holds values for a bounded time and up to a bounded count. The list
// is ordered by last write (oldest at front), so both expiry and capacity
// eviction pop from the front. Expired entries are dropped when touched or
// by Expire; the size bound holds regardless.
type Map[V any] struct {
	mu      sync.Mutex
	index   map[string]*list.Element
	order   *list.List
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// NewMap creates a map whose entries live for ttl after their last write.
// maxSize <= 0 means unbounded.
func NewMap[V any](ttl time.Duration, maxSize int, opts ...Option) *Map[V] {
	s := settings{now: time.Now}
	for _, opt := range opts {
		opt(&s)
	}
	return &Map[V]{
		index:   make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     s.now,
	}
}

// live returns the unexpired element for key. Must be called with mu held.
func (m *Map[V]) live(key string, now time.Time) (*list.Element, bool) {
	el, ok := m.index[key]
	if !ok {
		return nil, false
	}
	if now.Sub(el.Value.(*entry[V]).written) >= m.ttl {
		m.remove(el)
		return nil, false
	}
	return el, true
}

// Get returns the value stored under key.
func (m *Map[V]) Get(key string) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.live(key, m.now())
	if !ok {
		var zero V
		return zero, false
	}
	return el.Value.(*entry[V]).value, true
}

// Put stores value under key and restarts its TTL.
func (m *Map[V]) Put(key string, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(key, value, m.now())
}

// PutIfAbsent stores value unless key is live, and reports whether it was.
// Check and store happen under one lock.
func (m *Map[V]) PutIfAbsent(key string, value V) (present bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if _, ok := m.live(key, now); ok {
		return true
	}
	m.put(key, value, now)
	return false
}

func (m *Map[V]) put(key string, value V, now time.Time) {
	if el, ok := m.index[key]; ok {
		e := el.Value.(*entry[V])
		e.value, e.written = value, now
		m.order.MoveToBack(el)
		return
	}
	for m.maxSize > 0 && len(m.index) >= m.maxSize {
		m.remove(m.order.Front())
	}
	m.index[key] = m.order.PushBack(&entry[V]{key: key, value: value, written: now})
}

// Delete drops key.
func (m *Map[V]) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.index[key]; ok {
		m.remove(el)
	}
}

// Len returns the number of tracked keys, expired or not.
func (m *Map[V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.index)
}

// Expire drops every entry older than the TTL.
func (m *Map[V]) Expire() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for front := m.order.Front(); front != nil; front = m.order.Front() {
		if now.Sub(front.Value.(*entry[V]).written) < m.ttl {
			return
		}
		m.remove(front)
	}
}

// remove must be called with mu held.
func (m *Map[V]) remove(el *list.Element) {
	if el == nil {
		return
	}
	m.order.Remove(el)
	delete(m.index, el.Value.(*entry[V]).key)
}

// Cache remembers keys for a bounded time and up to a bounded count.
type Cache struct {
	keys *Map[struct{}]

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a cache and starts a sweeper that expires entries once a minute.
func New(ttl time.Duration, maxSize int, opts ...Option) *Cache {
	c := &Cache{
		keys: NewMap[struct{}](ttl, maxSize, opts...),
		done: make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Seen reports whether key was recorded within the TTL, recording it if not.
// Two deliveries of the same event cannot both pass.
func (c *Cache) Seen(key string) bool {
	return c.keys.PutIfAbsent(key, struct{}{})
}

// Len returns the number of tracked keys, expired or not.
func (c *Cache) Len() int {
	return c.keys.Len()
}

// Expire drops every entry older than the TTL.
func (c *Cache) Expire() {
	c.keys.Expire()
}

func (c *Cache) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.keys.Expire()
		case <-c.done:
			return
		}
	}
}

// Close stops the sweeper. It is safe to call multiple times.
func (c *Cache) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
