// Package ttlcache provides a bounded set whose entries expire after a fixed TTL.
// Expiry is lazy: entries are dropped when read or when room is needed.
package ttlcache

import (
	"container/list"
	"sync"
	"time"
)

type entry[K comparable] struct {
	key     K
	expires time.Time
}

type Set[K comparable] struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	now      func() time.Time

	// insertion order, oldest at the front
	order *list.List
	items map[K]*list.Element
}

type Option[K comparable] func(*Set[K])

// WithClock replaces time.Now
func WithClock[K comparable](now func() time.Time) Option[K] {
	return func(s *Set[K]) { s.now = now }
}

func New[K comparable](ttl time.Duration, capacity int, opts ...Option[K]) *Set[K] {
	if capacity <= 0 {
		capacity = 1
	}
	s := &Set[K]{
		ttl:      ttl,
		capacity: capacity,
		now:      time.Now,
		order:    list.New(),
		items:    make(map[K]*list.Element),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add inserts key or refreshes its expiry
func (s *Set[K]) Add(key K) {
	s.AddFor(key, s.ttl)
}

// AddFor inserts key with its own ttl
func (s *Set[K]) AddFor(key K, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if el, ok := s.items[key]; ok {
		el.Value.(*entry[K]).expires = now.Add(ttl)
		s.order.MoveToBack(el)
		return
	}

	if len(s.items) >= s.capacity {
		s.sweep(now)
	}
	for len(s.items) >= s.capacity {
		s.remove(s.order.Front())
	}

	s.items[key] = s.order.PushBack(&entry[K]{key: key, expires: now.Add(ttl)})
}

// Contains reports whether key is present and not expired
func (s *Set[K]) Contains(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[key]
	if !ok {
		return false
	}
	if !s.now().Before(el.Value.(*entry[K]).expires) {
		s.remove(el)
		return false
	}
	return true
}

func (s *Set[K]) Remove(key K) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[key]; ok {
		s.remove(el)
	}
}

// Len counts live entries
func (s *Set[K]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweep(s.now())
	return len(s.items)
}

func (s *Set[K]) sweep(now time.Time) {
	for el := s.order.Front(); el != nil; {
		next := el.Next()
		if !now.Before(el.Value.(*entry[K]).expires) {
			s.remove(el)
		}
		el = next
	}
}

func (s *Set[K]) remove(el *list.Element) {
	if el == nil {
		return
	}
	s.order.Remove(el)
	delete(s.items, el.Value.(*entry[K]).key)
}
