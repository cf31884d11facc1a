// Package table implements a capacity-bounded key/value map whose entries
// expire a fixed duration after their last update.
//
// Expiry is evaluated lazily on access: an expired entry is invisible to Get
// and Foreach but keeps its slot until Delete or a later Set reclaims it.
// A Map is not safe for concurrent use.
package table

import (
	"fmt"
	"time"

	"github.com/xuanhao44/net-lab-2023/internal/core"
)

type slot[K comparable, V any] struct {
	key     K
	value   V
	updated time.Time
	used    bool
}

// Map is an expiring table with a fixed number of slots.
type Map[K comparable, V any] struct {
	slots  []slot[K, V]
	index  map[K]int
	expiry time.Duration
	now    func() time.Time
	copyFn func(V) V
}

// Option configures a Map.
type Option[K comparable, V any] func(*Map[K, V])

// WithClock replaces time.Now as the source of entry timestamps.
func WithClock[K comparable, V any](now func() time.Time) Option[K, V] {
	return func(m *Map[K, V]) {
		if now != nil {
			m.now = now
		}
	}
}

// WithCopy installs a function applied to every value stored by Set.
func WithCopy[K comparable, V any](fn func(V) V) Option[K, V] {
	return func(m *Map[K, V]) {
		m.copyFn = fn
	}
}

// New creates a map holding at most capacity entries. A zero expiry means
// entries never expire.
func New[K comparable, V any](capacity int, expiry time.Duration, opts ...Option[K, V]) *Map[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	m := &Map[K, V]{
		slots:  make([]slot[K, V], capacity),
		index:  make(map[K]int, capacity),
		expiry: expiry,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Map[K, V]) expired(s *slot[K, V], now time.Time) bool {
	return m.expiry > 0 && now.Sub(s.updated) > m.expiry
}

// Set inserts or refreshes key. A new key takes a free slot or, failing
// that, the first expired one; ErrTableFull is returned when neither exists.
func (m *Map[K, V]) Set(key K, value V) error {
	now := m.now()
	if m.copyFn != nil {
		value = m.copyFn(value)
	}
	if i, ok := m.index[key]; ok {
		m.slots[i].value = value
		m.slots[i].updated = now
		return nil
	}

	victim := -1
	for i := range m.slots {
		s := &m.slots[i]
		if !s.used {
			victim = i
			break
		}
		if victim < 0 && m.expired(s, now) {
			victim = i
		}
	}
	if victim < 0 {
		return fmt.Errorf("%w: %d entries", core.ErrTableFull, len(m.slots))
	}

	s := &m.slots[victim]
	if s.used {
		delete(m.index, s.key)
	}
	*s = slot[K, V]{key: key, value: value, updated: now, used: true}
	m.index[key] = victim
	return nil
}

// Get returns the value for key if present and not expired.
func (m *Map[K, V]) Get(key K) (V, bool) {
	var zero V
	i, ok := m.index[key]
	if !ok {
		return zero, false
	}
	s := &m.slots[i]
	if m.expired(s, m.now()) {
		return zero, false
	}
	return s.value, true
}

// Delete removes key. Deleting an absent key is a no-op.
func (m *Map[K, V]) Delete(key K) {
	i, ok := m.index[key]
	if !ok {
		return
	}
	m.slots[i] = slot[K, V]{}
	delete(m.index, key)
}

// Foreach visits live entries in storage order until fn returns false.
// fn must not mutate the map.
func (m *Map[K, V]) Foreach(fn func(key K, value V, updated time.Time) bool) {
	now := m.now()
	for i := range m.slots {
		s := &m.slots[i]
		if !s.used || m.expired(s, now) {
			continue
		}
		if !fn(s.key, s.value, s.updated) {
			return
		}
	}
}

// Len returns the number of live entries.
func (m *Map[K, V]) Len() int {
	n := 0
	m.Foreach(func(K, V, time.Time) bool {
		n++
		return true
	})
	return n
}

// Cap returns the slot count.
func (m *Map[K, V]) Cap() int { return len(m.slots) }
