// Package weakmap provides a bidirectional association between comparable
// keys and weakly held values.
//
// Values are referenced through weak.Pointer, so an entry disappears once its
// value is no longer reachable from anywhere else. Keys are held strongly and
// should be plain data (ids, numbers, strings).
package weakmap

import (
	"runtime"
	"sync"
	"weak"
)

// entry is the cleanup argument attached to a value. It must not reference the
// value itself, only its weak pointer.
type entry[K comparable, V any] struct {
	key K
	ptr weak.Pointer[V]
}

// Map is a keyed weak-association map. The zero value is not usable; call New.
type Map[K comparable, V any] struct {
	mu       sync.Mutex
	forward  map[K]weak.Pointer[V]
	reverse  map[weak.Pointer[V]]K
	cleanups map[K]runtime.Cleanup
	onEvict  func(K)
}

// New creates an empty Map.
func New[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{
		forward:  make(map[K]weak.Pointer[V]),
		reverse:  make(map[weak.Pointer[V]]K),
		cleanups: make(map[K]runtime.Cleanup),
	}
}

// OnEvict registers fn to run after an entry vanished because its value was
// collected. It is not called for explicit Delete or overwrite.
func (m *Map[K, V]) OnEvict(fn func(K)) {
	m.mu.Lock()
	m.onEvict = fn
	m.mu.Unlock()
}

// Set associates key with value, replacing any previous association of either
// side. A nil value deletes the key.
func (m *Map[K, V]) Set(key K, value *V) {
	if value == nil {
		m.Delete(key)
		return
	}
	wp := weak.Make(value)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.deleteLocked(key)
	if oldKey, ok := m.reverse[wp]; ok {
		m.deleteLocked(oldKey)
	}
	m.forward[key] = wp
	m.reverse[wp] = key
	m.cleanups[key] = runtime.AddCleanup(value, m.evict, entry[K, V]{key: key, ptr: wp})
}

// Get returns the live value for key.
func (m *Map[K, V]) Get(key K) (*V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wp, ok := m.forward[key]
	if !ok {
		return nil, false
	}
	v := wp.Value()
	if v == nil {
		return nil, false
	}
	return v, true
}

// Has reports whether key maps to a live value.
func (m *Map[K, V]) Has(key K) bool {
	_, ok := m.Get(key)
	return ok
}

// KeyOf is the reverse lookup: the key currently associated with value.
func (m *Map[K, V]) KeyOf(value *V) (K, bool) {
	var zero K
	if value == nil {
		return zero, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.reverse[weak.Make(value)]
	if !ok {
		return zero, false
	}
	return key, true
}

// Delete removes key and reports whether it was present.
func (m *Map[K, V]) Delete(key K) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(key)
}

func (m *Map[K, V]) deleteLocked(key K) bool {
	wp, ok := m.forward[key]
	if !ok {
		return false
	}
	delete(m.forward, key)
	delete(m.reverse, wp)
	if c, ok := m.cleanups[key]; ok {
		c.Stop()
		delete(m.cleanups, key)
	}
	return true
}

// Len returns the number of entries, including ones whose value was collected
// but whose cleanup has not run yet.
func (m *Map[K, V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.forward)
}

// Range calls fn for every live entry until fn returns false. fn runs without
// the map lock held.
func (m *Map[K, V]) Range(fn func(key K, value *V) bool) {
	m.mu.Lock()
	type pair struct {
		key   K
		value *V
	}
	live := make([]pair, 0, len(m.forward))
	for k, wp := range m.forward {
		if v := wp.Value(); v != nil {
			live = append(live, pair{k, v})
		}
	}
	m.mu.Unlock()

	for _, p := range live {
		if !fn(p.key, p.value) {
			return
		}
	}
}

func (m *Map[K, V]) evict(e entry[K, V]) {
	m.mu.Lock()
	wp, ok := m.forward[e.key]
	if !ok || wp != e.ptr {
		m.mu.Unlock()
		return
	}
	delete(m.forward, e.key)
	delete(m.reverse, e.ptr)
	delete(m.cleanups, e.key)
	fn := m.onEvict
	m.mu.Unlock()

	if fn != nil {
		fn(e.key)
	}
}
