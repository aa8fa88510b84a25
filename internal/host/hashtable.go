package host

import "math"

// HashTable is an insertion ordered hash table. Keys compare with Go
// equality, i.e. by value for immediates and by identity for aggregates,
// except that every NaN is the same key.
type HashTable struct {
	keys   []Value
	values []Value
	index  map[any]int
}

type nanKey struct{}

// MapKey returns the Go map key v is indexed under. NaN never equals itself,
// so all NaNs share one key; any other value is its own key.
func MapKey(v Value) any {
	if f, ok := v.(Float); ok && math.IsNaN(float64(f)) {
		return nanKey{}
	}
	return v
}

// NewHashTable returns an empty table.
func NewHashTable() *HashTable {
	return &HashTable{index: make(map[any]int)}
}

// Len returns the number of entries.
func (h *HashTable) Len() int { return len(h.keys) }

// Get returns the value stored under key.
func (h *HashTable) Get(key Value) (Value, bool) {
	if i, ok := h.index[MapKey(key)]; ok {
		return h.values[i], true
	}
	return nil, false
}

// Put stores value under key, keeping the original position of an existing key.
func (h *HashTable) Put(key, value Value) {
	if i, ok := h.index[MapKey(key)]; ok {
		h.values[i] = value
		return
	}
	h.index[MapKey(key)] = len(h.keys)
	h.keys = append(h.keys, key)
	h.values = append(h.values, value)
}

// Range calls fn for each entry in insertion order until fn returns false.
func (h *HashTable) Range(fn func(key, value Value) bool) {
	for i, k := range h.keys {
		if !fn(k, h.values[i]) {
			return
		}
	}
}
