package trie

import (
	"sort"
	"sync"
)

// MemoryKV is a map-backed KVStore.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

func (m *MemoryKV) Get(key []byte) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	return v, ok, nil
}

func (m *MemoryKV) Put(key []byte, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryKV) PutBatch(pairs [][2][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, kv := range pairs {
		m.data[string(kv[0])] = append([]byte(nil), kv[1]...)
	}
	return nil
}

// Overlay buffers writes on top of a parent store. Reads fall through to
// the parent for keys the overlay has not written. Discarding an overlay
// leaves the parent untouched.
type Overlay struct {
	parent KVStore
	mu     sync.RWMutex
	writes map[string][]byte
}

func NewOverlay(parent KVStore) *Overlay {
	return &Overlay{parent: parent, writes: make(map[string][]byte)}
}

func (o *Overlay) Get(key []byte) ([]byte, bool, error) {
	o.mu.RLock()
	v, ok := o.writes[string(key)]
	o.mu.RUnlock()
	if ok {
		return v, true, nil
	}
	return o.parent.Get(key)
}

func (o *Overlay) Put(key []byte, value []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.writes[string(key)] = append([]byte(nil), value...)
	return nil
}

// Dirty is the number of buffered keys.
func (o *Overlay) Dirty() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.writes)
}

// Flush writes the buffered keys to the parent, in one batch when the
// parent supports it, and clears the overlay.
func (o *Overlay) Flush() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	keys := make([]string, 0, len(o.writes))
	for k := range o.writes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([][2][]byte, len(keys))
	for i, k := range keys {
		pairs[i] = [2][]byte{[]byte(k), o.writes[k]}
	}
	if bw, ok := o.parent.(BatchWriter); ok {
		if err := bw.PutBatch(pairs); err != nil {
			return err
		}
	} else {
		for _, kv := range pairs {
			if err := o.parent.Put(kv[0], kv[1]); err != nil {
				return err
			}
		}
	}
	o.writes = make(map[string][]byte)
	return nil
}
