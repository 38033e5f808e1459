package manager

// tree is a string-keyed map that preserves insertion order, so iteration
// over defined and loaded modules is reproducible across runs.
type tree[V any] struct {
	keys  []string
	items map[string]V
}

func newTree[V any]() *tree[V] {
	return &tree[V]{items: make(map[string]V)}
}

func (t *tree[V]) get(key string) (V, bool) {
	v, ok := t.items[key]
	return v, ok
}

func (t *tree[V]) set(key string, v V) {
	if _, exists := t.items[key]; !exists {
		t.keys = append(t.keys, key)
	}
	t.items[key] = v
}

func (t *tree[V]) remove(key string) {
	if _, exists := t.items[key]; !exists {
		return
	}
	delete(t.items, key)
	for i, k := range t.keys {
		if k == key {
			t.keys = append(t.keys[:i], t.keys[i+1:]...)
			break
		}
	}
}

func (t *tree[V]) has(key string) bool {
	_, ok := t.items[key]
	return ok
}

func (t *tree[V]) names() []string {
	out := make([]string, len(t.keys))
	copy(out, t.keys)
	return out
}

func (t *tree[V]) len() int {
	return len(t.keys)
}
