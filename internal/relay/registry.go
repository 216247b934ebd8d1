package relay

// Registry is the single source of truth for in-flight items, keyed by the
// content timestamp. It is not self-locking: the Coordinator guards it with
// the same mutex that protects the collection window, so every state-machine
// transition is atomic with respect to the others.
type Registry struct {
	items map[int64]*Item
	order []int64 // insertion order, for stable listings
}

func NewRegistry() *Registry {
	return &Registry{items: map[int64]*Item{}}
}

// Put inserts the item under its key. A second item with the same key
// replaces the stored one in place, it never duplicates the entry.
func (r *Registry) Put(it *Item) {
	if _, ok := r.items[it.Key]; !ok {
		r.order = append(r.order, it.Key)
	}
	r.items[it.Key] = it
}

func (r *Registry) Get(key int64) *Item {
	return r.items[key]
}

func (r *Registry) Remove(key int64) *Item {
	it, ok := r.items[key]
	if !ok {
		return nil
	}
	delete(r.items, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return it
}

// FindBySeq is a linear scan; the registry holds tens of items at most.
func (r *Registry) FindBySeq(seq int64) *Item {
	for _, k := range r.order {
		if it := r.items[k]; it != nil && it.Seq == seq {
			return it
		}
	}
	return nil
}

// All returns the items in insertion order.
func (r *Registry) All() []*Item {
	out := make([]*Item, 0, len(r.order))
	for _, k := range r.order {
		if it := r.items[k]; it != nil {
			out = append(out, it)
		}
	}
	return out
}

func (r *Registry) Len() int { return len(r.items) }
