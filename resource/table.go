package resource

import "sync"

// Table maps handles to Go values of a single type. It is safe for
// concurrent use. Freed slots are reused with a bumped generation so a
// stale handle never resolves to a newer value.
type Table[T any] struct {
	entries   []entry[T]
	freeList  []uint32
	observers []subscription
	mu        sync.RWMutex
	obsMu     sync.RWMutex
	live      int
	nextSub   uint64
}

type entry[T any] struct {
	value T
	gen   uint32
	valid bool
}

type subscription struct {
	id  uint64
	obs Observer
}

// NewTable creates an empty table.
func NewTable[T any]() *Table[T] {
	return &Table[T]{
		entries:  make([]entry[T], 0, 64),
		freeList: make([]uint32, 0, 16),
	}
}

// Insert stores a value and returns its handle.
func (t *Table[T]) Insert(value T) Handle {
	t.mu.Lock()
	var h Handle
	if n := len(t.freeList); n > 0 {
		idx := t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
		e := &t.entries[idx-1]
		e.gen++
		e.value = value
		e.valid = true
		h = makeHandle(idx, e.gen)
	} else {
		t.entries = append(t.entries, entry[T]{value: value, valid: true})
		h = makeHandle(uint32(len(t.entries)), 0)
	}
	t.live++
	t.mu.Unlock()

	t.notify(Event{Type: EventCreated, Handle: h})
	return h
}

// Get retrieves a value by handle.
func (t *Table[T]) Get(h Handle) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.lookup(h)
	if !ok {
		var zero T
		return zero, false
	}
	return e.value, true
}

// Remove takes a value out of the table. Dropper values are dropped after
// the table lock is released.
func (t *Table[T]) Remove(h Handle) (T, bool) {
	t.mu.Lock()
	e, ok := t.lookup(h)
	if !ok {
		t.mu.Unlock()
		var zero T
		return zero, false
	}

	value := e.value
	var zero T
	e.value = zero
	e.valid = false
	t.freeList = append(t.freeList, h.Index())
	t.live--
	t.mu.Unlock()

	if d, ok := any(value).(Dropper); ok {
		d.Drop()
	}
	t.notify(Event{Type: EventDropped, Handle: h})
	return value, true
}

// lookup requires t.mu to be held.
func (t *Table[T]) lookup(h Handle) (*entry[T], bool) {
	idx := h.Index()
	if idx == 0 || int(idx) > len(t.entries) {
		return nil, false
	}
	e := &t.entries[idx-1]
	if !e.valid || e.gen != h.Generation() {
		return nil, false
	}
	return e, true
}

// Len returns the number of live values.
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.live
}

// Each iterates over live values until fn returns false. fn must not call
// back into the table.
func (t *Table[T]) Each(fn func(Handle, T) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for i, e := range t.entries {
		if e.valid {
			if !fn(makeHandle(uint32(i+1), e.gen), e.value) {
				return
			}
		}
	}
}

// Subscribe adds an observer for lifecycle events and returns a func that
// removes it again. The returned func is idempotent.
func (t *Table[T]) Subscribe(o Observer) (cancel func()) {
	t.obsMu.Lock()
	t.nextSub++
	id := t.nextSub
	t.observers = append(t.observers, subscription{id: id, obs: o})
	t.obsMu.Unlock()

	return func() {
		t.obsMu.Lock()
		defer t.obsMu.Unlock()
		for i, s := range t.observers {
			if s.id == id {
				t.observers = append(t.observers[:i:i], t.observers[i+1:]...)
				return
			}
		}
	}
}

func (t *Table[T]) notify(e Event) {
	t.obsMu.RLock()
	subs := t.observers
	t.obsMu.RUnlock()
	for _, s := range subs {
		s.obs.OnResourceEvent(e)
	}
}
