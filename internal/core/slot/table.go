package slot

import "errors"

// ErrNoFreeSlot is returned by Allocate when every slot is in use.
var ErrNoFreeSlot = errors.New("slot: no free slot")

// Handle encodes a 32-bit slot index in the lower bits and a 32-bit generation
// in the upper bits. Generation increments on free to invalidate stale refs.
// Generations start at 1, so the zero Handle never refers to a live slot.
type Handle uint64

func NewHandle(index uint32, generation uint32) Handle {
	return Handle(uint64(generation)<<32 | uint64(index))
}

func (h Handle) Index() int         { return int(uint32(h)) }
func (h Handle) Generation() uint32 { return uint32(h >> 32) }
func (h Handle) IsZero() bool       { return h == 0 }

// Table is a fixed-capacity arena of T values with a free list of indices.
// Allocate and Free are O(1); iteration is in ascending index order so the
// simulation visits slots deterministically.
type Table[T any] struct {
	items       []T
	generations []uint32
	used        []bool
	freeList    []uint32
	count       int
	freeQueue   []Handle
}

func NewTable[T any](capacity int) *Table[T] {
	t := &Table[T]{
		items:       make([]T, capacity),
		generations: make([]uint32, capacity),
		used:        make([]bool, capacity),
		freeList:    make([]uint32, 0, capacity),
		freeQueue:   make([]Handle, 0, 8),
	}
	// Pushed in reverse so the lowest index is handed out first.
	for i := capacity - 1; i >= 0; i-- {
		t.generations[i] = 1
		t.freeList = append(t.freeList, uint32(i))
	}
	return t
}

// Allocate claims a free slot, resets it to the zero value and returns its
// handle and a pointer to the storage.
func (t *Table[T]) Allocate() (Handle, *T, error) {
	if len(t.freeList) == 0 {
		return 0, nil, ErrNoFreeSlot
	}
	idx := t.freeList[len(t.freeList)-1]
	t.freeList = t.freeList[:len(t.freeList)-1]
	var zero T
	t.items[idx] = zero
	t.used[idx] = true
	t.count++
	return NewHandle(idx, t.generations[idx]), &t.items[idx], nil
}

// Alive reports whether h still refers to an allocated slot.
func (t *Table[T]) Alive(h Handle) bool {
	idx := h.Index()
	if idx >= len(t.items) {
		return false
	}
	return t.used[idx] && t.generations[idx] == h.Generation()
}

// Free releases the slot behind h. Stale or unknown handles are ignored.
func (t *Table[T]) Free(h Handle) bool {
	if !t.Alive(h) {
		return false
	}
	idx := h.Index()
	var zero T
	t.items[idx] = zero
	t.used[idx] = false
	t.generations[idx]++
	t.freeList = append(t.freeList, uint32(idx))
	t.count--
	return true
}

// Get returns the value for a live handle.
func (t *Table[T]) Get(h Handle) (*T, bool) {
	if !t.Alive(h) {
		return nil, false
	}
	return &t.items[h.Index()], true
}

// At returns the value stored at a raw slot index if that slot is allocated.
func (t *Table[T]) At(index int) (*T, bool) {
	if index < 0 || index >= len(t.items) || !t.used[index] {
		return nil, false
	}
	return &t.items[index], true
}

// HandleAt returns the current handle for an allocated slot index.
func (t *Table[T]) HandleAt(index int) (Handle, bool) {
	if index < 0 || index >= len(t.items) || !t.used[index] {
		return 0, false
	}
	return NewHandle(uint32(index), t.generations[index]), true
}

// Each visits allocated slots in ascending index order.
func (t *Table[T]) Each(fn func(Handle, *T)) {
	for i := range t.items {
		if t.used[i] {
			fn(NewHandle(uint32(i), t.generations[i]), &t.items[i])
		}
	}
}

func (t *Table[T]) Len() int { return t.count }
func (t *Table[T]) Cap() int { return len(t.items) }

// MarkForFree queues a slot for release at the end of the tick.
func (t *Table[T]) MarkForFree(h Handle) {
	t.freeQueue = append(t.freeQueue, h)
}

// FlushFreeQueue releases all queued slots. Called by CleanupSystem.
func (t *Table[T]) FlushFreeQueue() int {
	n := 0
	for _, h := range t.freeQueue {
		if t.Free(h) {
			n++
		}
	}
	t.freeQueue = t.freeQueue[:0]
	return n
}
