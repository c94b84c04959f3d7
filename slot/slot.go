// Package slot implements the swap slot table: a fixed-size array of
// swap slots, each either free or holding the saved permission bits of
// exactly one evicted page, guarded by a single mutex with no nested
// locking. The table itself carries no disk state — a slot's contents
// live in the blockdev region blockdev.SlotBase(i) names — slot.Table
// only tracks which indices are allocated and their saved permissions.
package slot

import (
	"sync"

	"swapvm/swaperr"
)

// Count is the fixed number of swap slots.
const Count = 800

type record struct {
	perm uint32
	free bool
}

// Table is the slot table: N slots protected by one mutex.
type Table struct {
	mu    sync.Mutex
	slots [Count]record
}

// NewTable returns a table with all slots free, as at boot.
func NewTable() *Table {
	t := &Table{}
	for i := range t.slots {
		t.slots[i].free = true
	}
	return t
}

// Allocate finds the first free slot, first-fit, marks it allocated, and
// returns its index. Returns swaperr.NoSlot if none are free.
func (t *Table) Allocate() (int, swaperr.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.slots {
		if t.slots[i].free {
			t.slots[i].free = false
			t.slots[i].perm = 0
			return i, swaperr.OK
		}
	}
	return -1, swaperr.NoSlot
}

// Free marks index free and clears its saved permissions. Out-of-range
// indices are a silent no-op (spec: "No-op if index out of range"), and
// freeing an already-free slot is idempotent.
func (t *Table) Free(index int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if index < 0 || index >= Count {
		return
	}
	t.slots[index].free = true
	t.slots[index].perm = 0
}

// ReadPerm returns the saved permission bits for index and whether index
// is currently allocated.
func (t *Table) ReadPerm(index int) (uint32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if index < 0 || index >= Count || t.slots[index].free {
		return 0, false
	}
	return t.slots[index].perm, true
}

// WritePerm stores perm as the saved permission bits for index. Writing
// to a free or out-of-range slot is a no-op; callers are expected to
// have just allocated index.
func (t *Table) WritePerm(index int, perm uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if index < 0 || index >= Count || t.slots[index].free {
		return
	}
	t.slots[index].perm = perm
}

// IsAllocated reports whether index is currently allocated.
func (t *Table) IsAllocated(index int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return index >= 0 && index < Count && !t.slots[index].free
}
