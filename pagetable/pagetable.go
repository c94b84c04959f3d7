// Package pagetable defines the page table interface the swap engine
// consumes: walking a PTE, installing a mapping, and flushing the TLB,
// plus an ascending-virtual-address enumeration of a process's user
// mappings used by victim/page selection and teardown.
//
// A real walker (multi-level hardware page tables, TLB shootdown IPIs)
// is out of scope for this module. What the swap engine actually needs
// from it is the narrow contract below, plus a trustworthy in-module
// double for tests: Fake, a map keyed by virtual address whose
// enumeration sorts by VA, which lets findpage visit only mapped pages
// in ascending VA order
// instead of scanning the entire user address range one page at a time.
package pagetable

import (
	"sort"
	"sync"

	"swapvm/mem"
)

// PTE is the swap engine's 32-bit software page-table entry. See
// mem.PTE_* for the bit layout.
type PTE = uint32

// Dir identifies a process's page directory. The swap engine treats it
// as opaque and only ever passes it back to a Walker/Enumerator.
type Dir interface{}

// Walker abstracts walking and mutating a process's page table.
type Walker interface {
	// Walk returns a pointer to the PTE for va, creating intermediate
	// page-table levels if create is true. The second return is false
	// if no entry exists (and create was false, or creation failed).
	Walk(dir Dir, va uintptr, create bool) (*PTE, bool)

	// Map installs a mapping from va (for len bytes, len==PGSIZE for a
	// single page) to the physical page pa, with the given low-bit
	// flags, returning false on failure (e.g. allocation failure while
	// creating page-table levels).
	Map(dir Dir, va uintptr, length int, pa uintptr, flags uint32) bool

	// TLBFlush invalidates cached translations for dir. A full flush is
	// always an acceptable implementation.
	TLBFlush(dir Dir)

	// InstallIfNonPresent installs (va -> pa, flags|PRESENT) only if va's
	// current PTE is not already present, the check and the install
	// happening as one atomic step. It reports whether it performed the
	// install; false means a concurrent page-in already won, and the
	// caller (holding its own now-superfluous frame) should free it
	// rather than treat this as an error.
	InstallIfNonPresent(dir Dir, va uintptr, pa uintptr, flags uint32) bool
}

// Entry pairs a virtual address with the PTE slot backing it.
type Entry struct {
	VA  uintptr
	PTE *PTE
}

// Enumerator yields a process's user-mapped (present or swapped) page
// entries in ascending virtual-address order, standing in for a linear
// scan of the process's VA space.
type Enumerator interface {
	UserEntries(dir Dir) []Entry
}

// Fake is an in-memory Walker+Enumerator backed by a plain map, usable
// as a page table in tests and in the cmd/swapsim demonstration binary.
// It is keyed by a single Dir (itself just a *Fake re-used as its own
// directory handle) rather than modeling multiple address spaces, since
// the engine only ever operates on one Dir at a time per call.
type Fake struct {
	mu      sync.Mutex
	entries map[uintptr]*PTE
}

// NewFake returns an empty fake page table. The returned *Fake is also
// the Dir to pass to the swap engine for this address space.
func NewFake() *Fake {
	return &Fake{entries: make(map[uintptr]*PTE)}
}

func (f *Fake) self(dir Dir) *Fake {
	if dir == nil {
		return f
	}
	if d, ok := dir.(*Fake); ok {
		return d
	}
	panic("pagetable: Dir is not a *Fake")
}

// Walk implements Walker. create controls whether a missing entry is
// materialized as a zero PTE (the "unmapped" encoding).
func (f *Fake) Walk(dir Dir, va uintptr, create bool) (*PTE, bool) {
	d := f.self(dir)
	d.mu.Lock()
	defer d.mu.Unlock()
	va = alignDown(va)
	pte, ok := d.entries[va]
	if !ok {
		if !create {
			return nil, false
		}
		pte = new(PTE)
		d.entries[va] = pte
	}
	return pte, true
}

// Map implements Walker.
func (f *Fake) Map(dir Dir, va uintptr, length int, pa uintptr, flags uint32) bool {
	pte, ok := f.Walk(dir, va, true)
	if !ok {
		return false
	}
	*pte = uint32(pa>>12)<<12 | (flags & 0xfff)
	return true
}

// TLBFlush implements Walker. The fake has no cached translations to
// invalidate; it exists so callers can exercise the call site.
func (f *Fake) TLBFlush(dir Dir) {}

// InstallIfNonPresent implements Walker.
func (f *Fake) InstallIfNonPresent(dir Dir, va uintptr, pa uintptr, flags uint32) bool {
	d := f.self(dir)
	d.mu.Lock()
	defer d.mu.Unlock()

	va = alignDown(va)
	pte, ok := d.entries[va]
	if !ok {
		pte = new(PTE)
		d.entries[va] = pte
	}
	if *pte&mem.PTE_P != 0 {
		return false
	}
	*pte = uint32(pa>>mem.PGSHIFT)<<mem.PGSHIFT | (flags & mem.PTE_FLAGS) | mem.PTE_P
	return true
}

// UserEntries implements Enumerator, returning every currently tracked
// entry (present or swap-encoded, but never the all-zero "unmapped"
// value) in ascending VA order.
func (f *Fake) UserEntries(dir Dir) []Entry {
	d := f.self(dir)
	d.mu.Lock()
	defer d.mu.Unlock()
	vas := make([]uintptr, 0, len(d.entries))
	for va, pte := range d.entries {
		if *pte == 0 {
			continue
		}
		vas = append(vas, va)
	}
	sort.Slice(vas, func(i, j int) bool { return vas[i] < vas[j] })
	out := make([]Entry, len(vas))
	for i, va := range vas {
		out[i] = Entry{VA: va, PTE: d.entries[va]}
	}
	return out
}

// Remove deletes the tracked entry at va entirely. The swap engine's
// teardown (SwapFreeProcess) does not call it: that frees the slots and
// leaves the entries in place. A present PTE removed this way is the
// frame allocator's concern, not the slot table's.
func (f *Fake) Remove(dir Dir, va uintptr) {
	d := f.self(dir)
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, alignDown(va))
}

func alignDown(va uintptr) uintptr {
	const pgoffset = 1<<12 - 1
	return va &^ pgoffset
}
