// Package frame defines the physical-frame allocator interface the swap
// engine consumes, plus FreeListAllocator, a mutex-guarded free list
// usable as a fake physical allocator in tests and the demonstration
// binary.
//
// A real allocator backing actual address space and hardware would track
// refcounts per physical page and maintain per-CPU free lists to avoid a
// global lock on the fast path; that is out of scope here. What
// FreeListAllocator keeps is the shape that matters to the swap engine: a
// free list (a set of free frames plus a slice holding them in reuse
// order; alloc takes the head of that slice) with an O(1) length count,
// plus a low-watermark reclaim hook the allocator invokes when it runs
// dry so a caller elsewhere in the system can try to free something up.
package frame

import (
	"context"
	"sync"

	"swapvm/mem"
)

// KVA is a kernel virtual address backing a physical frame, matching the
// granularity of the external allocator.alloc_frame() contract: a frame
// is page-sized and opaque to the swap engine beyond its address.
type KVA uintptr

// Allocator abstracts the physical frame allocator.
type Allocator interface {
	// AllocFrame returns a free frame, or ok=false if none are free. The
	// frame's bytes are not cleared: FreeListAllocator hands a reused
	// frame back with the contents it had when it was freed.
	AllocFrame(ctx context.Context) (KVA, bool)
	// FreeFrame returns a frame to the allocator.
	FreeFrame(KVA)
	// FreeCount reports the number of frames currently free, used by
	// the adaptive controller's low-watermark check.
	FreeCount() int
	// Bytes returns the mem.PGSIZE-byte region backing f, valid for as
	// long as the caller holds f. Page-out reads through it to fill a
	// disk write; page-in writes through it after a disk read.
	Bytes(f KVA) []byte
}

// ReclaimHook is invoked by FreeListAllocator when an allocation finds
// the free list empty, so something elsewhere in the system (typically
// the swap engine's own controller) gets a chance to free a frame before
// the allocation is reported as failed. It is set after construction
// (SetReclaimHook) rather than taken as a constructor argument so this
// package never needs to import whatever installs the hook, avoiding an
// import cycle between the two.
type ReclaimHook func(ctx context.Context)

// FreeListAllocator is a mutex-guarded free list of frames, the fake
// physical allocator used by tests and cmd/swapsim.
type FreeListAllocator struct {
	mu      sync.Mutex
	free    map[KVA]bool
	order   []KVA // preserves a deterministic alloc order for tests
	backing map[KVA][]byte
	reclaim ReclaimHook
}

// NewFreeListAllocator seeds the allocator with n frames at synthetic,
// page-aligned addresses (1*PGSIZE, 2*PGSIZE, ...), each backed by a
// zeroed mem.PGSIZE byte region. Page alignment matters here: the swap
// engine round-trips a KVA through a present PTE's high bits (installed
// by the page table, read back with mem.PTEAddr), and a non-aligned
// address would not survive that trip.
func NewFreeListAllocator(n int) *FreeListAllocator {
	a := &FreeListAllocator{
		free:    make(map[KVA]bool, n),
		backing: make(map[KVA][]byte, n),
	}
	for i := 0; i < n; i++ {
		f := KVA((i + 1) * mem.PGSIZE)
		a.free[f] = true
		a.order = append(a.order, f)
		a.backing[f] = make([]byte, mem.PGSIZE)
	}
	return a
}

// SetReclaimHook installs the callback invoked on allocation failure.
// Passing nil disables the hook (AllocFrame then simply reports failure).
func (a *FreeListAllocator) SetReclaimHook(h ReclaimHook) {
	a.mu.Lock()
	a.reclaim = h
	a.mu.Unlock()
}

// AllocFrame implements Allocator. On an empty free list it invokes the
// reclaim hook (unless ctx carries the engine's "already reclaiming"
// marker, which the hook itself is responsible for checking — this
// package has no dependency on that marker's definition) and retries
// the allocation once.
func (a *FreeListAllocator) AllocFrame(ctx context.Context) (KVA, bool) {
	if f, ok := a.tryAlloc(); ok {
		return f, true
	}
	a.mu.Lock()
	hook := a.reclaim
	a.mu.Unlock()
	if hook != nil {
		hook(ctx)
	}
	return a.tryAlloc()
}

func (a *FreeListAllocator) tryAlloc() (KVA, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, f := range a.order {
		if a.free[f] {
			delete(a.free, f)
			a.order = append(a.order[:i:i], a.order[i+1:]...)
			return f, true
		}
	}
	return 0, false
}

// FreeFrame implements Allocator.
func (a *FreeListAllocator) FreeFrame(f KVA) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.free[f] {
		a.free[f] = true
		a.order = append(a.order, f)
	}
}

// FreeCount implements Allocator.
func (a *FreeListAllocator) FreeCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.free)
}

// Bytes implements Allocator.
func (a *FreeListAllocator) Bytes(f KVA) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.backing[f]
	if !ok {
		panic("frame: Bytes of unknown frame")
	}
	return b
}
