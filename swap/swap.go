// Package swap implements the demand-paging swap engine: page-out,
// page-in, victim/page selection, an adaptive low-watermark controller,
// fork-time slot duplication, and process-teardown slot cleanup, built
// on the slot, frame, process, pagetable, blockdev, and diag
// collaborators. I/O never happens while holding the slot table or
// process table lock; every method that touches disk releases those
// locks first.
package swap

import (
	"context"
	"sync"

	"swapvm/blockdev"
	"swapvm/diag"
	"swapvm/frame"
	"swapvm/mem"
	"swapvm/pagetable"
	"swapvm/process"
	"swapvm/slot"
	"swapvm/swaperr"
)

// Config holds the adaptive controller's starting parameters.
type Config struct {
	Threshold int // free-frame low watermark that arms a trigger
	NSwap     int // pages evicted per trigger
	Alpha     int // percent growth applied to NSwap after a trigger
	Beta      int // percent shrink applied to Threshold after a trigger
	Limit     int // ceiling NSwap never grows past
}

// DefaultConfig returns reasonable starting parameters: threshold 100,
// n_swap 4, alpha 25, beta 10, limit 100.
func DefaultConfig() Config {
	return Config{Threshold: 100, NSwap: 4, Alpha: 25, Beta: 10, Limit: 100}
}

// Signal is sent on Engine.LowMemCh to ask the engine to run a
// CheckAndSwap pass outside the synchronous fault path. Resume, if
// non-nil, is closed once the pass completes so the sender can wait
// for it.
type Signal struct {
	Need   int
	Resume chan struct{}
}

// Engine ties the swap collaborators together and holds the adaptive
// controller's mutable state.
type Engine struct {
	Slots  *slot.Table
	Frames frame.Allocator
	Procs  *process.Table
	PT     pagetable.Walker
	Enum   pagetable.Enumerator
	Disk   blockdev.Device
	Log    *diag.Logger

	// LowMemCh is an additive trigger path: a caller that detects memory
	// pressure outside the fault handler can send a Signal here instead
	// of calling CheckAndSwap directly. Run drains it.
	LowMemCh chan Signal

	mu        sync.Mutex
	threshold int
	nswap     int
	alpha     int
	beta      int
	limit     int
}

// New builds an Engine from its collaborators and starting controller
// config. If frames supports SetReclaimHook (frame.FreeListAllocator
// does), New wires the engine's own CheckAndSwap as that hook: an
// allocator running empty triggers the controller, but the controller
// never calls back into AllocFrame from within that same call.
func New(cfg Config, slots *slot.Table, frames frame.Allocator, procs *process.Table, pt pagetable.Walker, enum pagetable.Enumerator, disk blockdev.Device, log *diag.Logger) *Engine {
	e := &Engine{
		Slots:     slots,
		Frames:    frames,
		Procs:     procs,
		PT:        pt,
		Enum:      enum,
		Disk:      disk,
		Log:       log,
		LowMemCh:  make(chan Signal, 1),
		threshold: cfg.Threshold,
		nswap:     cfg.NSwap,
		alpha:     cfg.Alpha,
		beta:      cfg.Beta,
		limit:     cfg.Limit,
	}
	if r, ok := frames.(interface{ SetReclaimHook(frame.ReclaimHook) }); ok {
		r.SetReclaimHook(e.reclaimHook)
	}
	return e
}

// reclaimKey marks a context as already running a reclaim pass, so the
// allocator's reclaim hook does not re-enter CheckAndSwap from within
// CheckAndSwap's own swap-out path or from SwapIn's frame allocation.
type reclaimKey struct{}

func withReclaiming(ctx context.Context) context.Context {
	return context.WithValue(ctx, reclaimKey{}, true)
}

func isReclaiming(ctx context.Context) bool {
	v, _ := ctx.Value(reclaimKey{}).(bool)
	return v
}

func (e *Engine) reclaimHook(ctx context.Context) {
	if isReclaiming(ctx) {
		return
	}
	e.CheckAndSwap(ctx)
}

// Init emits the boot diagnostic: "Swap area initialized with N slots".
func (e *Engine) Init() {
	e.Log.BootInit(slot.Count)
}

// Run drains LowMemCh until ctx is cancelled, running a CheckAndSwap
// pass for each signal received.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-e.LowMemCh:
			e.CheckAndSwap(ctx)
			if sig.Resume != nil {
				close(sig.Resume)
			}
		}
	}
}

// Threshold returns the controller's current free-frame watermark.
func (e *Engine) Threshold() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.threshold
}

// NSwap returns the controller's current per-trigger eviction count.
func (e *Engine) NSwap() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nswap
}

// SwapOut evicts the user page at va in p's address space to disk:
// allocate a slot, save the PTE's flags, write the page to the slot's
// disk region, and rewrite the PTE as the non-present swap encoding.
// Freeing pa and decrementing p's rss is left to the caller, which may
// want to reuse the frame immediately.
func (e *Engine) SwapOut(ctx context.Context, p *process.Proc, va uintptr, pa frame.KVA) swaperr.Err_t {
	va = mem.Rounddown(va)

	idx, err := e.Slots.Allocate()
	if err != swaperr.OK {
		return err
	}

	pte, ok := e.PT.Walk(p.Pgdir, va, false)
	if !ok || *pte&mem.PTE_P == 0 {
		e.Slots.Free(idx)
		return swaperr.PteMissing
	}

	flags := *pte & mem.PTE_FLAGS
	e.Slots.WritePerm(idx, flags)

	data := e.Frames.Bytes(pa)
	if err := blockdev.WritePage(ctx, e.Disk, blockdev.SlotBase(idx), data); err != nil {
		e.Slots.Free(idx)
		return swaperr.IoFail
	}

	*pte = mem.EncodeSwapPTE(idx, flags)
	e.PT.TLBFlush(p.Pgdir)
	return swaperr.OK
}

// SwapIn restores the page swapped out at va in p's address space: walk
// to the non-present PTE, recover its slot index, allocate a frame
// (marked as reclaiming, so the allocator's hook does not run the
// controller; on exhaustion SwapIn runs CheckAndSwap itself and retries
// once), read the slot's disk region into it, install the mapping, and
// free the slot.
//
// A concurrent second fault on the same va that wins the race back to
// present is treated as success, not an error.
func (e *Engine) SwapIn(ctx context.Context, p *process.Proc, va uintptr) swaperr.Err_t {
	va = mem.Rounddown(va)

	pte, ok := e.PT.Walk(p.Pgdir, va, false)
	if !ok {
		return swaperr.PteMissing
	}
	if *pte&mem.PTE_P != 0 {
		return swaperr.OK
	}
	if *pte == 0 {
		return swaperr.PteState
	}

	idx := mem.SlotIndex(*pte)
	savedPerm, allocated := e.Slots.ReadPerm(idx)
	if !allocated {
		return swaperr.PteState
	}

	pa, ok := e.Frames.AllocFrame(withReclaiming(ctx))
	if !ok {
		e.CheckAndSwap(ctx)
		pa, ok = e.Frames.AllocFrame(withReclaiming(ctx))
	}
	if !ok {
		return swaperr.NoFrame
	}

	data := e.Frames.Bytes(pa)
	if err := blockdev.ReadPage(ctx, e.Disk, blockdev.SlotBase(idx), data); err != nil {
		e.Frames.FreeFrame(pa)
		return swaperr.IoFail
	}

	if !e.PT.InstallIfNonPresent(p.Pgdir, va, uintptr(pa), savedPerm) {
		// a concurrent page-in on the same va won the race between our
		// step-2 check and now; our frame is superfluous, and the
		// winner already freed the slot.
		e.Frames.FreeFrame(pa)
		e.Slots.Free(idx)
		return swaperr.OK
	}

	e.Slots.Free(idx)
	p.IncRSS()
	return swaperr.OK
}

// findPage runs a two-pass approximated-LRU scan of p's present, user,
// currently-mapped pages in ascending virtual-address order. The first
// pass returns the first page with its accessed bit clear. If every
// page's accessed bit is set, the second pass clears all of them,
// flushes the TLB once, and returns the lowest-VA page (now guaranteed
// accessed-clear). ok is false if p has no present user pages at all,
// an explicit third return rather than a sentinel physical address.
func (e *Engine) findPage(p *process.Proc) (pa uintptr, va uintptr, ok bool) {
	entries := e.Enum.UserEntries(p.Pgdir)

	scan := func() (*pagetable.Entry, bool) {
		for i := range entries {
			pte := *entries[i].PTE
			if pte&mem.PTE_P != 0 && pte&mem.PTE_U != 0 && pte&mem.PTE_A == 0 {
				return &entries[i], true
			}
		}
		return nil, false
	}

	if ent, found := scan(); found {
		return mem.PTEAddr(*ent.PTE), ent.VA, true
	}

	cleared := false
	for i := range entries {
		pte := entries[i].PTE
		if *pte&mem.PTE_P != 0 && *pte&mem.PTE_U != 0 {
			*pte &^= mem.PTE_A
			cleared = true
		}
	}
	if !cleared {
		return 0, 0, false
	}
	e.PT.TLBFlush(p.Pgdir)

	if ent, found := scan(); found {
		return mem.PTEAddr(*ent.PTE), ent.VA, true
	}
	return 0, 0, false
}

// CheckAndSwap is the adaptive controller: if the allocator's free
// count is still above the current threshold it does nothing;
// otherwise it evicts nswap pages from a single victim process, logs
// the trigger, shrinks threshold by beta percent (floored at 1) and
// grows nswap by alpha percent (capped at limit).
func (e *Engine) CheckAndSwap(ctx context.Context) {
	ctx = withReclaiming(ctx)

	e.mu.Lock()
	threshold, nswap := e.threshold, e.nswap
	e.mu.Unlock()

	if e.Frames.FreeCount() > threshold {
		return
	}

	e.Log.Trigger(threshold, nswap)
	e.swapOutBatch(ctx, nswap)

	e.mu.Lock()
	e.threshold = max(1, threshold-threshold*e.beta/100)
	e.nswap = min(e.limit, nswap+nswap*e.alpha/100)
	e.mu.Unlock()
}

// swapOutBatch picks a single victim process and attempts to evict k of
// its pages, trying up to 2k page selections since some selected pages
// may fail to page out (e.g. a racing unmap). It returns the number
// actually reclaimed.
func (e *Engine) swapOutBatch(ctx context.Context, k int) int {
	victim, ok := e.Procs.SelectVictim()
	if !ok {
		return 0
	}

	reclaimed := 0
	for attempt := 0; attempt < 2*k && reclaimed < k; attempt++ {
		pa, va, ok := e.findPage(victim)
		if !ok {
			break
		}
		if err := e.SwapOut(ctx, victim, va, frame.KVA(pa)); err != swaperr.OK {
			continue
		}
		e.Frames.FreeFrame(frame.KVA(pa))
		victim.DecRSS()
		reclaimed++
	}
	return reclaimed
}

// DupSlot duplicates the swap slot at parentIdx for a forking child:
// allocate a fresh slot (invoking the controller and retrying up to
// twice on exhaustion, the same discipline as any other slot
// allocation), copy the saved permission bits, then copy the slot's
// disk contents after releasing the slot table, since the copy is pure
// disk I/O that does not need the lock.
func (e *Engine) DupSlot(ctx context.Context, parentIdx int) (int, swaperr.Err_t) {
	parentPerm, ok := e.Slots.ReadPerm(parentIdx)
	if !ok {
		return -1, swaperr.PteState
	}

	var childIdx int
	var aerr swaperr.Err_t
	for attempt := 0; attempt < 3; attempt++ {
		childIdx, aerr = e.Slots.Allocate()
		if aerr == swaperr.OK {
			break
		}
		if attempt < 2 {
			e.CheckAndSwap(ctx)
		}
	}
	if aerr != swaperr.OK {
		return -1, swaperr.NoSlot
	}

	e.Slots.WritePerm(childIdx, parentPerm)

	if err := blockdev.CopyPage(ctx, e.Disk, blockdev.SlotBase(parentIdx), blockdev.SlotBase(childIdx)); err != nil {
		e.Slots.Free(childIdx)
		return -1, swaperr.IoFail
	}
	return childIdx, swaperr.OK
}

// SwapFreeProcess releases every swap slot still held by p, called
// during process teardown after its present pages have been returned
// to the frame allocator by that allocator's own teardown path. Present
// entries and the zero "never mapped" encoding are both left untouched;
// only non-present, non-zero entries name a slot this function owns.
func (e *Engine) SwapFreeProcess(p *process.Proc) {
	for _, ent := range e.Enum.UserEntries(p.Pgdir) {
		pte := *ent.PTE
		if pte == 0 || pte&mem.PTE_P != 0 {
			continue
		}
		e.Slots.Free(mem.SlotIndex(pte))
	}
}
