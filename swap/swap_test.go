package swap_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"swapvm/blockdev"
	"swapvm/diag"
	"swapvm/frame"
	"swapvm/mem"
	"swapvm/pagetable"
	"swapvm/process"
	"swapvm/slot"
	"swapvm/swap"
	"swapvm/swaperr"
)

// harness bundles one Engine with its collaborators for tests that want
// direct access to the underlying fakes.
type harness struct {
	eng    *swap.Engine
	frames *frame.FreeListAllocator
	slots  *slot.Table
	pt     *pagetable.Fake
	procs  *process.Table
	disk   *blockdev.MemDevice
}

func newHarness(t *testing.T, cfg swap.Config, nframes int) *harness {
	t.Helper()
	h := &harness{
		frames: frame.NewFreeListAllocator(nframes),
		slots:  slot.NewTable(),
		pt:     pagetable.NewFake(),
		procs:  process.NewTable(),
		disk:   blockdev.NewMemDevice(blockdev.Reserved + slot.Count*blockdev.SlotBlocks),
	}
	h.eng = swap.New(cfg, h.slots, h.frames, h.procs, h.pt, h.pt, h.disk, diag.NewNop())
	return h
}

// fillPage returns a PGSIZE buffer filled with a repeating
// 0xAA,0xBB,0xCC,... sequence, distinctive enough to catch any
// off-by-page-size or byte-order mistake in the write/read round trip.
func fillPage() []byte {
	buf := make([]byte, mem.PGSIZE)
	seq := []byte{0xAA, 0xBB, 0xCC}
	for i := range buf {
		buf[i] = seq[i%len(seq)]
	}
	return buf
}

// mapPresent maps va in p's address space to a freshly allocated frame
// filled with data, bumping p's rss.
func mapPresent(t *testing.T, h *harness, p *process.Proc, va uintptr, data []byte, flags uint32) frame.KVA {
	t.Helper()
	pa, ok := h.frames.AllocFrame(context.Background())
	require.True(t, ok)
	copy(h.frames.Bytes(pa), data)
	require.True(t, h.pt.Map(p.Pgdir, va, mem.PGSIZE, uintptr(pa), flags|mem.PTE_P))
	p.IncRSS()
	return pa
}

// drain allocates every frame currently free, simulating "free = 0"
// without the allocator's own reclaim hook firing (the caller is
// expected to have already mapped whatever pages it wants present).
func drain(h *harness) {
	for h.frames.FreeCount() > 0 {
		h.frames.AllocFrame(context.Background())
	}
}

func TestSimpleEvictRestore(t *testing.T) {
	h := newHarness(t, swap.DefaultConfig(), 8)
	p := &process.Proc{Pid: 1, State: process.Runnable, Pgdir: h.pt}
	h.procs.Add(p)

	data := fillPage()
	mapPresent(t, h, p, 0x1000, data, mem.PTE_U|mem.PTE_W)
	require.EqualValues(t, 1, p.RSS())

	drain(h)
	h.eng.CheckAndSwap(context.Background())

	require.EqualValues(t, 0, p.RSS())
	pte, ok := h.pt.Walk(p.Pgdir, 0x1000, false)
	require.True(t, ok)
	require.Zero(t, *pte&mem.PTE_P)
	require.Equal(t, 0, mem.SlotIndex(*pte))
	require.True(t, h.slots.IsAllocated(0))

	err := h.eng.SwapIn(context.Background(), p, 0x1000)
	require.Equal(t, swaperr.OK, err)
	require.EqualValues(t, 1, p.RSS())
	require.False(t, h.slots.IsAllocated(0))

	pte, ok = h.pt.Walk(p.Pgdir, 0x1000, false)
	require.True(t, ok)
	require.NotZero(t, *pte&mem.PTE_P)
	require.Equal(t, data, h.frames.Bytes(frame.KVA(mem.PTEAddr(*pte))))
}

func TestAdaptiveGrowth(t *testing.T) {
	h := newHarness(t, swap.DefaultConfig(), 20)
	p := &process.Proc{Pid: 1, State: process.Runnable, Pgdir: h.pt}
	h.procs.Add(p)
	for i := 0; i < 20; i++ {
		mapPresent(t, h, p, uintptr(0x1000+i*mem.PGSIZE), fillPage(), mem.PTE_U|mem.PTE_W)
	}
	require.Zero(t, h.frames.FreeCount())

	h.eng.CheckAndSwap(context.Background())
	require.Equal(t, 90, h.eng.Threshold())
	require.Equal(t, 5, h.eng.NSwap())

	h.eng.CheckAndSwap(context.Background())
	require.Equal(t, 81, h.eng.Threshold())
	require.Equal(t, 6, h.eng.NSwap())
}

func TestVictimTieBreak(t *testing.T) {
	procs := process.NewTable()
	mk := func(pid, rss int) *process.Proc {
		p := &process.Proc{Pid: pid, State: process.Runnable, Pgdir: pagetable.NewFake()}
		for i := 0; i < rss; i++ {
			p.IncRSS()
		}
		procs.Add(p)
		return p
	}
	mk(7, 3)
	victim := mk(4, 5)
	mk(9, 5)

	got, ok := procs.SelectVictim()
	require.True(t, ok)
	require.Same(t, victim, got)
}

func TestForkDuplication(t *testing.T) {
	h := newHarness(t, swap.DefaultConfig(), 8)
	parent := &process.Proc{Pid: 1, State: process.Runnable, Pgdir: h.pt}
	h.procs.Add(parent)

	data := fillPage()
	mapPresent(t, h, parent, 0x2000, data, mem.PTE_U|mem.PTE_W)
	drain(h)
	h.eng.CheckAndSwap(context.Background())

	pte, ok := h.pt.Walk(parent.Pgdir, 0x2000, false)
	require.True(t, ok)
	parentIdx := mem.SlotIndex(*pte)
	require.True(t, h.slots.IsAllocated(parentIdx))

	childIdx, err := h.eng.DupSlot(context.Background(), parentIdx)
	require.Equal(t, swaperr.OK, err)
	require.NotEqual(t, parentIdx, childIdx)
	require.True(t, h.slots.IsAllocated(parentIdx))
	require.True(t, h.slots.IsAllocated(childIdx))

	got := make([]byte, blockdev.SlotBlocks*blockdev.BlockSize)
	require.NoError(t, blockdev.ReadPage(context.Background(), h.disk, blockdev.SlotBase(childIdx), got))
	require.Equal(t, data, got)
}

func TestExitCleanup(t *testing.T) {
	h := newHarness(t, swap.DefaultConfig(), 8)
	p := &process.Proc{Pid: 1, State: process.Runnable, Pgdir: h.pt}
	h.procs.Add(p)

	var idxs []int
	for i := 0; i < 3; i++ {
		idx, err := h.slots.Allocate()
		require.Equal(t, swaperr.OK, err)
		idxs = append(idxs, idx)
	}
	untouched, err := h.slots.Allocate()
	require.Equal(t, swaperr.OK, err)
	h.slots.Free(untouched) // back to free, and must stay free

	for i, idx := range idxs {
		pte, ok := h.pt.Walk(p.Pgdir, uintptr((i+1)*mem.PGSIZE), true)
		require.True(t, ok)
		*pte = mem.EncodeSwapPTE(idx, mem.PTE_U|mem.PTE_W)
	}

	h.eng.SwapFreeProcess(p)

	for _, idx := range idxs {
		require.False(t, h.slots.IsAllocated(idx))
	}
	require.False(t, h.slots.IsAllocated(untouched))
}

func TestSecondChanceReset(t *testing.T) {
	h := newHarness(t, swap.DefaultConfig(), 4)
	p := &process.Proc{Pid: 1, State: process.Runnable, Pgdir: h.pt}
	h.procs.Add(p)

	// four present user pages, all with the accessed bit already set;
	// mapped out of ascending order so the lowest VA isn't also first.
	for _, va := range []uintptr{0x4000, 0x3000, 0x5000, 0x6000} {
		mapPresent(t, h, p, va, fillPage(), mem.PTE_U|mem.PTE_W|mem.PTE_A)
	}
	require.Zero(t, h.frames.FreeCount())

	// threshold=100 so this always triggers regardless of free count;
	// nswap=4 matches the page count, so the whole batch evicts in one
	// pass, in scan (ascending VA) order. The first page evicted lands
	// in slot 0, the lowest index Allocate ever hands out, so its VA
	// identifies which page findpage picked first.
	h.eng.CheckAndSwap(context.Background())

	pte, ok := h.pt.Walk(p.Pgdir, 0x3000, false)
	require.True(t, ok)
	require.Zero(t, *pte&mem.PTE_P)
	require.Equal(t, 0, mem.SlotIndex(*pte))
}

func TestConcurrentSwapInSamePage(t *testing.T) {
	h := newHarness(t, swap.DefaultConfig(), 8)
	p := &process.Proc{Pid: 1, State: process.Runnable, Pgdir: h.pt}
	h.procs.Add(p)

	mapPresent(t, h, p, 0x7000, fillPage(), mem.PTE_U|mem.PTE_W)
	drain(h)
	h.eng.CheckAndSwap(context.Background())
	require.EqualValues(t, 0, p.RSS())

	var g errgroup.Group
	for i := 0; i < 2; i++ {
		g.Go(func() error {
			if err := h.eng.SwapIn(context.Background(), p, 0x7000); err != swaperr.OK {
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	pte, ok := h.pt.Walk(p.Pgdir, 0x7000, false)
	require.True(t, ok)
	require.NotZero(t, *pte&mem.PTE_P)
	require.EqualValues(t, 1, p.RSS())
}
