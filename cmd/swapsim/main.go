// Command swapsim is a small demonstration driver for the swap engine:
// it wires up a disk-backed slot region, a frame allocator seeded from
// the host's actual available memory, and a fake page table for one
// simulated process, then walks through a boot, an eviction triggered by
// running the frame allocator dry, and a page-in restore, printing the
// engine's diagnostics along the way.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	gopsmem "github.com/shirou/gopsutil/v4/mem"

	"swapvm/blockdev"
	"swapvm/diag"
	"swapvm/frame"
	"swapvm/pagetable"
	"swapvm/process"
	"swapvm/slot"
	"swapvm/swap"
)

func main() {
	diskPath := flag.String("disk", "swapsim.img", "path to the backing swap disk image")
	maxFrames := flag.Int("frames", 64, "ceiling on simulated physical frames (scaled down from host memory)")
	flag.Parse()

	if err := run(*diskPath, *maxFrames); err != nil {
		fmt.Fprintln(os.Stderr, "swapsim:", err)
		os.Exit(1)
	}
}

func run(diskPath string, maxFrames int) error {
	ctx := context.Background()
	log := diag.New()
	defer log.Sync()

	nframes := seedFrameCount(maxFrames)

	disk, err := blockdev.Open(diskPath, 16)
	if err != nil {
		return fmt.Errorf("open disk: %w", err)
	}
	defer disk.Close()

	frames := frame.NewFreeListAllocator(nframes)
	slots := slot.NewTable()
	procs := process.NewTable()
	pt := pagetable.NewFake()

	eng := swap.New(swap.DefaultConfig(), slots, frames, procs, pt, pt, disk, log)
	eng.Init()

	p := &process.Proc{Pid: 1, State: process.Runnable, Pgdir: pt}
	procs.Add(p)

	const va = 0x1000
	pa, ok := frames.AllocFrame(ctx)
	if !ok {
		return fmt.Errorf("no frames available to demonstrate with")
	}
	copy(frames.Bytes(pa), []byte("swapsim demonstration page contents"))
	if !pt.Map(p.Pgdir, va, 4096, uintptr(pa), 0x7) {
		return fmt.Errorf("initial mapping failed")
	}
	p.IncRSS()

	fmt.Printf("mapped va=0x%x, rss=%d, free frames=%d\n", va, p.RSS(), frames.FreeCount())

	for frames.FreeCount() > 0 {
		if _, ok := frames.AllocFrame(ctx); !ok {
			break
		}
	}
	eng.CheckAndSwap(ctx)
	fmt.Printf("after check_and_swap: rss=%d, free frames=%d\n", p.RSS(), frames.FreeCount())

	if err := eng.SwapIn(ctx, p, va); err.OK() {
		fmt.Printf("page faulted back in: rss=%d\n", p.RSS())
	} else {
		return fmt.Errorf("swap_in: %w", err)
	}

	return nil
}

// seedFrameCount scales the host's currently available memory down to a
// small simulated frame count, so the demo's starting watermark reflects
// something real rather than an arbitrary constant.
func seedFrameCount(ceiling int) int {
	vm, err := gopsmem.VirtualMemory()
	if err != nil || vm.Available == 0 {
		return ceiling
	}
	const assumedPageSize = 4096
	pages := int(vm.Available / assumedPageSize / 1_000_000) // scale way down
	if pages < 8 {
		pages = 8
	}
	if pages > ceiling {
		pages = ceiling
	}
	return pages
}
