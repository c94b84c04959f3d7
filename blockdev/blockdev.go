// Package blockdev implements the block device interface the swap
// engine consumes: acquire a buffer for a block, write it, release it.
// Every operation may sleep, so FileDevice (the real implementation,
// backed by a regular file standing in for an actual disk) issues
// pread/pwrite (golang.org/x/sys/unix) against a file descriptor rather
// than Seek+Read/Write, so concurrent callers never need to serialize on
// a shared file offset.
package blockdev

import (
	"context"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sys/unix"
)

// BlockSize is B, the size in bytes of one disk block.
const BlockSize = 512

// SlotBlocks is the number of contiguous blocks one swap slot occupies;
// with BlockSize=512 this yields the conventional 4096-byte page.
const SlotBlocks = 8

// Reserved is the number of blocks reserved for boot + superblock before
// the swap region begins.
const Reserved = 2

// SlotBase returns the first block number of swap slot idx's region.
func SlotBase(idx int) int {
	return Reserved + idx*SlotBlocks
}

// Buffer is a handle to one block's worth of data: the interface only
// exposes what a caller copying a page in or out of the slot region
// needs.
type Buffer interface {
	// Data returns the BlockSize-byte backing region. Changes to it reach
	// the device only when the buffer is passed to Write.
	Data() []byte
	Block() int
}

// Device is the block device interface consumed by the swap engine.
// Acquire, Write, and Release may all sleep, which is why every method
// takes a context for cancellation.
type Device interface {
	Acquire(ctx context.Context, blockno int) (Buffer, error)
	Write(ctx context.Context, buf Buffer) error
	Release(buf Buffer)
}

// ReadPage reads the SlotBlocks blocks starting at slotBase into dst,
// which must be exactly SlotBlocks*BlockSize bytes.
func ReadPage(ctx context.Context, dev Device, slotBase int, dst []byte) error {
	if len(dst) != SlotBlocks*BlockSize {
		panic("blockdev: ReadPage dst has wrong size")
	}
	for k := 0; k < SlotBlocks; k++ {
		buf, err := dev.Acquire(ctx, slotBase+k)
		if err != nil {
			return err
		}
		copy(dst[k*BlockSize:(k+1)*BlockSize], buf.Data())
		dev.Release(buf)
	}
	return nil
}

// WritePage writes src (exactly SlotBlocks*BlockSize bytes) to the
// SlotBlocks blocks starting at slotBase, acquiring, writing, and
// releasing each block buffer in turn.
func WritePage(ctx context.Context, dev Device, slotBase int, src []byte) error {
	if len(src) != SlotBlocks*BlockSize {
		panic("blockdev: WritePage src has wrong size")
	}
	for k := 0; k < SlotBlocks; k++ {
		buf, err := dev.Acquire(ctx, slotBase+k)
		if err != nil {
			return err
		}
		copy(buf.Data(), src[k*BlockSize:(k+1)*BlockSize])
		if err := dev.Write(ctx, buf); err != nil {
			dev.Release(buf)
			return err
		}
		dev.Release(buf)
	}
	return nil
}

// CopyPage copies one slot's contents to another directly through the
// device. Callers duplicating a slot on fork should issue this after
// releasing the slot table lock, since it is pure disk I/O.
func CopyPage(ctx context.Context, dev Device, srcBase, dstBase int) error {
	buf := make([]byte, SlotBlocks*BlockSize)
	if err := ReadPage(ctx, dev, srcBase, buf); err != nil {
		return err
	}
	return WritePage(ctx, dev, dstBase, buf)
}

type fileBuffer struct {
	blockno int
	data    []byte
}

func (b *fileBuffer) Data() []byte { return b.data }
func (b *fileBuffer) Block() int   { return b.blockno }

// FileDevice is a block device backed by a regular file, the concrete
// Device this module ships since there is no real AHCI controller for
// the demo binary or tests to defer to.
type FileDevice struct {
	f   *os.File
	fd  int
	sem *semaphore.Weighted
}

// Open opens (creating if necessary) the file at path as a FileDevice
// with maxInFlight concurrent acquire/write operations permitted, the
// same bound a real AHCI command queue would impose.
func Open(path string, maxInFlight int64) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("blockdev: open %s: %w", path, err)
	}
	return &FileDevice{f: f, fd: int(f.Fd()), sem: semaphore.NewWeighted(maxInFlight)}, nil
}

// Close releases the underlying file.
func (d *FileDevice) Close() error { return d.f.Close() }

// Acquire implements Device: it reads the block's current contents. The
// slot region has no clean-vs-dirty cache distinction worth modeling
// here — every acquire round-trips to disk.
func (d *FileDevice) Acquire(ctx context.Context, blockno int) (Buffer, error) {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer d.sem.Release(1)

	buf := &fileBuffer{blockno: blockno, data: make([]byte, BlockSize)}
	n, err := unix.Pread(d.fd, buf.data, int64(blockno)*BlockSize)
	if err != nil {
		return nil, fmt.Errorf("blockdev: pread block %d: %w", blockno, err)
	}
	if n != BlockSize && n != 0 {
		// a short read into a block that was never written is
		// indistinguishable from an all-zero block; only a genuine
		// partial read of an existing block is an error.
		return nil, fmt.Errorf("blockdev: short read block %d (%d bytes)", blockno, n)
	}
	return buf, nil
}

// Write implements Device.
func (d *FileDevice) Write(ctx context.Context, buf Buffer) error {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer d.sem.Release(1)

	fb, ok := buf.(*fileBuffer)
	if !ok {
		return fmt.Errorf("blockdev: foreign buffer type %T", buf)
	}
	off := int64(fb.blockno) * BlockSize
	n, err := unix.Pwrite(d.fd, fb.data, off)
	if err != nil {
		return fmt.Errorf("blockdev: pwrite block %d: %w", fb.blockno, err)
	}
	if n != BlockSize {
		return fmt.Errorf("blockdev: short write block %d (%d bytes)", fb.blockno, n)
	}
	return unix.Fsync(d.fd)
}

// Release implements Device. FileDevice holds no cache state per buffer
// beyond its in-flight semaphore slot, already released in Acquire/Write,
// so Release is a no-op kept for interface symmetry.
func (d *FileDevice) Release(buf Buffer) {}

// MemDevice is an in-memory Device for tests that should not touch the
// filesystem. It stores the whole addressable block range as a flat byte
// slice sized for exactly the swap region the caller declares.
type MemDevice struct {
	mu   sync.Mutex
	data []byte
}

// NewMemDevice allocates a zeroed in-memory device with room for
// nblocks blocks.
func NewMemDevice(nblocks int) *MemDevice {
	return &MemDevice{data: make([]byte, nblocks*BlockSize)}
}

func (d *MemDevice) Acquire(ctx context.Context, blockno int) (Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	off := blockno * BlockSize
	if off+BlockSize > len(d.data) {
		return nil, fmt.Errorf("blockdev: block %d out of range", blockno)
	}
	buf := &fileBuffer{blockno: blockno, data: make([]byte, BlockSize)}
	copy(buf.data, d.data[off:off+BlockSize])
	return buf, nil
}

func (d *MemDevice) Write(ctx context.Context, buf Buffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	fb, ok := buf.(*fileBuffer)
	if !ok {
		return fmt.Errorf("blockdev: foreign buffer type %T", buf)
	}
	off := fb.blockno * BlockSize
	if off+BlockSize > len(d.data) {
		return fmt.Errorf("blockdev: block %d out of range", fb.blockno)
	}
	copy(d.data[off:off+BlockSize], fb.data)
	return nil
}

func (d *MemDevice) Release(buf Buffer) {}
