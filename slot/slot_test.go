package slot_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"swapvm/slot"
	"swapvm/swaperr"
)

func TestAllocateFirstFit(t *testing.T) {
	tbl := slot.NewTable()
	i0, err := tbl.Allocate()
	require.Equal(t, swaperr.OK, err)
	require.Equal(t, 0, i0)
	i1, err := tbl.Allocate()
	require.Equal(t, swaperr.OK, err)
	require.Equal(t, 1, i1)

	tbl.Free(i0)
	i2, err := tbl.Allocate()
	require.Equal(t, swaperr.OK, err)
	require.Equal(t, 0, i2, "freed slot 0 should be reused first-fit")
}

func TestAllocateExhausted(t *testing.T) {
	tbl := slot.NewTable()
	for i := 0; i < slot.Count; i++ {
		_, err := tbl.Allocate()
		require.Equal(t, swaperr.OK, err)
	}
	_, err := tbl.Allocate()
	require.Equal(t, swaperr.NoSlot, err)
}

func TestFreeIsIdempotent(t *testing.T) {
	tbl := slot.NewTable()
	idx, _ := tbl.Allocate()
	tbl.Free(idx)
	tbl.Free(idx)
	require.False(t, tbl.IsAllocated(idx))
}

func TestFreeOutOfRangeIsNoOp(t *testing.T) {
	tbl := slot.NewTable()
	tbl.Free(-1)
	tbl.Free(slot.Count)
	tbl.Free(slot.Count + 1000)
}

func TestPermRoundTrip(t *testing.T) {
	tbl := slot.NewTable()
	idx, _ := tbl.Allocate()
	tbl.WritePerm(idx, 0x7)
	perm, ok := tbl.ReadPerm(idx)
	require.True(t, ok)
	require.EqualValues(t, 0x7, perm)

	tbl.Free(idx)
	_, ok = tbl.ReadPerm(idx)
	require.False(t, ok)
}
