package mem_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"swapvm/mem"
)

func TestRounddown(t *testing.T) {
	require.Equal(t, uintptr(0x1000), mem.Rounddown(0x1000))
	require.Equal(t, uintptr(0x1000), mem.Rounddown(0x1fff))
	require.Equal(t, uintptr(0x2000), mem.Rounddown(0x2000))
}

func TestSwapPTERoundTrip(t *testing.T) {
	pte := mem.EncodeSwapPTE(42, mem.PTE_U|mem.PTE_W)
	require.Zero(t, pte&mem.PTE_P)
	require.Equal(t, 42, mem.SlotIndex(pte))
	require.Equal(t, mem.PTE_U|mem.PTE_W, pte&mem.PTE_FLAGS)
}

func TestPresentPTERoundTrip(t *testing.T) {
	pa := uintptr(7 * mem.PGSIZE)
	pte := mem.EncodePresentPTE(uint32(pa>>mem.PGSHIFT), mem.PTE_U|mem.PTE_A)
	require.NotZero(t, pte&mem.PTE_P)
	require.Equal(t, pa, mem.PTEAddr(pte))
	require.NotZero(t, pte&mem.PTE_U)
	require.NotZero(t, pte&mem.PTE_A)
	require.Zero(t, pte&mem.PTE_W)
}
