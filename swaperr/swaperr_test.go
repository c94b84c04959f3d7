package swaperr_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"swapvm/swaperr"
)

func TestOKIsZero(t *testing.T) {
	require.Zero(t, int(swaperr.OK))
	require.True(t, swaperr.OK.OK())
}

func TestKindsAreDistinctAndNonzero(t *testing.T) {
	kinds := []swaperr.Err_t{swaperr.NoSlot, swaperr.NoFrame, swaperr.PteMissing, swaperr.PteState, swaperr.IoFail}
	seen := map[swaperr.Err_t]bool{}
	for _, k := range kinds {
		require.False(t, k.OK())
		require.False(t, seen[k], "duplicate error code %d", int(k))
		seen[k] = true
	}
}

func TestErrorStringsAreStable(t *testing.T) {
	require.Equal(t, "no free swap slot", swaperr.NoSlot.Error())
	require.Equal(t, "ok", swaperr.OK.Error())
}
