package heap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArena_AllocBumpsOffset(t *testing.T) {
	a := NewArena(16)

	p1, err := a.Alloc(10)
	require.NoError(t, err)
	require.Len(t, p1, 10)
	require.Equal(t, 10, a.Used())

	p2, err := a.Alloc(6)
	require.NoError(t, err)
	require.Len(t, p2, 6)
	require.Equal(t, 16, a.Used())
}

func TestArena_AllocFailsWhenExhausted(t *testing.T) {
	a := NewArena(4)
	_, err := a.Alloc(5)
	require.Error(t, err)
}

func TestArena_ResetReclaimsEverything(t *testing.T) {
	a := NewArena(8)
	_, err := a.Alloc(8)
	require.NoError(t, err)
	require.Equal(t, 8, a.Capacity())

	a.Reset()
	require.Zero(t, a.Used())

	_, err = a.Alloc(8)
	require.NoError(t, err)
}
