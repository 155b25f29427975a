package infra

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOrderedKeyCompare(t *testing.T) {
	testcases := []struct {
		name     string
		i, j     float64
		expected int64
	}{
		{"eq", 1.5, 1.5, 0},
		{"lt", -1, 2, -1},
		{"gt", 3, 2, 1},
		{"neg zero", math.Copysign(0, -1), 0, 0},
		{"inf", math.Inf(1), math.MaxFloat64, 1},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(tt *testing.T) {
			require.Equal(tt, tc.expected, OrderedKeyCompare(tc.i, tc.j))
		})
	}
	require.Equal(t, int64(-1), OrderedKeyCompare("abc", "abd"))
	require.Equal(t, int64(1), OrderedKeyCompare[uint8](255, 0))
}

func TestIsIncomparableKey(t *testing.T) {
	require.True(t, IsIncomparableKey(math.NaN()))
	require.True(t, IsIncomparableKey(float32(math.NaN())))
	require.False(t, IsIncomparableKey(math.Inf(-1)))
	require.False(t, IsIncomparableKey(0))
	require.False(t, IsIncomparableKey(""))
}
