package generics

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSliceMap(t *testing.T) {
	out := SliceMap([]int{1, 2, 3}, func(x int) int { return x * x })
	require.Equal(t, []int{1, 4, 9}, out)
}

func TestKeysAndSortedKeys(t *testing.T) {
	m := map[string]int{"b": 2, "a": 1, "c": 3}
	keys := KeysSlice(m)
	slices.Sort(keys)
	require.Equal(t, []string{"a", "b", "c"}, keys)

	var sorted []string
	for k := range SortedKeys(m) {
		sorted = append(sorted, k)
	}
	require.Equal(t, []string{"a", "b", "c"}, sorted)
}

func TestSet(t *testing.T) {
	s := SetWith(1, 2, 3)
	require.True(t, s.Has(2))
	require.False(t, s.Has(4))
	s.Insert(4)
	require.True(t, s.Has(4))
	s.Delete(1)
	require.False(t, s.Has(1))
	require.True(t, s.Equal(SetWith(2, 3, 4)))
	require.False(t, s.Equal(SetWith(2, 3)))
}

func TestArgMax(t *testing.T) {
	m := map[string]float64{"a": 1, "b": 3, "c": 2}
	require.Equal(t, "b", ArgMax(m, nil))

	// Random tie-break over {x, y} must be able to return either.
	ties := map[string]float64{"x": 5, "y": 5}
	seen := map[string]bool{}
	flip := false
	for i := 0; i < 50; i++ {
		flip = !flip
		choice := ArgMax(ties, func(numTied int) bool { return flip })
		seen[choice] = true
	}
	require.Len(t, seen, 2)

	require.Panics(t, func() { ArgMax(map[string]int{}, nil) })
}
