package distributions

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMaxHeapAsSort(t *testing.T) {
	h := NewMaxHeap[int](10)
	perm := rand.New(rand.NewSource(1)).Perm(10)
	for _, i := range perm {
		h.PushOrUpdate(i, float64(i)+0.5)
	}

	for want := 9; want >= 0; want-- {
		require.Equal(t, want, h.PeekKey())
		require.Equal(t, float64(want)+0.5, h.PeekValue())
		h.Pop()
	}
	require.Equal(t, 0, h.Len())
}

func TestMaxHeapUpdateMovesKeys(t *testing.T) {
	h := NewMaxHeap[string]()
	h.PushOrUpdate("a", 1)
	h.PushOrUpdate("b", 2)
	h.PushOrUpdate("c", 3)
	require.Equal(t, "c", h.PeekKey())

	// Increase-key.
	h.PushOrUpdate("a", 10)
	require.Equal(t, "a", h.PeekKey())

	// Decrease-key of the top.
	h.PushOrUpdate("a", 0)
	require.Equal(t, "c", h.PeekKey())

	v, ok := h.Value("a")
	require.True(t, ok)
	require.Equal(t, 0.0, v)
	_, ok = h.Value("missing")
	require.False(t, ok)
}

func TestMaxHeapIndexConsistency(t *testing.T) {
	h := NewMaxHeap[int]()
	rng := rand.New(rand.NewSource(2))
	live := make(map[int]float64)
	for step := 0; step < 2000; step++ {
		key := rng.Intn(50)
		switch {
		case rng.Float64() < 0.7 || h.Len() == 0:
			v := rng.NormFloat64()
			h.PushOrUpdate(key, v)
			live[key] = v
		default:
			top := h.PeekKey()
			require.Equal(t, live[top], h.PeekValue())
			for k, v := range live {
				require.LessOrEqual(t, v, h.PeekValue(), "heap top smaller than live key %d", k)
			}
			h.Pop()
			delete(live, top)
		}
		require.Equal(t, len(live), h.Len())
		for i, item := range h.items {
			require.Equal(t, i, h.indices[item.key])
		}
	}
}

func TestMaxHeapFillAndHeapify(t *testing.T) {
	h := NewMaxHeap[string]()
	h.FillAndHeapify(map[string]float64{"a": 3, "b": 1, "c": 7, "d": 5})
	require.Equal(t, 4, h.Len())
	require.Equal(t, "c", h.PeekKey())
	h.Pop()
	require.Equal(t, "d", h.PeekKey())
}
