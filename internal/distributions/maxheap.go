package distributions

// MaxHeap is a binary max-heap of (key, value) pairs with an index map so that
// the value of any key can be updated in O(log n) and queried in O(1).
//
// The MENTS soft backup uses it to read the current best child value without
// scanning all children.
type MaxHeap[K comparable] struct {
	items   []heapItem[K]
	indices map[K]int
}

type heapItem[K comparable] struct {
	key   K
	value float64
}

// NewMaxHeap returns an empty heap; capacity is optional.
func NewMaxHeap[K comparable](capacity ...int) *MaxHeap[K] {
	n := 0
	if len(capacity) > 0 {
		n = capacity[0]
	}
	return &MaxHeap[K]{
		items:   make([]heapItem[K], 0, n),
		indices: make(map[K]int, n),
	}
}

// Len returns the number of items in the heap.
func (h *MaxHeap[K]) Len() int {
	return len(h.items)
}

// FillAndHeapify bulk loads initial values into an empty heap in O(n).
func (h *MaxHeap[K]) FillAndHeapify(initValues map[K]float64) {
	for k, v := range initValues {
		h.indices[k] = len(h.items)
		h.items = append(h.items, heapItem[K]{key: k, value: v})
	}
	for i := len(h.items) - 1; i >= 0; i-- {
		h.siftDown(i)
	}
}

// PeekKey returns the key with maximal value.
func (h *MaxHeap[K]) PeekKey() K {
	return h.items[0].key
}

// PeekValue returns the maximal value.
func (h *MaxHeap[K]) PeekValue() float64 {
	return h.items[0].value
}

// Value returns the value stored for key, if present.
func (h *MaxHeap[K]) Value(key K) (float64, bool) {
	i, ok := h.indices[key]
	if !ok {
		return 0, false
	}
	return h.items[i].value, true
}

// Pop removes the maximal element.
func (h *MaxHeap[K]) Pop() {
	last := len(h.items) - 1
	h.swap(0, last)
	delete(h.indices, h.items[last].key)
	h.items = h.items[:last]
	if len(h.items) > 0 {
		h.siftDown(0)
	}
}

// PushOrUpdate inserts key with the given value, or updates it in place,
// restoring the heap property by sifting up or down as needed.
func (h *MaxHeap[K]) PushOrUpdate(key K, value float64) {
	if i, ok := h.indices[key]; ok {
		h.items[i].value = value
	} else {
		h.indices[key] = len(h.items)
		h.items = append(h.items, heapItem[K]{key: key, value: value})
	}

	i := h.indices[key]
	p := parent(i)
	if i > 0 && h.items[p].value < h.items[i].value {
		h.siftUp(i)
	} else {
		h.siftDown(i)
	}
}

func parent(i int) int     { return (i - 1) / 2 }
func leftChild(i int) int  { return 2*i + 1 }
func rightChild(i int) int { return 2*i + 2 }

func (h *MaxHeap[K]) swap(i, j int) {
	h.indices[h.items[i].key] = j
	h.indices[h.items[j].key] = i
	h.items[i], h.items[j] = h.items[j], h.items[i]
}

func (h *MaxHeap[K]) siftUp(i int) {
	p := parent(i)
	for i > 0 && h.items[p].value < h.items[i].value {
		h.swap(i, p)
		i = p
		p = parent(i)
	}
}

func (h *MaxHeap[K]) siftDown(i int) {
	for {
		left, right := leftChild(i), rightChild(i)
		largest := i
		if left < len(h.items) && h.items[left].value > h.items[largest].value {
			largest = left
		}
		if right < len(h.items) && h.items[right].value > h.items[largest].value {
			largest = right
		}
		if largest == i {
			return
		}
		h.swap(i, largest)
		i = largest
	}
}
