package thts

import (
	"sync"
	"weak"
)

// dnodeKey identifies a decision node for transposition: decision depth is
// part of the key so a finite-horizon MDP never merges timesteps, and
// state-based cycles are broken across depths.
type dnodeKey[S comparable] struct {
	state S
	depth int
}

// transpositionTable shares decision nodes across edges. It holds weak
// pointers only, so it never extends a node's lifetime: a node lives as long
// as its longest-lived edge, and garbage entries are dropped on lookup.
type transpositionTable[S, A comparable] struct {
	mu      sync.Mutex
	entries map[dnodeKey[S]]weak.Pointer[DNode[S, A]]
}

func newTranspositionTable[S, A comparable]() *transpositionTable[S, A] {
	return &transpositionTable[S, A]{
		entries: make(map[dnodeKey[S]]weak.Pointer[DNode[S, A]]),
	}
}

// lookup returns the live node for key, if any.
func (t *transpositionTable[S, A]) lookup(key dnodeKey[S]) *DNode[S, A] {
	t.mu.Lock()
	defer t.mu.Unlock()
	ptr, ok := t.entries[key]
	if !ok {
		return nil
	}
	d := ptr.Value()
	if d == nil {
		delete(t.entries, key)
	}
	return d
}

// insert registers d under key, replacing any dead entry.
func (t *transpositionTable[S, A]) insert(key dnodeKey[S], d *DNode[S, A]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[key] = weak.Make(d)
}
