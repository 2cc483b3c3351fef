package task

import "sync/atomic"

// State32 is an atomically-stored State, readable without locks and
// carrying only eventual-observation semantics.
type State32 struct{ v atomic.Int32 }

func (s *State32) Store(st State) { s.v.Store(int32(st)) }
func (s *State32) Load() State    { return State(s.v.Load()) }
func (s *State32) CompareAndSwap(old, new State) bool {
	return s.v.CompareAndSwap(int32(old), int32(new))
}

// Flags32 is an atomically-stored Flags bitset.
type Flags32 struct{ v atomic.Uint32 }

func (f *Flags32) Load() uint32 { return f.v.Load() }

// Or sets the given bits, retrying a CAS loop until it sticks; go1.21's
// atomic.Uint32 has no built-in Or.
func (f *Flags32) Or(bits uint32) {
	for {
		old := f.v.Load()
		if old&bits == bits {
			return
		}
		if f.v.CompareAndSwap(old, old|bits) {
			return
		}
	}
}
