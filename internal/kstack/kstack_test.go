package kstack

import (
	"testing"
	"unsafe"
)

func TestAlignmentAndMagics(t *testing.T) {
	var owner int
	s := New(unsafe.Pointer(&owner))

	if s.Bottom()%StackSize != 0 {
		t.Fatalf("stack base %#x is not aligned to %#x", s.Bottom(), StackSize)
	}
	if !s.Valid() {
		t.Fatalf("freshly allocated stack failed magic validation")
	}
	if s.Owner() != unsafe.Pointer(&owner) {
		t.Fatalf("owner back-reference did not round-trip")
	}
}

func TestCheckRSPRange(t *testing.T) {
	var owner int
	s := New(unsafe.Pointer(&owner))

	if err := s.CheckRSP(s.GuardEnd() + 8); err != nil {
		t.Fatalf("rsp just past the guard band should be legal: %v", err)
	}
	if err := s.CheckRSP(s.Top()); err == nil {
		t.Fatalf("rsp at top should be out of range (exclusive)")
	}
	if err := s.CheckRSP(s.GuardEnd()); err == nil {
		t.Fatalf("rsp at guard-band end should be illegal (guard band itself)")
	}
	if err := s.CheckRSP(s.Bottom()); err == nil {
		t.Fatalf("rsp inside the guard band should be illegal")
	}
}

func TestFromRSPRecoversOwner(t *testing.T) {
	var owner int
	s := New(unsafe.Pointer(&owner))
	rsp := s.GuardEnd() + 64

	base, got, err := FromRSP(rsp)
	if err != nil {
		t.Fatalf("FromRSP failed on a legal rsp: %v", err)
	}
	if base != s.Bottom() {
		t.Fatalf("recovered base %#x != stack bottom %#x", base, s.Bottom())
	}
	if got != unsafe.Pointer(&owner) {
		t.Fatalf("recovered owner did not match")
	}
}

func TestFromRSPRejectsCorruptMagic(t *testing.T) {
	var owner int
	s := New(unsafe.Pointer(&owner))
	// Corrupt magic2 in place, simulating an overrun past the top of
	// the usable area, and confirm recovery via a *valid* rsp inside
	// this same (real, mapped) region now fails cleanly instead of
	// trusting corrupted state.
	s.putUint64(offMagic2, 0xbad)

	rsp := s.GuardEnd() + 64
	if _, _, err := FromRSP(rsp); err == nil {
		t.Fatalf("FromRSP should reject a stack with a corrupted magic2")
	}
}
