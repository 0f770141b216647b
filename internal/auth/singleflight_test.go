package auth

import "testing"

func TestConfirmGuardRejectsSecondConcurrentAcquire(t *testing.T) {
	g := NewConfirmGuard()

	release, ok := g.Acquire("SN-001")
	if !ok {
		t.Fatal("first acquire should succeed")
	}
	if _, ok := g.Acquire("SN-001"); ok {
		t.Fatal("second concurrent acquire for the same device must be rejected")
	}

	release()

	if _, ok := g.Acquire("SN-001"); !ok {
		t.Fatal("acquire should succeed again after release")
	}
}

func TestConfirmGuardDistinctDevicesIndependent(t *testing.T) {
	g := NewConfirmGuard()

	if _, ok := g.Acquire("SN-001"); !ok {
		t.Fatal("expected acquire to succeed for SN-001")
	}
	if _, ok := g.Acquire("SN-002"); !ok {
		t.Fatal("expected acquire to succeed for an unrelated device")
	}
}
