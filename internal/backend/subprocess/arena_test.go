package subprocess

import "testing"

func TestArenaRefcount(t *testing.T) {
	a := newArena()
	a.acquire(1)
	a.acquire(1)
	a.acquire(2)

	if a.release(1) {
		t.Error("release(1) with a second reference reported last")
	}
	if !a.live(1) {
		t.Error("live(1) = false with one reference left")
	}
	if !a.release(1) {
		t.Error("release(1) of the last reference reported not last")
	}
	if a.live(1) {
		t.Error("live(1) = true after the last release")
	}
	if got := a.pending(); got != 1 {
		t.Errorf("pending = %d, want 1", got)
	}
	if a.release(3) {
		t.Error("release of an unknown id reported last")
	}

	a.release(2)
	ids := a.drain()
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Errorf("drain = %v, want [1 2]", ids)
	}
	if ids := a.drain(); ids != nil {
		t.Errorf("second drain = %v, want nil", ids)
	}
}

func TestArenaResurrection(t *testing.T) {
	a := newArena()
	a.acquire(5)
	a.release(5)
	if a.pending() != 1 {
		t.Fatalf("pending = %d, want 1", a.pending())
	}

	a.acquire(5)
	if a.pending() != 0 {
		t.Errorf("pending = %d after resurrection, want 0", a.pending())
	}
	if got := a.count(5); got != 1 {
		t.Errorf("count(5) = %d, want 1", got)
	}
	if ids := a.drain(); ids != nil {
		t.Errorf("drain = %v, want nothing to free", ids)
	}
}
