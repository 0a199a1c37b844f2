package nameserver

import "testing"

func TestConnLimiterRejectsOverCapacity(t *testing.T) {
	l := NewConnLimiter(1)
	if !l.TryAcquire() {
		t.Fatal("expected first acquire to succeed")
	}
	if l.TryAcquire() {
		t.Fatal("expected second acquire to fail at capacity")
	}
	l.Release()
	if !l.TryAcquire() {
		t.Fatal("expected acquire to succeed after release")
	}
}

func TestConnLimiterDefaultsWhenZero(t *testing.T) {
	l := NewConnLimiter(0)
	if cap(l.sem) != defaultConnConcurrency {
		t.Errorf("expected default capacity %d, got %d", defaultConnConcurrency, cap(l.sem))
	}
}
