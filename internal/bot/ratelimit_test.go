package bot

import (
	"testing"
	"time"
)

func TestSenderLimiter_ImmediateBurst(t *testing.T) {
	l := NewSenderLimiter(5, 60.0)
	for i := 0; i < 5; i++ {
		if !l.Allow("alice") {
			t.Fatalf("burst token %d rejected", i)
		}
	}
	if l.Allow("alice") {
		t.Fatal("expected sixth message to be rejected")
	}
}

func TestSenderLimiter_SendersAreIndependent(t *testing.T) {
	l := NewSenderLimiter(1, 1.0)
	if !l.Allow("alice") {
		t.Fatal("alice first message rejected")
	}
	if l.Allow("alice") {
		t.Fatal("alice second message should be rejected")
	}
	if !l.Allow("bob") {
		t.Fatal("bob must not be affected by alice")
	}
}

func TestSenderLimiter_Refill(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewSenderLimiter(1, 60.0) // one token per second
	l.now = func() time.Time { return now }

	if !l.Allow("alice") {
		t.Fatal("first message rejected")
	}
	if l.Allow("alice") {
		t.Fatal("second message should be rejected before refill")
	}
	now = now.Add(1100 * time.Millisecond)
	if !l.Allow("alice") {
		t.Fatal("expected a token after one second")
	}
}

func TestSenderLimiter_DefaultValues(t *testing.T) {
	l := NewSenderLimiter(0, 0)
	if l.burst != defaultRateBurst {
		t.Fatalf("expected default burst=%d, got %d", defaultRateBurst, l.burst)
	}
	if l.limit == 0 {
		t.Fatal("rate should not be zero")
	}
}

func TestSenderLimiter_SweepsIdleSenders(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewSenderLimiter(1, 60.0)
	l.now = func() time.Time { return now }

	l.Allow("idle")
	now = now.Add(limiterIdleTTL + time.Minute)
	for i := 0; i < limiterSweepEvery; i++ {
		l.Allow("busy")
	}
	if l.Len() != 1 {
		t.Fatalf("expected idle sender to be swept, tracking %d senders", l.Len())
	}
}
