package idle

import (
	"testing"
	"time"
)

func TestBackoffResetsOnWork(t *testing.T) {
	b := &Backoff{Min: time.Microsecond, Max: 8 * time.Microsecond}
	for i := 0; i < 20; i++ {
		b.Idle(0)
	}
	if b.current == 0 {
		t.Fatalf("backoff never escalated")
	}
	b.Idle(5)
	if b.current != 0 || b.yields != 0 {
		t.Fatalf("backoff did not reset: current=%v yields=%d", b.current, b.yields)
	}
}

func TestBackoffCapsAtMax(t *testing.T) {
	b := &Backoff{Min: time.Microsecond, Max: 4 * time.Microsecond}
	for i := 0; i < 40; i++ {
		b.Idle(0)
	}
	if b.current != b.Max {
		t.Fatalf("current=%v want max %v", b.current, b.Max)
	}
}

func TestSleepingOnlySleepsWhenIdle(t *testing.T) {
	s := Sleeping{Period: time.Millisecond}
	start := time.Now()
	s.Idle(1)
	if time.Since(start) >= time.Millisecond {
		t.Fatalf("slept despite work")
	}
	s.Idle(0)
	if time.Since(start) < time.Millisecond {
		t.Fatalf("did not sleep while idle")
	}
}
