package clock

import (
	"testing"
	"time"
)

func TestFakeAdvanceFiresTicker(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fc := NewFake(start)
	ticker := fc.NewTicker(100 * time.Millisecond)

	fc.Advance(50 * time.Millisecond)
	select {
	case <-ticker.C():
		t.Fatal("ticker fired before its period elapsed")
	default:
	}

	fc.Advance(60 * time.Millisecond)
	select {
	case <-ticker.C():
	default:
		t.Fatal("expected ticker to fire after its period elapsed")
	}
}

func TestFakeAdvanceCoalescesMissedTicksIntoOneBufferedFire(t *testing.T) {
	// The ticker channel has capacity 1, same as time.Ticker's real
	// behavior: a caller that falls behind sees one pending tick, not a
	// backlog, no matter how many periods elapsed during Advance.
	fc := NewFake(time.Now())
	ticker := fc.NewTicker(10 * time.Millisecond)

	fc.Advance(35 * time.Millisecond)

	select {
	case <-ticker.C():
	default:
		t.Fatal("expected at least one buffered fire")
	}
	select {
	case <-ticker.C():
		t.Fatal("expected only one buffered fire, channel capacity is 1")
	default:
	}
}

func TestFakeTickerStopSuppressesFiring(t *testing.T) {
	fc := NewFake(time.Now())
	ticker := fc.NewTicker(10 * time.Millisecond)
	ticker.Stop()

	fc.Advance(100 * time.Millisecond)

	select {
	case <-ticker.C():
		t.Fatal("expected no fire after Stop")
	default:
	}
}
