package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDelayGrowsAndCaps(t *testing.T) {
	p := Policy{Base: 10 * time.Millisecond, Cap: 50 * time.Millisecond, Jitter: 0}

	if got := p.Delay(0); got != 10*time.Millisecond {
		t.Fatalf("attempt 0: expect 10ms, got %v", got)
	}
	if got := p.Delay(1); got != 20*time.Millisecond {
		t.Fatalf("attempt 1: expect 20ms, got %v", got)
	}
	if got := p.Delay(2); got != 40*time.Millisecond {
		t.Fatalf("attempt 2: expect 40ms, got %v", got)
	}
	if got := p.Delay(10); got != 50*time.Millisecond {
		t.Fatalf("attempt 10: expect capped at 50ms, got %v", got)
	}
}

func TestDelayAddsBoundedJitter(t *testing.T) {
	p := Policy{Base: 10 * time.Millisecond, Cap: 50 * time.Millisecond, Jitter: 5 * time.Millisecond}
	for i := 0; i < 20; i++ {
		d := p.Delay(0)
		if d < 10*time.Millisecond || d > 15*time.Millisecond {
			t.Fatalf("delay %v out of [10ms,15ms] jitter range", d)
		}
	}
}

func TestRetrySucceedsEventually(t *testing.T) {
	p := Policy{Base: time.Millisecond, Cap: 5 * time.Millisecond, Jitter: 0}
	attempts := 0
	err := Retry(context.Background(), p, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if attempts != 3 {
		t.Fatalf("expect 3 attempts, got %d", attempts)
	}
}

func TestRetryStopsOnCancellation(t *testing.T) {
	p := Policy{Base: 50 * time.Millisecond, Cap: time.Second, Jitter: 0}
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Retry(ctx, p, func() error { return errors.New("always fails") })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expect context.Canceled, got %v", err)
	}
}
