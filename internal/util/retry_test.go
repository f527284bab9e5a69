package util

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryEventuallySucceeds(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("temporary")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryGivesUp(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := Retry(context.Background(), 2, time.Millisecond, func() error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryStopsOnPermanent(t *testing.T) {
	calls := 0
	bad := errors.New("bad input")
	err := Retry(context.Background(), 5, time.Millisecond, func() error {
		calls++
		return Permanent(bad)
	})
	if err != bad {
		t.Fatalf("expected unwrapped permanent error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
	if Permanent(nil) != nil {
		t.Fatalf("Permanent(nil) should be nil")
	}
}

func TestRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, 3, time.Millisecond, func() error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBackoffIsCapped(t *testing.T) {
	cases := []struct {
		base    time.Duration
		attempt int
		want    time.Duration
	}{
		{time.Millisecond, 0, time.Millisecond},
		{time.Millisecond, 3, 8 * time.Millisecond},
		{500 * time.Millisecond, 6, MaxBackoff},
		{500 * time.Millisecond, 63, MaxBackoff},
		{time.Second, 200, MaxBackoff},
		{0, 10, 0},
	}
	for _, c := range cases {
		if got := backoffFor(c.base, c.attempt); got != c.want {
			t.Fatalf("backoffFor(%s, %d) = %s, want %s", c.base, c.attempt, got, c.want)
		}
	}
}
