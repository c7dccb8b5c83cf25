package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestParse_Every(t *testing.T) {
	s, err := Parse("6h")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	want := now.Add(6 * time.Hour)
	if next := s.Next(now); !next.Equal(want) {
		t.Errorf("got %v, want %v", next, want)
	}
}

func TestParse_Cron(t *testing.T) {
	// "0 4 * * *" = daily at 04:00
	s, err := Parse("0 4 * * *")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	want := time.Date(2026, 1, 16, 4, 0, 0, 0, time.UTC)
	if next := s.Next(now); !next.Equal(want) {
		t.Errorf("got %v, want %v", next, want)
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, expr := range []string{"", "30s", "not a schedule", "* * *"} {
		if _, err := Parse(expr); err == nil {
			t.Errorf("Parse(%q) expected error", expr)
		}
	}
}

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		consecutiveErr int
		want           time.Duration
	}{
		{0, 30 * time.Second},
		{1, 30 * time.Second},
		{2, 1 * time.Minute},
		{3, 5 * time.Minute},
		{4, 15 * time.Minute},
		{5, 60 * time.Minute},
		{100, 60 * time.Minute}, // capped
	}
	for _, tt := range tests {
		got := backoffDelay(tt.consecutiveErr)
		if got != tt.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", tt.consecutiveErr, got, tt.want)
		}
	}
}

func TestRunner_FiresOnSchedule(t *testing.T) {
	fc := clockwork.NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := Parse("1m")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fired := make(chan struct{}, 4)
	runner := NewRunner(s, func(ctx context.Context) error {
		fired <- struct{}{}
		return nil
	}, WithClock(fc))

	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	for i := 0; i < 2; i++ {
		fc.BlockUntil(1)
		fc.Advance(time.Minute)
		select {
		case <-fired:
		case <-time.After(2 * time.Second):
			t.Fatalf("run %d did not fire", i+1)
		}
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run returned %v, want context.Canceled", err)
	}
}

func TestRunner_BackoffAfterFailure(t *testing.T) {
	fc := clockwork.NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := Parse("10m")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fired := make(chan int, 4)
	calls := 0
	runner := NewRunner(s, func(ctx context.Context) error {
		calls++
		fired <- calls
		if calls == 1 {
			return errors.New("flood storm")
		}
		return nil
	}, WithClock(fc))

	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	fc.BlockUntil(1)
	fc.Advance(10 * time.Minute)
	if n := <-fired; n != 1 {
		t.Fatalf("first fire = %d, want 1", n)
	}

	// The failed run is retried after the 30s backoff step, not after
	// the full 10m interval.
	fc.BlockUntil(1)
	fc.Advance(30 * time.Second)
	select {
	case n := <-fired:
		if n != 2 {
			t.Fatalf("second fire = %d, want 2", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not fire after backoff delay")
	}

	cancel()
	<-done
}
