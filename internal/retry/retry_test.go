package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errFlaky = errors.New("upstream hiccup")

// TestDo_SucceedsFirstTry verifies no backoff happens on immediate success.
func TestDo_SucceedsFirstTry(t *testing.T) {
	res, err := Do(context.Background(), Config{}, nil, func(context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if res.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", res.Attempts)
	}
	if res.TotalWait != 0 {
		t.Errorf("waited %v on a first-try success", res.TotalWait)
	}
}

// TestDo_RecoverAfterFailures verifies the loop keeps trying up to the budget
// and reports the attempt count.
func TestDo_RecoverAfterFailures(t *testing.T) {
	cfg := Config{MaxAttempts: 4, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	calls := 0
	res, err := Do(context.Background(), cfg, nil, func(context.Context) error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if res.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", res.Attempts)
	}
}

// TestDo_BudgetExhausted verifies the final error wraps the last failure.
func TestDo_BudgetExhausted(t *testing.T) {
	cfg := Config{MaxAttempts: 3, BaseDelay: time.Millisecond}
	calls := 0
	res, err := Do(context.Background(), cfg, nil, func(context.Context) error {
		calls++
		return errFlaky
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if !errors.Is(err, errFlaky) {
		t.Errorf("err = %v, want wrapped errFlaky", err)
	}
	if calls != 3 || res.Attempts != 3 {
		t.Errorf("calls = %d, attempts = %d, want 3", calls, res.Attempts)
	}
}

// TestDo_NonRetryable verifies a non-retryable error stops the loop at once.
func TestDo_NonRetryable(t *testing.T) {
	fatal := errors.New("bad request")
	calls := 0
	_, err := Do(context.Background(), Config{MaxAttempts: 5, BaseDelay: time.Millisecond},
		func(err error) bool { return !errors.Is(err, fatal) },
		func(context.Context) error {
			calls++
			return fatal
		})
	if !errors.Is(err, fatal) {
		t.Errorf("err = %v, want fatal", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

// TestDo_ContextCancel verifies cancellation wins over further attempts.
func TestDo_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Do(ctx, Config{MaxAttempts: 10, BaseDelay: 50 * time.Millisecond}, nil,
		func(context.Context) error {
			calls++
			cancel()
			return errFlaky
		})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

// TestJittered_Bounds verifies jitter stays within half a spread of the base.
func TestJittered_Bounds(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 50; i++ {
		got := jittered(base, 0.2)
		lo := 90 * time.Millisecond
		hi := 110 * time.Millisecond
		if got < lo || got > hi {
			t.Fatalf("jittered = %v, want within [%v, %v]", got, lo, hi)
		}
	}
	if jittered(base, 0) != base {
		t.Error("zero jitter must return the base delay")
	}
}
