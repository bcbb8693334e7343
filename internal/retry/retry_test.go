package retry

import (
	"context"
	"testing"
	"time"
)

// TestDecide_TransportFailureRetries verifies transport errors retry while
// the attempt budget lasts, even with an empty retryable status set.
func TestDecide_TransportFailureRetries(t *testing.T) {
	cfg := Config{
		MaxRetries:        2,
		InitialDelay:      10 * time.Millisecond,
		MaxDelay:          100 * time.Millisecond,
		BackoffMultiplier: 2,
		RetryableStatuses: []int{},
	}

	transportErr := context.DeadlineExceeded

	d := cfg.Decide(0, 0, transportErr)
	if !d.Retry {
		t.Fatal("expected retry for transport failure on attempt 0")
	}
	d = cfg.Decide(1, 0, transportErr)
	if !d.Retry {
		t.Fatal("expected retry for transport failure on attempt 1")
	}
	d = cfg.Decide(2, 0, transportErr)
	if d.Retry {
		t.Fatal("expected stop once attempt budget is exhausted")
	}
}

// TestDecide_RetryableStatus verifies the status list gates retries.
func TestDecide_RetryableStatus(t *testing.T) {
	cfg := Config{
		MaxRetries:        3,
		InitialDelay:      10 * time.Millisecond,
		MaxDelay:          100 * time.Millisecond,
		BackoffMultiplier: 2,
		RetryableStatuses: []int{500},
	}

	if d := cfg.Decide(0, 500, nil); !d.Retry {
		t.Error("expected retry for status 500")
	}
	if d := cfg.Decide(0, 404, nil); d.Retry {
		t.Error("expected no retry for status 404")
	}
	if d := cfg.Decide(0, 200, nil); d.Retry {
		t.Error("expected no retry for success status")
	}
}

// TestDecide_ZeroRetries verifies MaxRetries=0 means single attempt only.
func TestDecide_ZeroRetries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 0

	if d := cfg.Decide(0, 503, nil); d.Retry {
		t.Error("expected no retry with MaxRetries=0 for retryable status")
	}
	if d := cfg.Decide(0, 0, context.DeadlineExceeded); d.Retry {
		t.Error("expected no retry with MaxRetries=0 for transport failure")
	}
}

// TestNormalized_NegativeMaxRetries verifies negative budgets clamp to 0.
func TestNormalized_NegativeMaxRetries(t *testing.T) {
	cfg := Config{MaxRetries: -5}.Normalized()
	if cfg.MaxRetries != 0 {
		t.Errorf("expected MaxRetries 0, got %d", cfg.MaxRetries)
	}
	if cfg.InitialDelay <= 0 {
		t.Error("expected InitialDelay filled from defaults")
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		t.Error("expected MaxDelay >= InitialDelay after normalization")
	}
}

// TestBackoff_Growth verifies exponential growth of the computed delay.
func TestBackoff_Growth(t *testing.T) {
	cfg := Config{
		InitialDelay:      1 * time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2,
	}

	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	for k, w := range want {
		if got := cfg.Backoff(k); got != w {
			t.Errorf("attempt %d: expected %v, got %v", k, w, got)
		}
	}
}

// TestBackoff_Cap verifies the delay is capped even with an extreme
// multiplier that would otherwise overflow.
func TestBackoff_Cap(t *testing.T) {
	cfg := Config{
		InitialDelay:      1000 * time.Millisecond,
		MaxDelay:          100 * time.Millisecond,
		BackoffMultiplier: 1000,
	}

	for k := 0; k < 50; k++ {
		if got := cfg.Backoff(k); got != 100*time.Millisecond {
			t.Fatalf("attempt %d: expected capped delay 100ms, got %v", k, got)
		}
	}
}

// TestWait_CancelledContext verifies a backoff wait aborts promptly when
// the context is cancelled.
func TestWait_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := Wait(ctx, 5*time.Second)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected context error, got nil")
	}
	if elapsed > 1*time.Second {
		t.Errorf("expected prompt abort, waited %v", elapsed)
	}
}

// TestWait_Elapses verifies Wait returns nil after the delay passes.
func TestWait_Elapses(t *testing.T) {
	if err := Wait(context.Background(), 5*time.Millisecond); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}
