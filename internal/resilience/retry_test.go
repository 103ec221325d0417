package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient")

func fastConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		BaseDelay:     time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2,
	}
}

func TestRetry_SucceedsFirstTry(t *testing.T) {
	calls := 0
	got, err := Retry(context.Background(), fastConfig(), func(context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if got != "ok" || calls != 1 {
		t.Errorf("got %q after %d calls, want ok after 1", got, calls)
	}
}

func TestRetry_RecoversAfterFailures(t *testing.T) {
	calls := 0
	got, err := Retry(context.Background(), fastConfig(), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errTransient
		}
		return "recovered", nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if got != "recovered" || calls != 3 {
		t.Errorf("got %q after %d calls, want recovered after 3", got, calls)
	}
}

func TestRetry_ExhaustsBudget(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastConfig(), func(context.Context) (string, error) {
		calls++
		return "", errTransient
	})
	if !errors.Is(err, errTransient) {
		t.Fatalf("err = %v, want final transient error", err)
	}
	// Initial call + MaxRetries.
	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
}

func TestRetry_PredicateStopsEarly(t *testing.T) {
	permanent := errors.New("permanent")
	cfg := fastConfig()
	cfg.ShouldRetry = func(err error) bool { return errors.Is(err, errTransient) }

	calls := 0
	_, err := Retry(context.Background(), cfg, func(context.Context) (string, error) {
		calls++
		return "", permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("err = %v, want permanent", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry for non-retryable error)", calls)
	}
}

func TestRetry_ContextCancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastConfig()
	cfg.BaseDelay = time.Minute
	cfg.MaxDelay = time.Minute

	calls := 0
	done := make(chan error, 1)
	go func() {
		_, err := Retry(ctx, cfg, func(context.Context) (string, error) {
			calls++
			return "", errTransient
		})
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Retry did not return after cancellation")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (cancelled during first backoff)", calls)
	}
}

func TestRetry_OnRetryReportsAttempts(t *testing.T) {
	var attempts []int
	cfg := fastConfig()
	cfg.OnRetry = func(attempt int, err error) { attempts = append(attempts, attempt) }

	calls := 0
	_, _ = Retry(context.Background(), cfg, func(context.Context) (string, error) {
		calls++
		return "", errTransient
	})
	want := []int{1, 2, 3}
	if len(attempts) != len(want) {
		t.Fatalf("attempts = %v, want %v", attempts, want)
	}
	for i := range want {
		if attempts[i] != want[i] {
			t.Errorf("attempts[%d] = %d, want %d", i, attempts[i], want[i])
		}
	}
}

func TestDelay_ExponentialGrowthWithCap(t *testing.T) {
	cfg := RetryConfig{
		BaseDelay:     time.Second,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2,
	}.withDefaults()

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second}, // capped
		{10, 10 * time.Second},
	}
	for _, tc := range cases {
		if got := cfg.delay(tc.attempt); got != tc.want {
			t.Errorf("delay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestDelay_JitterStaysWithinBand(t *testing.T) {
	defer func(orig func() float64) { randFloat = orig }(randFloat)

	cfg := RetryConfig{
		BaseDelay:     time.Second,
		MaxDelay:      time.Minute,
		BackoffFactor: 2,
		Jitter:        true,
		JitterFactor:  0.25,
	}.withDefaults()

	// rand=0 gives the lower band edge, rand→1 the upper.
	randFloat = func() float64 { return 0 }
	if got := cfg.delay(0); got != 750*time.Millisecond {
		t.Errorf("delay at lower jitter edge = %v, want 750ms", got)
	}
	randFloat = func() float64 { return 1 }
	if got := cfg.delay(0); got != 1250*time.Millisecond {
		t.Errorf("delay at upper jitter edge = %v, want 1250ms", got)
	}
}
