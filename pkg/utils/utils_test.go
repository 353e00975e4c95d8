package utils

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	cfg := RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2}
	err := Retry(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetrySkipsNonRetryable(t *testing.T) {
	retryable := errors.New("retryable")
	fatal := errors.New("fatal")
	calls := 0
	cfg := RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond, BackoffFactor: 1, RetryableErrors: []error{retryable}}
	err := Retry(context.Background(), cfg, func() error {
		calls++
		return fatal
	})
	if !errors.Is(err, fatal) || calls != 1 {
		t.Errorf("err = %v, calls = %d", err, calls)
	}
}

func TestRetryHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := RetryWithResult(ctx, DefaultRetryConfig(), func() (int, error) {
		return 0, errors.New("down")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestCalculateBackoffCapped(t *testing.T) {
	if d := CalculateBackoff(10, 100*time.Millisecond, time.Second, 2); d != time.Second {
		t.Errorf("backoff = %v, want 1s", d)
	}
}

func TestFormatting(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{FormatCurrency(1234567.891), "1,234,567.89"},
		{FormatCurrency(-999.5), "-999.50"},
		{FormatPnL(12.5), "+12.50"},
		{FormatPrice(1.123456, 0.0001), "1.12346"},
		{FormatPrice(151.2346, 0.01), "151.235"},
		{FormatPips(0.0020, 0.0001), "20.0 pips"},
		{FormatUnits(458715), "458,715"},
		{FormatPercent(-1.5), "-1.50%"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}
