package mlwatch

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetryer(maxAttempts int) *Retryer {
	return NewRetryer(RetryConfig{
		MaxAttempts:    maxAttempts,
		InitialBackoff: time.Microsecond,
		MaxBackoff:     time.Millisecond,
		RetryIf:        func(error) bool { return true },
	})
}

func TestRetryerRetriesUntilSuccess(t *testing.T) {
	attempts := 0
	err := fastRetryer(5).Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryerExhaustsAttempts(t *testing.T) {
	attempts := 0
	wantErr := errors.New("still broken")
	err := fastRetryer(3).Do(context.Background(), func() error {
		attempts++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("Do() error = %v, want %v", err, wantErr)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryerStopsOnNonRetryable(t *testing.T) {
	retryer := NewRetryer(RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: time.Microsecond,
	})
	attempts := 0
	err := retryer.Do(context.Background(), func() error {
		attempts++
		return errors.New("permanent")
	})
	if err == nil {
		t.Fatal("Do() error = nil, want the permanent error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 for a non-retryable error", attempts)
	}
}

func TestRetryerHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	retryer := NewRetryer(RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: time.Hour,
		RetryIf:        func(error) bool { return true },
	})
	err := retryer.Do(ctx, func() error { return errors.New("transient") })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() error = %v, want context.Canceled", err)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.Canceled, false},
		{context.DeadlineExceeded, false},
		{errors.New("plain"), false},
		{&BackendError{Op: "list", Status: 503}, true},
		{&BackendError{Op: "list", Status: 429}, true},
		{&BackendError{Op: "list", Cause: errors.New("connection refused")}, true},
		{&BackendError{Op: "list", Status: 404}, false},
		{ErrBackendUnavailable, true},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
