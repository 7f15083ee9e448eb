package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agentworkforce/calsync/internal/caldav"
)

func quickRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestDoRetriesTransientErrors(t *testing.T) {
	calls := 0
	err := quickRetry().Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return &caldav.ProtocolError{StatusCode: 503, Message: "busy"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	permanent := &caldav.ProtocolError{StatusCode: 400, Message: "bad request"}
	err := quickRetry().Do(context.Background(), func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) && err != permanent {
		t.Fatalf("expected permanent error returned, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected single attempt for permanent error, got %d", calls)
	}
}

func TestDoExhaustsAttemptBudget(t *testing.T) {
	calls := 0
	err := quickRetry().Do(context.Background(), func() error {
		calls++
		return &caldav.ProtocolError{StatusCode: 502, Message: "bad gateway"}
	})
	if err == nil {
		t.Fatalf("expected failure after exhausting attempts")
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if !IsTransient(err) {
		t.Fatalf("expected final error to stay classifiable as transient")
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Minute, MaxDelay: time.Minute}
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := policy.Do(ctx, func() error {
		calls++
		return &caldav.ProtocolError{StatusCode: 503, Message: "busy"}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected no further attempts after cancellation, got %d", calls)
	}
}

func TestDelayDoublesAndCaps(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second}
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		1600 * time.Millisecond,
	}
	for i, expected := range want {
		if got := policy.delay(i + 1); got != expected {
			t.Fatalf("delay(%d) = %s, want %s", i+1, got, expected)
		}
	}
	if got := policy.delay(7); got != 2*time.Second {
		t.Fatalf("expected cap at 2s, got %s", got)
	}
}
