package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestDoRetriesConflictsUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("update loan: %w", ErrConflict)
		}
		return nil
	}, WithBaseDelay(time.Millisecond))
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestDoFailsFastOnPermanentError(t *testing.T) {
	permanent := errors.New("boom")
	calls := 0
	err := Do(context.Background(), func(context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

func TestDoStopsAfterMaxAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(context.Context) error {
		calls++
		return ErrConflict
	}, WithMaxAttempts(4), WithBaseDelay(0))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected last conflict error, got %v", err)
	}
	if calls != 4 {
		t.Fatalf("expected 4 attempts, got %d", calls)
	}
}

func TestDoHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return ErrConflict
	}, WithBaseDelay(time.Second))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected no attempt after cancellation, got %d", calls)
	}
}

func TestDoCustomPredicate(t *testing.T) {
	transient := errors.New("serialization failure")
	calls := 0
	err := Do(context.Background(), func(context.Context) error {
		calls++
		if calls == 1 {
			return transient
		}
		return nil
	}, WithBaseDelay(0), WithRetryIf(func(err error) bool { return errors.Is(err, transient) }))
	if err != nil || calls != 2 {
		t.Fatalf("expected retry on custom predicate, err=%v calls=%d", err, calls)
	}
}

func TestOptionValidation(t *testing.T) {
	fn := func(context.Context) error { return nil }
	if err := Do(context.Background(), fn, WithMaxAttempts(0)); !errors.Is(err, ErrInvalidMaxAttempts) {
		t.Fatalf("expected ErrInvalidMaxAttempts, got %v", err)
	}
	if err := Do(context.Background(), fn, WithBaseDelay(-time.Second)); !errors.Is(err, ErrNegativeBaseDelay) {
		t.Fatalf("expected ErrNegativeBaseDelay, got %v", err)
	}
	if err := Do(context.Background(), fn, WithJitterFactor(1.5)); !errors.Is(err, ErrInvalidJitterFactor) {
		t.Fatalf("expected ErrInvalidJitterFactor, got %v", err)
	}
}
