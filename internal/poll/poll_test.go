package poll

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestUntilImmediateHit(t *testing.T) {
	calls := 0
	res, err := Until(context.Background(), func(context.Context) ([]string, error) {
		calls++
		return []string{"menu"}, nil
	}, Options{Interval: time.Hour, Timeout: time.Second})
	if err != nil {
		t.Fatalf("Until: %v", err)
	}
	if len(res) != 1 || res[0] != "menu" || calls != 1 {
		t.Errorf("res=%v calls=%d", res, calls)
	}
}

func TestUntilEventuallyFound(t *testing.T) {
	calls := 0
	misses := 0
	res, err := Until(context.Background(), func(context.Context) ([]int, error) {
		calls++
		if calls < 3 {
			return nil, nil
		}
		return []int{1, 2}, nil
	}, Options{Interval: 5 * time.Millisecond, Timeout: time.Second, OnMiss: func(int, error) { misses++ }})
	if err != nil {
		t.Fatalf("Until: %v", err)
	}
	if len(res) != 2 || calls != 3 || misses != 2 {
		t.Errorf("res=%v calls=%d misses=%d", res, calls, misses)
	}
}

func TestUntilTimeout(t *testing.T) {
	queryErr := errors.New("detached")
	_, err := Until(context.Background(), func(context.Context) ([]int, error) {
		return nil, queryErr
	}, Options{Name: `[role="menuitem"]`, Interval: 5 * time.Millisecond, Timeout: 30 * time.Millisecond})

	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TimeoutError, got %v", err)
	}
	if !errors.Is(err, ErrTimeout) {
		t.Error("expected errors.Is(err, ErrTimeout)")
	}
	if !errors.Is(err, queryErr) {
		t.Error("expected the last query error to be wrapped")
	}
	if te.Query != `[role="menuitem"]` || te.Elapsed < 30*time.Millisecond {
		t.Errorf("unexpected timeout error: %+v", te)
	}
}

func TestUntilUnboundedStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := Until(ctx, func(context.Context) ([]int, error) {
		calls++
		return nil, nil
	}, Options{Interval: 2 * time.Millisecond})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls < 2 {
		t.Errorf("expected repeated attempts, got %d", calls)
	}
}
