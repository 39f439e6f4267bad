package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLimiter_NoBlockWhenZeroRPS(t *testing.T) {
	limiter := NewLimiter(0, 0.5)

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := limiter.Wait(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if time.Since(start) > 10*time.Millisecond {
		t.Errorf("limiter with 0 RPS should not block")
	}
}

func TestLimiter_FirstReleaseImmediate(t *testing.T) {
	limiter := NewLimiter(1, 0)
	defer limiter.Stop()

	start := time.Now()
	if err := limiter.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) > 20*time.Millisecond {
		t.Errorf("first wait should not block, took %v", time.Since(start))
	}
}

func TestLimiter_Wait(t *testing.T) {
	limiter := NewLimiter(10, 0) // 100ms interval
	defer limiter.Stop()
	ctx := context.Background()

	_ = limiter.Wait(ctx)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	duration := time.Since(start)
	if duration < 80*time.Millisecond || duration > 150*time.Millisecond {
		t.Errorf("expected wait around 100ms, took %v", duration)
	}
}

func TestLimiter_ContextCancellation(t *testing.T) {
	limiter := NewLimiter(1, 0) // 1 second interval
	defer limiter.Stop()

	_ = limiter.Wait(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := limiter.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestLimiter_Jitter(t *testing.T) {
	tests := []struct {
		name string
		r    float64
		want time.Duration
	}{
		{"late", 1, 150 * time.Millisecond},
		{"early", 0, 50 * time.Millisecond},
		{"centered", 0.5, 100 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := NewLimiter(10, 0.5)
			limiter.rand = func() float64 { return tt.r }
			if got := limiter.spread(); got != tt.want {
				t.Errorf("expected spread %v, got %v", tt.want, got)
			}
		})
	}
}

func TestLimiter_ConcurrentCallersAreSpaced(t *testing.T) {
	limiter := NewLimiter(20, 0) // 50ms interval
	defer limiter.Stop()

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = limiter.Wait(context.Background())
		}()
	}
	wg.Wait()

	// Slots at 0, 50 and 100ms.
	if d := time.Since(start); d < 90*time.Millisecond {
		t.Errorf("expected three callers to take about 100ms, took %v", d)
	}
}

func TestLimiter_Stop(t *testing.T) {
	limiter := NewLimiter(1, 0)
	_ = limiter.Wait(context.Background())

	errc := make(chan error, 1)
	go func() { errc <- limiter.Wait(context.Background()) }()
	time.Sleep(10 * time.Millisecond)
	limiter.Stop()
	limiter.Stop()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrStopped) {
			t.Errorf("expected ErrStopped, got %v", err)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("stop did not release the waiter")
	}
	if err := limiter.Wait(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped after stop, got %v", err)
	}
}

func TestNewEvery(t *testing.T) {
	limiter := NewEvery(50*time.Millisecond, 2)
	defer limiter.Stop()

	if limiter.Interval() != 50*time.Millisecond {
		t.Errorf("expected 50ms interval, got %v", limiter.Interval())
	}
	if limiter.jitter != 1 {
		t.Errorf("expected jitter clamped to 1, got %v", limiter.jitter)
	}

	limiter = NewEvery(50*time.Millisecond, 0)
	defer limiter.Stop()
	start := time.Now()
	if err := limiter.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) < 40*time.Millisecond {
		t.Errorf("expected first wait to last about one interval, took %v", time.Since(start))
	}
}

func TestNewEvery_ZeroIntervalDoesNotBlock(t *testing.T) {
	limiter := NewEvery(0, 0)
	defer limiter.Stop()

	if limiter.Interval() != 0 {
		t.Errorf("expected zero interval, got %v", limiter.Interval())
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := limiter.Wait(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
