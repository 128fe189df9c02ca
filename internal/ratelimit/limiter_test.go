package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestAcquire_BoundsRate(t *testing.T) {
	// 20 calls per 100ms. 10 concurrent callers making 40 calls total
	// must take at least the time the ceiling dictates, and every call
	// must complete.
	l := New(20, 0, 100*time.Millisecond)

	const callers = 10
	const callsPerCaller = 4
	start := time.Now()

	var wg sync.WaitGroup
	errs := make(chan error, callers*callsPerCaller)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < callsPerCaller; j++ {
				errs <- l.Acquire(context.Background(), OpRead)
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
	}

	// 40 calls at 200/s: the 39 after the first need >= 195ms.
	elapsed := time.Since(start)
	if min := 190 * time.Millisecond; elapsed < min {
		t.Errorf("40 calls completed in %v, want >= %v", elapsed, min)
	}
}

func TestAcquire_SeparateWriteBucket(t *testing.T) {
	// Writes are heavily limited, reads are not; a read after a write
	// must not be starved by the write bucket.
	l := New(1000, 2, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := l.Acquire(ctx, OpWrite); err != nil {
		t.Fatalf("write acquire: %v", err)
	}
	start := time.Now()
	if err := l.Acquire(ctx, OpRead); err != nil {
		t.Fatalf("read acquire: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("read blocked %v behind write bucket", elapsed)
	}
}

func TestAcquire_ContextCancel(t *testing.T) {
	l := New(1, 0, time.Hour)
	// Drain the only permit.
	if err := l.Acquire(context.Background(), OpRead); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx, OpRead); err == nil {
		t.Error("expected context error while waiting for permit")
	}
}

func TestNew_ZeroCeilingUnlimited(t *testing.T) {
	l := New(0, 0, time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 100; i++ {
		if err := l.Acquire(ctx, OpWrite); err != nil {
			t.Fatalf("Acquire: %v", err)
		}
	}
}
