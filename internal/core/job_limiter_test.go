package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestJobLimiter_AcquireRelease(t *testing.T) {
	limiter := NewJobLimiter(2, time.Second)
	ctx := context.Background()

	if got := limiter.Status().Available; got != 2 {
		t.Errorf("initial Available = %d, want 2", got)
	}

	release1, err := limiter.Acquire(ctx, JobImport)
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	release2, err := limiter.Acquire(ctx, JobExport)
	if err != nil {
		t.Fatalf("second Acquire failed: %v", err)
	}
	if got := limiter.ActiveCount(); got != 2 {
		t.Errorf("ActiveCount = %d, want 2", got)
	}
	if got := limiter.Status().Available; got != 0 {
		t.Errorf("Available = %d, want 0", got)
	}

	release1()
	release2()
	if got := limiter.ActiveCount(); got != 0 {
		t.Errorf("final ActiveCount = %d, want 0", got)
	}
}

func TestJobLimiter_ReleaseIsIdempotent(t *testing.T) {
	limiter := NewJobLimiter(2, time.Second)

	release, err := limiter.Acquire(context.Background(), JobImport)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	other, _ := limiter.TryAcquire(JobImport)

	release()
	release()

	if got := limiter.ActiveCount(); got != 1 {
		t.Errorf("ActiveCount after double release = %d, want 1", got)
	}
	other()
}

func TestJobLimiter_TimesOutWhenFull(t *testing.T) {
	limiter := NewJobLimiter(1, 100*time.Millisecond)
	ctx := context.Background()

	release, err := limiter.Acquire(ctx, JobImport)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer release()

	start := time.Now()
	_, err = limiter.Acquire(ctx, JobExport)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTooManyJobs) {
		t.Errorf("expected ErrTooManyJobs, got %v", err)
	}
	if elapsed < 90*time.Millisecond {
		t.Errorf("timeout too fast: %v", elapsed)
	}
}

func TestJobLimiter_ConcurrentAccess(t *testing.T) {
	const maxConcurrent = 3
	const total = 10

	limiter := NewJobLimiter(maxConcurrent, time.Second)

	var wg sync.WaitGroup
	var mu sync.Mutex
	maxObserved := 0

	for i := 0; i < total; i++ {
		kind := JobImport
		if i%2 == 1 {
			kind = JobExport
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := limiter.Acquire(context.Background(), kind)
			if err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			defer release()

			mu.Lock()
			if n := limiter.ActiveCount(); n > maxObserved {
				maxObserved = n
			}
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
		}()
	}
	wg.Wait()

	if maxObserved > maxConcurrent {
		t.Errorf("exceeded max concurrent: observed %d, max %d", maxObserved, maxConcurrent)
	}
	if got := limiter.ActiveCount(); got != 0 {
		t.Errorf("final ActiveCount = %d, want 0", got)
	}
}

func TestJobLimiter_TryAcquire(t *testing.T) {
	limiter := NewJobLimiter(1, time.Second)

	release, ok := limiter.TryAcquire(JobImport)
	if !ok {
		t.Fatal("first TryAcquire should succeed")
	}
	if _, ok := limiter.TryAcquire(JobImport); ok {
		t.Error("second TryAcquire should fail")
	}
	release()

	release, ok = limiter.TryAcquire(JobExport)
	if !ok {
		t.Error("TryAcquire after release should succeed")
	} else {
		release()
	}
}

func TestJobLimiter_ContextCancellation(t *testing.T) {
	limiter := NewJobLimiter(1, 5*time.Second)

	release, err := limiter.Acquire(context.Background(), JobImport)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := limiter.Acquire(ctx, JobImport)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Error("Acquire did not return after context cancellation")
	}
}

func TestJobLimiter_WaitForDrain(t *testing.T) {
	limiter := NewJobLimiter(2, time.Second)
	ctx := context.Background()

	if err := limiter.WaitForDrain(ctx); err != nil {
		t.Fatalf("idle WaitForDrain returned %v", err)
	}

	release1, _ := limiter.Acquire(ctx, JobImport)
	release2, _ := limiter.Acquire(ctx, JobExport)

	drainDone := make(chan error, 1)
	go func() { drainDone <- limiter.WaitForDrain(context.Background()) }()

	release1()
	select {
	case <-drainDone:
		t.Error("WaitForDrain returned with one active")
	case <-time.After(50 * time.Millisecond):
	}

	release2()
	select {
	case err := <-drainDone:
		if err != nil {
			t.Errorf("WaitForDrain returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Error("WaitForDrain did not complete after all released")
	}
}

func TestJobLimiter_WaitForDrainCancelled(t *testing.T) {
	limiter := NewJobLimiter(1, time.Second)
	release, _ := limiter.Acquire(context.Background(), JobImport)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := limiter.WaitForDrain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

func TestJobLimiter_StatusAndDefaults(t *testing.T) {
	limiter := NewJobLimiter(0, 0)
	if got := limiter.MaxConcurrent(); got != DefaultMaxConcurrentJobs {
		t.Errorf("MaxConcurrent = %d, want %d", got, DefaultMaxConcurrentJobs)
	}

	ctx := context.Background()
	r1, _ := limiter.Acquire(ctx, JobImport)
	r2, _ := limiter.Acquire(ctx, JobImport)
	r3, _ := limiter.Acquire(ctx, JobExport)

	status := limiter.Status()
	if status.Active != 3 || status.Imports != 2 || status.Exports != 1 {
		t.Errorf("Status = %+v, want 3 active (2 imports, 1 export)", status)
	}
	if status.Available != DefaultMaxConcurrentJobs-3 {
		t.Errorf("Available = %d, want %d", status.Available, DefaultMaxConcurrentJobs-3)
	}

	r1()
	r2()
	r3()
	if status := limiter.Status(); status.Imports != 0 || status.Exports != 0 {
		t.Errorf("Status after release = %+v, want no active jobs", status)
	}
}
