package core

// job_limiter.go bounds the number of import and export jobs that run at
// once. Imports and exports share one pool of slots; the limiter keeps a
// per-kind count so the queue endpoint can show what is holding them.
// Shutdown waits on the drained channel, which is closed whenever the last
// slot is handed back.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTooManyJobs is returned when all job slots are occupied and the wait
// timeout expires. Clients should retry after a short delay.
var ErrTooManyJobs = errors.New("too many concurrent jobs, please try again later")

// DefaultMaxConcurrentJobs is the default limit for parallel jobs.
const DefaultMaxConcurrentJobs = 4

// DefaultMaxWaitTime is how long to wait for a slot before rejecting.
const DefaultMaxWaitTime = 30 * time.Second

// JobLimiter hands out job slots.
type JobLimiter struct {
	slots   chan struct{}
	maxWait time.Duration

	mu      sync.Mutex
	active  map[JobKind]int
	drained chan struct{}
}

// NewJobLimiter creates a limiter that allows at most maxConcurrent jobs.
// Non-positive arguments select the defaults.
func NewJobLimiter(maxConcurrent int, maxWait time.Duration) *JobLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentJobs
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}

	drained := make(chan struct{})
	close(drained)
	return &JobLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
		active:  make(map[JobKind]int),
		drained: drained,
	}
}

// Acquire waits for a slot for a job of the given kind. It returns
// ErrTooManyJobs when maxWait passes first, or the context's error when ctx
// ends first. The returned release func gives the slot back; calling it
// more than once has no further effect.
func (l *JobLimiter) Acquire(ctx context.Context, kind JobKind) (release func(), err error) {
	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
		return l.take(kind), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrTooManyJobs
	}
}

// TryAcquire takes a slot without blocking. ok is false when none is free.
func (l *JobLimiter) TryAcquire(kind JobKind) (release func(), ok bool) {
	select {
	case l.slots <- struct{}{}:
		return l.take(kind), true
	default:
		return nil, false
	}
}

func (l *JobLimiter) take(kind JobKind) func() {
	l.mu.Lock()
	if l.total() == 0 {
		l.drained = make(chan struct{})
	}
	l.active[kind]++
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { l.release(kind) })
	}
}

func (l *JobLimiter) release(kind JobKind) {
	l.mu.Lock()
	l.active[kind]--
	if l.active[kind] == 0 {
		delete(l.active, kind)
	}
	if l.total() == 0 {
		close(l.drained)
	}
	l.mu.Unlock()

	<-l.slots
}

// total must be called with mu held.
func (l *JobLimiter) total() int {
	n := 0
	for _, c := range l.active {
		n += c
	}
	return n
}

// ActiveCount returns the number of jobs holding a slot.
func (l *JobLimiter) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total()
}

// MaxConcurrent returns the slot count.
func (l *JobLimiter) MaxConcurrent() int {
	return cap(l.slots)
}

// WaitForDrain blocks until no job holds a slot or ctx is cancelled.
func (l *JobLimiter) WaitForDrain(ctx context.Context) error {
	l.mu.Lock()
	drained := l.drained
	l.mu.Unlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// JobLimiterStatus is a snapshot of the limiter's state.
type JobLimiterStatus struct {
	Active        int `json:"active"`
	Imports       int `json:"imports"`
	Exports       int `json:"exports"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Status returns the current limiter state for the queue endpoint.
func (l *JobLimiter) Status() JobLimiterStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	active := l.total()
	return JobLimiterStatus{
		Active:        active,
		Imports:       l.active[JobImport],
		Exports:       l.active[JobExport],
		Available:     cap(l.slots) - active,
		MaxConcurrent: cap(l.slots),
	}
}
