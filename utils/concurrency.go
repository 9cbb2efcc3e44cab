package utils

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// WorkerPool runs jobs on a bounded number of goroutines, pacing job starts
// with a token-bucket limiter.
type WorkerPool struct {
	semaphore chan struct{}
	wg        sync.WaitGroup
	limiter   *rate.Limiter
}

// NewWorkerPool creates a WorkerPool with the given concurrency and the minimum
// gap in milliseconds between job starts. A rateLimitMs of 0 disables pacing.
func NewWorkerPool(maxWorkers, rateLimitMs int) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if rateLimitMs > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Duration(rateLimitMs)*time.Millisecond), 1)
	}
	return &WorkerPool{
		semaphore: make(chan struct{}, maxWorkers),
		limiter:   limiter,
	}
}

// Submit enqueues a job, blocking while every worker slot is busy.
func (wp *WorkerPool) Submit(job func()) {
	wp.SubmitContext(context.Background(), func(context.Context) { job() })
}

// SubmitContext is Submit for jobs that honour cancellation. A job whose
// context is cancelled while waiting for its rate slot still runs, with the
// cancelled context, so callers always observe one invocation per submit.
func (wp *WorkerPool) SubmitContext(ctx context.Context, job func(ctx context.Context)) {
	wp.wg.Add(1)
	wp.semaphore <- struct{}{}

	go func() {
		defer wp.wg.Done()
		defer func() { <-wp.semaphore }()

		_ = wp.limiter.Wait(ctx)
		job(ctx)
	}()
}

// Wait blocks until all submitted jobs have completed.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

// KeySet is a thread-safe set of string keys.
type KeySet struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewKeySet creates an empty KeySet.
func NewKeySet() *KeySet {
	return &KeySet{seen: make(map[string]struct{})}
}

// Add returns true if the key was newly added, false if already present.
func (s *KeySet) Add(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[key]; exists {
		return false
	}
	s.seen[key] = struct{}{}
	return true
}

// Contains reports whether key has been added.
func (s *KeySet) Contains(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.seen[key]
	return exists
}

// Size returns the number of unique keys tracked.
func (s *KeySet) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}
