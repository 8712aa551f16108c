package core

// upload_limiter.go bounds how much upload work runs at once.
//
// Capacity is measured in files rather than requests: a census_yoy batch of
// three files holds three slots while it decodes and normalizes, a default
// upload holds one. When capacity is exhausted new batches wait up to maxWait
// before failing with ErrTooManyUploads.
//
// WaitForDrain blocks until every in-flight batch has released its slots and
// is used during graceful shutdown.

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrTooManyUploads is returned when no capacity frees up before the wait
// timeout expires. Clients should retry after a short delay.
var ErrTooManyUploads = errors.New("too many concurrent uploads, please try again later")

// DefaultMaxConcurrentUploads is the default file capacity.
const DefaultMaxConcurrentUploads = 6

// DefaultMaxWaitTime is how long to wait for capacity before rejecting.
const DefaultMaxWaitTime = 30 * time.Second

// UploadLimiter is a weighted semaphore over in-flight upload files.
type UploadLimiter struct {
	sem     *semaphore.Weighted
	max     int64
	maxWait time.Duration

	mu      sync.RWMutex
	active  int64 // weight currently held
	batches int
}

// NewUploadLimiter creates a limiter allowing maxConcurrent files in flight.
func NewUploadLimiter(maxConcurrent int, maxWait time.Duration) *UploadLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentUploads
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}
	return &UploadLimiter{
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		max:     int64(maxConcurrent),
		maxWait: maxWait,
	}
}

// clamp keeps a batch larger than the whole capacity from waiting forever.
func (l *UploadLimiter) clamp(n int) int64 {
	w := int64(n)
	if w < 1 {
		w = 1
	}
	if w > l.max {
		w = l.max
	}
	return w
}

// Acquire reserves capacity for a batch of n files. It returns
// ErrTooManyUploads if capacity does not free up within maxWait, or the
// context error if ctx ends first. The caller MUST call Release(n) with the
// same n when the batch completes.
func (l *UploadLimiter) Acquire(ctx context.Context, n int) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	w := l.clamp(n)
	if err := l.sem.Acquire(waitCtx, w); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTooManyUploads
	}
	l.track(w, 1)
	return nil
}

// Release returns the capacity taken by a successful Acquire.
func (l *UploadLimiter) Release(n int) {
	w := l.clamp(n)
	l.track(-w, -1)
	l.sem.Release(w)
}

func (l *UploadLimiter) track(w int64, batches int) {
	l.mu.Lock()
	l.active += w
	l.batches += batches
	l.mu.Unlock()
}

// ActiveCount returns the number of batches in flight.
func (l *UploadLimiter) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.batches
}

// MaxConcurrent returns the file capacity.
func (l *UploadLimiter) MaxConcurrent() int {
	return int(l.max)
}

// Available returns the free file capacity.
func (l *UploadLimiter) Available() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return int(l.max - l.active)
}

// WaitForDrain blocks until all in-flight batches complete or ctx ends.
func (l *UploadLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// UploadLimiterStatus is a point-in-time view of the limiter.
type UploadLimiterStatus struct {
	Active        int `json:"active"`
	ActiveFiles   int `json:"active_files"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Status returns the current limiter state for monitoring.
func (l *UploadLimiter) Status() UploadLimiterStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return UploadLimiterStatus{
		Active:        l.batches,
		ActiveFiles:   int(l.active),
		Available:     int(l.max - l.active),
		MaxConcurrent: int(l.max),
	}
}
