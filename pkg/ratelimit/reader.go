// Package ratelimit bounds disk read bandwidth. Hashing and snapshotting
// large trees can saturate shared storage; wrapping their readers with a
// shared Limiter keeps the operation below a configured byte rate.
package ratelimit

import (
	"context"
	"io"
	"sync"
	"time"
)

// minBurst keeps small rates usable: reads up to this size never stall
// behind a bucket smaller than one buffer
const minBurst = 64 * 1024

// Limiter is a token bucket shared by any number of readers. Tokens are
// bytes; the bucket refills continuously at the configured rate.
type Limiter struct {
	rate  int64 // bytes per second
	burst int64 // bucket capacity

	mu        sync.Mutex
	available int64
	last      time.Time
}

// NewLimiter creates a limiter for the given byte rate. A rate <= 0 means
// no limiting and returns nil, which every wrapper treats as a no-op.
func NewLimiter(bytesPerSecond int64) *Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	burst := bytesPerSecond
	if burst < minBurst {
		burst = minBurst
	}
	return &Limiter{
		rate:      bytesPerSecond,
		burst:     burst,
		available: burst,
		last:      time.Now(),
	}
}

// take removes n tokens, blocking until they are available or the context
// is cancelled. n is clamped to the bucket capacity by callers.
func (l *Limiter) take(ctx context.Context, n int64) error {
	for {
		l.mu.Lock()
		now := time.Now()
		refill := int64(float64(now.Sub(l.last)) / float64(time.Second) * float64(l.rate))
		if refill > 0 {
			l.available += refill
			if l.available > l.burst {
				l.available = l.burst
			}
			l.last = now
		}

		if l.available >= n {
			l.available -= n
			l.mu.Unlock()
			return nil
		}
		deficit := n - l.available
		l.mu.Unlock()

		wait := time.Duration(float64(deficit) / float64(l.rate) * float64(time.Second))
		if wait < time.Millisecond {
			wait = time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Reader throttles an underlying reader through a shared limiter
type Reader struct {
	src     io.Reader
	closer  io.Closer
	limiter *Limiter
	ctx     context.Context
}

// NewReader wraps r with rate limiting. A nil limiter returns r unchanged.
func NewReader(ctx context.Context, r io.Reader, limiter *Limiter) io.Reader {
	if limiter == nil {
		return r
	}
	return &Reader{src: r, limiter: limiter, ctx: ctx}
}

// NewReadCloser wraps rc with rate limiting, preserving Close. A nil
// limiter returns rc unchanged.
func NewReadCloser(ctx context.Context, rc io.ReadCloser, limiter *Limiter) io.ReadCloser {
	if limiter == nil {
		return rc
	}
	return &Reader{src: rc, closer: rc, limiter: limiter, ctx: ctx}
}

// Read acquires tokens for the requested size before reading. Requests
// larger than the bucket are split so a huge buffer cannot starve forever.
func (r *Reader) Read(p []byte) (int, error) {
	want := int64(len(p))
	if want > r.limiter.burst {
		want = r.limiter.burst
	}
	if err := r.limiter.take(r.ctx, want); err != nil {
		return 0, err
	}

	n, err := r.src.Read(p[:want])
	if int64(n) < want {
		// Return the tokens the short read did not use
		r.limiter.mu.Lock()
		r.limiter.available += want - int64(n)
		if r.limiter.available > r.limiter.burst {
			r.limiter.available = r.limiter.burst
		}
		r.limiter.mu.Unlock()
	}
	return n, err
}

// Close closes the underlying reader when it is closable
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// Wrapper adapts a limiter to the reader-wrapper hook used by the hashing
// layer. A nil limiter yields a pass-through wrapper.
func Wrapper(ctx context.Context, limiter *Limiter) func(io.ReadCloser) io.ReadCloser {
	return func(rc io.ReadCloser) io.ReadCloser {
		return NewReadCloser(ctx, rc, limiter)
	}
}
