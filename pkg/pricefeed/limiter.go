package pricefeed

import (
	"context"
	"sync"
	"time"
)

// tokenBucket allows burst requests at once and rate requests per second after that.
type tokenBucket struct {
	mu     sync.Mutex
	tokens float64
	burst  float64
	rate   float64
	last   time.Time
}

func newTokenBucket(rps, burst int) *tokenBucket {
	return &tokenBucket{tokens: float64(burst), burst: float64(burst), rate: float64(rps), last: time.Now()}
}

// take returns zero when a token was taken, or how long until one is available.
func (b *tokenBucket) take() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	b.tokens = min(b.burst, b.tokens+now.Sub(b.last).Seconds()*b.rate)
	b.last = now
	if b.tokens >= 1 {
		b.tokens--
		return 0
	}
	return time.Duration((1 - b.tokens) / b.rate * float64(time.Second))
}

func (b *tokenBucket) wait(ctx context.Context) error {
	for {
		d := b.take()
		if d == 0 {
			return nil
		}
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// breakers tracks consecutive failures per endpoint. An endpoint that reaches the
// threshold is skipped until the cooldown passes.
type breakers struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	failures  map[string]int
	openUntil map[string]time.Time
}

func newBreakers(threshold int, cooldown time.Duration) *breakers {
	return &breakers{
		threshold: threshold,
		cooldown:  cooldown,
		failures:  map[string]int{},
		openUntil: map[string]time.Time{},
	}
}

func (b *breakers) allow(ep string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	until, ok := b.openUntil[ep]
	if !ok {
		return true
	}
	if time.Now().Before(until) {
		return false
	}
	// half-open: one more failure reopens it
	delete(b.openUntil, ep)
	b.failures[ep] = b.threshold - 1
	return true
}

func (b *breakers) failure(ep string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[ep]++
	if b.failures[ep] >= b.threshold {
		b.openUntil[ep] = time.Now().Add(b.cooldown)
	}
}

func (b *breakers) success(ep string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.failures, ep)
}
