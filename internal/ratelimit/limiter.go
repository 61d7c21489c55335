// Package ratelimit provides rate limiting for calls made by the reference
// RemoteApi client using a token bucket algorithm.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RateLimiter implements a token bucket rate limiter. It allows bursts up to
// maxTokens, then refills at refillRate tokens/second.
//
// Thread-safe: all mutable state is protected by a sync.Mutex. Supports
// cooldown periods (triggered by a 429/Retry-After style response) during
// which all token acquisition blocks until the cooldown expires.
type RateLimiter struct {
	mu          sync.Mutex
	tokens      float64
	maxTokens   float64
	refillRate  float64
	lastRefill  time.Time
	cooldownEnd time.Time

	// Visibility: utilization-based notifications with hysteresis.
	hardLimitPerS  float64
	notifyFn       func(level, message string)
	warningActive  bool
	lastNotifyTime time.Time
}

// NewRateLimiter creates a new rate limiter.
//
//   - tokensPerSecond: rate at which tokens are added
//   - burstSize: maximum tokens that can accumulate (allows brief bursts)
func NewRateLimiter(tokensPerSecond, burstSize float64) *RateLimiter {
	return &RateLimiter{
		tokens:     burstSize,
		maxTokens:  burstSize,
		refillRate: tokensPerSecond,
		lastRefill: time.Now(),
	}
}

// NewMetadataLimiter creates the limiter for the metadata scope (§11.1).
func NewMetadataLimiter() *RateLimiter {
	return NewRateLimiter(MetadataRatePerSec, MetadataBurstCapacity)
}

// NewTransferLimiter creates the limiter for the transfer-open scope (§11.1).
func NewTransferLimiter() *RateLimiter {
	return NewRateLimiter(TransferRatePerSec, TransferBurstCapacity)
}

// SetHardLimit records the server hard limit (requests/second), used only
// for utilization reporting.
func (rl *RateLimiter) SetHardLimit(hardLimitPerS float64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.hardLimitPerS = hardLimitPerS
}

// SetNotifyFunc sets the callback for rate-limit visibility notifications.
func (rl *RateLimiter) SetNotifyFunc(fn func(level, message string)) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.notifyFn = fn
}

// Utilization returns refillRate/hardLimitPerS, or 0 if no hard limit is set.
func (rl *RateLimiter) Utilization() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.hardLimitPerS <= 0 {
		return 0
	}
	return rl.refillRate / rl.hardLimitPerS
}

func (rl *RateLimiter) emitUtilizationNotice(actualWait time.Duration) {
	rl.mu.Lock()
	fn := rl.notifyFn
	if fn == nil {
		rl.mu.Unlock()
		return
	}
	util := float64(0)
	if rl.hardLimitPerS > 0 {
		util = rl.refillRate / rl.hardLimitPerS
	}
	if util >= UtilizationWarnThreshold {
		rl.warningActive = true
	} else if util < UtilizationSuppressThreshold {
		rl.warningActive = false
	}
	if !rl.warningActive {
		rl.mu.Unlock()
		return
	}
	if !rl.lastNotifyTime.IsZero() && time.Since(rl.lastNotifyTime) < NotifyMinInterval {
		rl.mu.Unlock()
		return
	}
	rl.lastNotifyTime = time.Now()
	rl.mu.Unlock()

	msg := fmt.Sprintf("rate limiting: %.0f%% of capacity, waited %.1fs", util*100, actualWait.Seconds())
	fn("warn", msg)
}

// TryAcquire attempts to acquire one token without blocking.
func (rl *RateLimiter) TryAcquire() bool {
	return rl.tryAcquire()
}

// Wait blocks until a token is available or ctx is cancelled. If a cooldown
// is active (set via SetCooldown) Wait blocks until it expires before
// attempting to acquire a token.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	startTime := time.Now()

	if cooldown := rl.CooldownRemaining(); cooldown > 0 {
		rl.mu.Lock()
		fn := rl.notifyFn
		rl.mu.Unlock()
		if fn != nil {
			fn("warn", fmt.Sprintf("rate limited: waiting ~%.1fs for cooldown", cooldown.Seconds()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cooldown):
		}
	}

	if rl.tryAcquire() {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if rl.tryAcquire() {
			if actualWait := time.Since(startTime); actualWait > 100*time.Millisecond {
				rl.emitUtilizationNotice(actualWait)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(rl.timeUntilNextToken()):
		}
	}
}

func (rl *RateLimiter) tryAcquire() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(rl.lastRefill).Seconds()
	rl.tokens += elapsed * rl.refillRate
	if rl.tokens > rl.maxTokens {
		rl.tokens = rl.maxTokens
	}
	rl.lastRefill = now

	if rl.tokens >= 1.0 {
		rl.tokens -= 1.0
		return true
	}
	return false
}

func (rl *RateLimiter) timeUntilNextToken() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	tokensNeeded := 1.0 - rl.tokens
	if tokensNeeded <= 0 {
		return 0
	}
	return time.Duration(tokensNeeded / rl.refillRate * float64(time.Second))
}

// GetCurrentTokens returns the current number of tokens, refilled as of now.
func (rl *RateLimiter) GetCurrentTokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(rl.lastRefill).Seconds()
	tokens := rl.tokens + elapsed*rl.refillRate
	if tokens > rl.maxTokens {
		tokens = rl.maxTokens
	}
	return tokens
}

// Drain empties the bucket to zero. Subsequent Wait calls block until
// tokens refill. Used when the remote signals it is being hit too hard.
func (rl *RateLimiter) Drain() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.tokens = 0
	rl.lastRefill = time.Now()
}

// SetCooldown sets a cooldown period during which all Wait calls block.
// Merge semantics: an existing cooldown that extends further into the
// future is preserved (a shorter Retry-After cannot shorten an active one).
func (rl *RateLimiter) SetCooldown(d time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	newEnd := time.Now().Add(d)
	if newEnd.After(rl.cooldownEnd) {
		rl.cooldownEnd = newEnd
	}
}

// CooldownRemaining returns the time remaining on the active cooldown, or 0.
func (rl *RateLimiter) CooldownRemaining() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.cooldownEnd.IsZero() {
		return 0
	}
	if remaining := time.Until(rl.cooldownEnd); remaining > 0 {
		return remaining
	}
	return 0
}
