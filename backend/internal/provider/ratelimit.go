package provider

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// AdaptiveLimiter applies an adaptive token bucket in front of an Adapter:
// it estimates a request's token cost, blocks until budget is available, and
// backs its tokens-per-minute budget off when the provider signals
// rate_limited, recovering gradually on sustained success.
type AdaptiveLimiter struct {
	mu sync.Mutex

	limiter *rate.Limiter

	currentTPM   float64
	minTPM       float64
	maxTPM       float64
	recoveryRate float64
}

// NewAdaptiveLimiter returns a limiter starting at initialTPM tokens per
// minute, never exceeding maxTPM or dropping below initialTPM/4.
func NewAdaptiveLimiter(initialTPM, maxTPM float64) *AdaptiveLimiter {
	if maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	return &AdaptiveLimiter{
		limiter:      rate.NewLimiter(rate.Limit(initialTPM/60), int(initialTPM)),
		currentTPM:   initialTPM,
		minTPM:       initialTPM / 4,
		maxTPM:       maxTPM,
		recoveryRate: 1.1,
	}
}

// Wait blocks until estimatedTokens of budget are available or ctx is done.
func (l *AdaptiveLimiter) Wait(ctx context.Context, estimatedTokens int) error {
	return l.limiter.WaitN(ctx, estimatedTokens)
}

// OnRateLimited halves the current budget (multiplicative decrease) after a
// rate_limited response from the provider.
func (l *AdaptiveLimiter) OnRateLimited() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.currentTPM /= 2
	if l.currentTPM < l.minTPM {
		l.currentTPM = l.minTPM
	}
	l.limiter.SetLimit(rate.Limit(l.currentTPM / 60))
}

// OnSuccess nudges the budget back up by 10% (multiplying by recoveryRate)
// after a successful call, capped at maxTPM.
func (l *AdaptiveLimiter) OnSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.currentTPM *= l.recoveryRate
	if l.currentTPM > l.maxTPM {
		l.currentTPM = l.maxTPM
	}
	l.limiter.SetLimit(rate.Limit(l.currentTPM / 60))
}
