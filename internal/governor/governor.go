// Package governor enforces the process-wide call budget toward the reasoning
// provider. One Governor is shared by every persona session of a focus group.
package governor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/focusgroup/api/schemas"
	"github.com/xkilldash9x/focusgroup/internal/config"
)

// Stats is a snapshot of governor activity.
type Stats struct {
	InFlight     int64 `json:"in_flight"`
	PeakInFlight int64 `json:"peak_in_flight"`
	Calls        int64 `json:"calls"`
	RateLimited  int64 `json:"rate_limited"`
	Exhausted    int64 `json:"exhausted"`
}

// Governor bounds concurrent in-flight calls with a weighted semaphore, spaces
// calls per logical caller with a token bucket and retries provider rate
// limits with jittered exponential back-off.
type Governor struct {
	cfg    config.GovernorConfig
	logger *zap.Logger
	sem    *semaphore.Weighted

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	inFlight    atomic.Int64
	peak        atomic.Int64
	calls       atomic.Int64
	rateLimited atomic.Int64
	exhausted   atomic.Int64
}

// New creates a Governor from configuration.
func New(cfg config.GovernorConfig, logger *zap.Logger) (*Governor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid governor configuration: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Governor{
		cfg:      cfg,
		logger:   logger.Named("governor"),
		sem:      semaphore.NewWeighted(int64(cfg.MaxInFlight)),
		limiters: make(map[string]*rate.Limiter),
	}, nil
}

// Do issues one reasoning call on behalf of caller. Only provider rate-limit
// errors are retried; once MaxAttempts calls were rate limited the result is a
// *schemas.RateLimitExceededError. Permits are never held while backing off.
func (g *Governor) Do(ctx context.Context, caller string, svc schemas.ReasoningService, req schemas.GenerationRequest) (string, error) {
	attempts := 0
	limiter := g.limiter(caller)

	operation := func() (string, error) {
		attempts++
		if err := limiter.Wait(ctx); err != nil {
			return "", backoff.Permanent(err)
		}
		out, err := g.call(ctx, svc, req)
		if err == nil {
			return out, nil
		}
		if schemas.IsRateLimited(err) {
			g.rateLimited.Add(1)
			return "", err
		}
		return "", backoff.Permanent(err)
	}

	notify := func(err error, wait time.Duration) {
		g.logger.Warn("Reasoning call rate limited, backing off",
			zap.String("caller", caller),
			zap.String("purpose", string(req.Purpose)),
			zap.Int("attempt", attempts),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	out, err := backoff.RetryNotifyWithData(operation, backoff.WithContext(g.newBackOff(), ctx), notify)
	if err == nil {
		return out, nil
	}
	if schemas.IsRateLimited(err) && ctx.Err() == nil {
		g.exhausted.Add(1)
		g.logger.Error("Reasoning call budget exhausted",
			zap.String("caller", caller), zap.Int("attempts", attempts))
		return "", &schemas.RateLimitExceededError{Caller: caller, Attempts: attempts, Last: err}
	}
	return "", err
}

// call holds one semaphore permit for the duration of a single provider call.
func (g *Governor) call(ctx context.Context, svc schemas.ReasoningService, req schemas.GenerationRequest) (string, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer g.sem.Release(1)

	current := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		peak := g.peak.Load()
		if current <= peak || g.peak.CompareAndSwap(peak, current) {
			break
		}
	}
	g.calls.Add(1)

	callCtx := ctx
	if g.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.cfg.CallTimeout)
		defer cancel()
	}

	out, err := svc.Generate(callCtx, req)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return "", fmt.Errorf("reasoning call timed out after %s: %w", g.cfg.CallTimeout, err)
	}
	return out, err
}

func (g *Governor) newBackOff() backoff.BackOff {
	initial := g.cfg.InitialBackoff
	if initial <= 0 {
		initial = time.Millisecond
	}
	maxInterval := g.cfg.MaxBackoff
	if maxInterval < initial {
		maxInterval = initial
	}
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(initial),
		backoff.WithMaxInterval(maxInterval),
		backoff.WithRandomizationFactor(g.cfg.Jitter),
		backoff.WithMultiplier(2),
		backoff.WithMaxElapsedTime(0),
	)
	return backoff.WithMaxRetries(b, uint64(g.cfg.MaxAttempts-1))
}

// limiter returns the spacing limiter of a caller, creating it on first use.
func (g *Governor) limiter(caller string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.limiters[caller]
	if !ok {
		limit := rate.Inf
		if g.cfg.MinSpacing > 0 {
			limit = rate.Every(g.cfg.MinSpacing)
		}
		l = rate.NewLimiter(limit, 1)
		g.limiters[caller] = l
	}
	return l
}

// Client binds the governor to one caller and service.
func (g *Governor) Client(caller string, svc schemas.ReasoningService) schemas.ReasoningService {
	return &governedClient{g: g, caller: caller, svc: svc}
}

// Stats returns a snapshot of the counters.
func (g *Governor) Stats() Stats {
	return Stats{
		InFlight:     g.inFlight.Load(),
		PeakInFlight: g.peak.Load(),
		Calls:        g.calls.Load(),
		RateLimited:  g.rateLimited.Load(),
		Exhausted:    g.exhausted.Load(),
	}
}

type governedClient struct {
	g      *Governor
	caller string
	svc    schemas.ReasoningService
}

func (c *governedClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	return c.g.Do(ctx, c.caller, c.svc, req)
}
