package governor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/focusgroup/api/schemas"
	"github.com/xkilldash9x/focusgroup/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// -- Test Helpers --

// scriptedService tracks concurrency and returns scripted errors before succeeding.
type scriptedService struct {
	mu        sync.Mutex
	failures  []error
	calls     int
	delay     time.Duration
	current   atomic.Int64
	maxSeen   atomic.Int64
	callTimes []time.Time
}

func (s *scriptedService) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	n := s.current.Add(1)
	defer s.current.Add(-1)
	for {
		m := s.maxSeen.Load()
		if n <= m || s.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}

	s.mu.Lock()
	idx := s.calls
	s.calls++
	s.callTimes = append(s.callTimes, time.Now())
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if idx < len(s.failures) {
		return "", s.failures[idx]
	}
	return "ok:" + req.UserPrompt, nil
}

func (s *scriptedService) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func rateLimited() error {
	return &schemas.ProviderError{Provider: "gemini", StatusCode: 429, RateLimited: true, Err: errors.New("quota")}
}

func testConfig() config.GovernorConfig {
	return config.GovernorConfig{
		MaxInFlight:    2,
		MinSpacing:     0,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Jitter:         0.5,
		CallTimeout:    time.Second,
	}
}

func newTestGovernor(t *testing.T, cfg config.GovernorConfig) (*Governor, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	g, err := New(cfg, zap.New(core))
	require.NoError(t, err)
	return g, logs
}

// -- Test Cases --

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.MaxInFlight = 0
	_, err := New(cfg, nil)
	assert.ErrorContains(t, err, "max_in_flight")
}

func TestGovernor_CeilingHoldsUnderConcurrency(t *testing.T) {
	for _, ceiling := range []int{1, 2, 4} {
		t.Run(fmt.Sprintf("ceiling=%d", ceiling), func(t *testing.T) {
			cfg := testConfig()
			cfg.MaxInFlight = ceiling
			g, _ := newTestGovernor(t, cfg)
			svc := &scriptedService{delay: 5 * time.Millisecond}

			var wg sync.WaitGroup
			for i := 0; i < 24; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					caller := fmt.Sprintf("persona-%d", i%6)
					_, err := g.Do(context.Background(), caller, svc, schemas.GenerationRequest{UserPrompt: "p"})
					assert.NoError(t, err)
				}(i)
			}
			wg.Wait()

			assert.LessOrEqual(t, svc.maxSeen.Load(), int64(ceiling))
			stats := g.Stats()
			assert.LessOrEqual(t, stats.PeakInFlight, int64(ceiling))
			assert.Equal(t, int64(24), stats.Calls)
			assert.Zero(t, stats.InFlight)
		})
	}
}

func TestGovernor_RetriesRateLimits(t *testing.T) {
	g, logs := newTestGovernor(t, testConfig())
	svc := &scriptedService{failures: []error{rateLimited(), rateLimited()}}

	out, err := g.Do(context.Background(), "Dana", svc, schemas.GenerationRequest{UserPrompt: "hello", Purpose: schemas.PurposeNavigation})
	require.NoError(t, err)
	assert.Equal(t, "ok:hello", out)
	assert.Equal(t, 3, svc.Calls())
	assert.Equal(t, int64(2), g.Stats().RateLimited)
	assert.Equal(t, 2, logs.FilterMessage("Reasoning call rate limited, backing off").Len())
}

func TestGovernor_SurfacesRateLimitExceeded(t *testing.T) {
	g, _ := newTestGovernor(t, testConfig())
	svc := &scriptedService{failures: []error{rateLimited(), rateLimited(), rateLimited(), rateLimited()}}

	_, err := g.Do(context.Background(), "Dana", svc, schemas.GenerationRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, schemas.ErrRateLimitExceeded)

	var rle *schemas.RateLimitExceededError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, 3, rle.Attempts)
	assert.Equal(t, "Dana", rle.Caller)
	assert.Equal(t, 3, svc.Calls(), "never retries past the attempt budget")
	assert.Equal(t, int64(1), g.Stats().Exhausted)
}

func TestGovernor_OtherErrorsAreNotRetried(t *testing.T) {
	g, _ := newTestGovernor(t, testConfig())
	boom := &schemas.ProviderError{Provider: "gemini", StatusCode: 400, Err: errors.New("bad request")}
	svc := &scriptedService{failures: []error{boom}}

	_, err := g.Do(context.Background(), "Dana", svc, schemas.GenerationRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, schemas.ErrRateLimitExceeded)
	assert.Equal(t, 1, svc.Calls())
}

func TestGovernor_SpacingPerCaller(t *testing.T) {
	cfg := testConfig()
	cfg.MinSpacing = 40 * time.Millisecond
	g, _ := newTestGovernor(t, cfg)
	svc := &scriptedService{}

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := g.Do(context.Background(), "Dana", svc, schemas.GenerationRequest{})
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 75*time.Millisecond, "three calls need two spacing intervals")

	// A different caller has its own bucket and is not delayed by Dana.
	other := time.Now()
	_, err := g.Do(context.Background(), "Lee", svc, schemas.GenerationRequest{})
	require.NoError(t, err)
	assert.Less(t, time.Since(other), 30*time.Millisecond)
}

func TestGovernor_CancelWhileWaitingForPermit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxInFlight = 1
	g, _ := newTestGovernor(t, cfg)
	slow := &scriptedService{delay: 200 * time.Millisecond}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = g.Do(context.Background(), "holder", slow, schemas.GenerationRequest{})
	}()
	require.Eventually(t, func() bool { return g.Stats().InFlight == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := g.Do(ctx, "waiter", slow, schemas.GenerationRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	<-done
}

func TestGovernor_CallTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.CallTimeout = 10 * time.Millisecond
	g, _ := newTestGovernor(t, cfg)
	slow := &scriptedService{delay: 200 * time.Millisecond}

	_, err := g.Do(context.Background(), "Dana", slow, schemas.GenerationRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "timed out")
	assert.Equal(t, 1, slow.Calls())
}

func TestGovernor_Client(t *testing.T) {
	g, _ := newTestGovernor(t, testConfig())
	svc := &scriptedService{}

	client := g.Client("Dana", svc)
	out, err := client.Generate(context.Background(), schemas.GenerationRequest{UserPrompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "ok:x", out)
	assert.Equal(t, int64(1), g.Stats().Calls)
}
