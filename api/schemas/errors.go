package schemas

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBotChallengeDetected marks a page that is an automated-traffic challenge.
	ErrBotChallengeDetected = errors.New("bot challenge detected")
	// ErrRateLimitExceeded is returned once the back-off budget is exhausted.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrMalformedReasoningResponse marks a reply that could not be interpreted.
	ErrMalformedReasoningResponse = errors.New("malformed reasoning response")
)

// FetchError is a network or timeout failure while loading a page.
type FetchError struct {
	URL      string
	Strategy WaitStrategy
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s (%s): %v", e.URL, e.Strategy, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// BotChallengeError carries the indicator that identified a challenge page.
type BotChallengeError struct {
	URL       string
	Indicator string
}

func (e *BotChallengeError) Error() string {
	return fmt.Sprintf("bot challenge at %s: %s", e.URL, e.Indicator)
}

func (e *BotChallengeError) Is(target error) bool {
	return target == ErrBotChallengeDetected
}

// ProviderError is a failure reported by the reasoning provider.
type ProviderError struct {
	Provider    string
	StatusCode  int
	RateLimited bool
	Err         error
}

func (e *ProviderError) Error() string {
	if e.RateLimited {
		return fmt.Sprintf("%s: rate limited (status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsRateLimited reports whether err is a provider rate-limit failure.
func IsRateLimited(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.RateLimited
}

// RateLimitExceededError is surfaced after every allowed attempt was rate limited.
type RateLimitExceededError struct {
	Caller   string
	Attempts int
	Last     error
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s after %d attempts: %v", e.Caller, e.Attempts, e.Last)
}

func (e *RateLimitExceededError) Is(target error) bool {
	return target == ErrRateLimitExceeded
}

func (e *RateLimitExceededError) Unwrap() error { return e.Last }

// SynthesisError is a failure while aggregating persona reports.
type SynthesisError struct {
	Reasons []string
	Err     error
}

func (e *SynthesisError) Error() string {
	msg := "report synthesis failed"
	if len(e.Reasons) > 0 {
		msg += ": " + strings.Join(e.Reasons, "; ")
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SynthesisError) Unwrap() error { return e.Err }
