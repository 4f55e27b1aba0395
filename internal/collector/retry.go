package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrRateLimited      = errors.New("rate limited")
	ErrUnexpectedStatus = errors.New("unexpected status")
	ErrInvalidPayload   = errors.New("invalid payload")
)

// FetchError is the terminal failure of a feed operation after the retry budget is spent
// (or immediately, for unauthorized requests).
type FetchError struct {
	Op       string
	Attempts int
	Status   int // last HTTP status, 0 if no response was received
	Err      error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s failed after %d attempt(s), last status %d: %v", e.Op, e.Attempts, e.Status, e.Err)
	}
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// RetryPolicy is the retry discipline shared by every feed request.
//
//	401          -> fail at once
//	429          -> wait RateLimitCooldown
//	anything else -> wait BaseDelay * 2^(attempt-1)
//
// At most MaxAttempts requests are made.
type RetryPolicy struct {
	MaxAttempts       int
	RateLimitCooldown time.Duration
	BaseDelay         time.Duration
}

// DefaultRetryPolicy mirrors the upstream providers' documented limits.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, RateLimitCooldown: 60 * time.Second, BaseDelay: time.Second}
}

// statusBackOff picks the next delay from the outcome of the previous attempt.
type statusBackOff struct {
	policy  RetryPolicy
	attempt int
	last    error
}

func (b *statusBackOff) NextBackOff() time.Duration {
	if b.attempt >= b.policy.MaxAttempts {
		return backoff.Stop
	}
	if errors.Is(b.last, ErrRateLimited) {
		return b.policy.RateLimitCooldown
	}
	return b.policy.BaseDelay * time.Duration(1<<uint(b.attempt-1))
}

func (b *statusBackOff) Reset() {
	b.attempt = 0
	b.last = nil
}

// attemptFunc performs one request and reports the HTTP status it saw (0 when none).
type attemptFunc func(ctx context.Context) (status int, err error)

// Do runs fn under the policy. The returned error is always a *FetchError.
func (p RetryPolicy) Do(ctx context.Context, log *zap.SugaredLogger, op string, fn attemptFunc) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	b := &statusBackOff{policy: p}
	var status int

	operation := func() error {
		b.attempt++
		var err error
		status, err = fn(ctx)
		b.last = err
		if err == nil {
			log.Debugw("feed request succeeded", "op", op, "attempt", b.attempt, "status", status)
			return nil
		}
		if errors.Is(err, ErrUnauthorized) {
			log.Errorw("feed rejected credentials, not retrying", "op", op, "attempt", b.attempt, "status", status)
			return backoff.Permanent(err)
		}
		log.Warnw("feed request failed", "op", op, "attempt", b.attempt, "max_attempts", p.MaxAttempts,
			"status", status, "error", err)
		return err
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		fe := &FetchError{Op: op, Attempts: b.attempt, Status: status, Err: err}
		log.Errorw("feed operation gave up", "op", op, "attempts", b.attempt, "status", status, "error", err)
		return fe
	}
	return nil
}

// classifyStatus maps an HTTP status onto the retry taxonomy.
func classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, code)
	}
}
