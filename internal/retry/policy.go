// Package retry decides whether a failed remote call should be retried
// and how long to wait before the next attempt.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// ErrorKind classifies a failed remote call for retry purposes.
type ErrorKind int

const (
	NetworkTimeout ErrorKind = iota
	RateLimited
	ServerError
	AuthInvalid
	MalformedResponse
)

func (k ErrorKind) String() string {
	switch k {
	case NetworkTimeout:
		return "network_timeout"
	case RateLimited:
		return "rate_limited"
	case ServerError:
		return "server_error"
	case AuthInvalid:
		return "auth_invalid"
	case MalformedResponse:
		return "malformed_response"
	}
	return "unknown"
}

// Decision is the outcome of Decide: either retry after a delay, or give up.
type Decision struct {
	Retry bool
	After time.Duration
}

// Policy holds the retry parameters. All values come from configuration.
type Policy struct {
	MaxAttempts int           // attempts before giving up (includes the first)
	Base        time.Duration // backoff base delay
	Cap         time.Duration // upper bound on a single delay
	Jitter      time.Duration // random extra in [0, Jitter)

	// rand returns a random duration in [0, n). Injectable for tests.
	rand func(n time.Duration) time.Duration
}

// New returns a Policy with the given parameters.
func New(maxAttempts int, base, cap, jitter time.Duration) Policy {
	return Policy{MaxAttempts: maxAttempts, Base: base, Cap: cap, Jitter: jitter}
}

// WithRand returns a copy of the policy using fn as its jitter source.
func (p Policy) WithRand(fn func(n time.Duration) time.Duration) Policy {
	p.rand = fn
	return p
}

// Decide is pure: given the error kind and the 1-based attempt number that
// just failed, it returns whether to retry and after how long. hint is a
// server-supplied wait (Retry-After); zero when absent. Rate-limit hints
// are honored by taking the larger of the hint and the computed backoff.
func (p Policy) Decide(kind ErrorKind, attempt int, hint time.Duration) Decision {
	if kind == AuthInvalid {
		return Decision{}
	}
	if attempt >= p.MaxAttempts {
		return Decision{}
	}

	delay := p.Base << uint(attempt-1)
	if delay > p.Cap || delay <= 0 {
		delay = p.Cap
	}
	if p.Jitter > 0 {
		delay += p.randDuration(p.Jitter)
	}
	// A server-supplied wait is a floor, even above the cap.
	if kind == RateLimited && hint > delay {
		delay = hint
	}
	return Decision{Retry: true, After: delay}
}

func (p Policy) randDuration(n time.Duration) time.Duration {
	if p.rand != nil {
		return p.rand(n)
	}
	return time.Duration(rand.Int63n(int64(n)))
}

// Sleep waits for d or until ctx is cancelled, whichever comes first.
// Returns ctx.Err() on cancellation.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
