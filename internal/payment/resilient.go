package payment

import (
	"context"
	"errors"
	"time"

	"github.com/seatswap/seatswap/internal/circuitbreaker"
	"github.com/seatswap/seatswap/internal/metrics"
	"github.com/seatswap/seatswap/internal/retry"
)

// Resilient wraps a Provider with retries on transient failures, a circuit
// breaker per call type, and call metrics. Non-transient errors are passed
// through without retrying.
type Resilient struct {
	inner       Provider
	breaker     *circuitbreaker.Breaker
	maxAttempts int
	baseDelay   time.Duration
}

var _ Provider = (*Resilient)(nil)

// ErrCircuitOpen is returned without calling the provider when the breaker
// for the call type is open.
var ErrCircuitOpen = errors.New("payment provider circuit open")

func NewResilient(inner Provider, breaker *circuitbreaker.Breaker) *Resilient {
	return &Resilient{
		inner:       inner,
		breaker:     breaker,
		maxAttempts: 3,
		baseDelay:   200 * time.Millisecond,
	}
}

func (r *Resilient) Name() string { return r.inner.Name() }

func (r *Resilient) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	var sess *Session
	err := r.call(ctx, "create_session", func() error {
		var err error
		sess, err = r.inner.CreateSession(ctx, req)
		return err
	})
	return sess, err
}

func (r *Resilient) Confirm(ctx context.Context, token string) (*ConfirmResult, error) {
	var res *ConfirmResult
	err := r.call(ctx, "confirm", func() error {
		var err error
		res, err = r.inner.Confirm(ctx, token)
		return err
	})
	return res, err
}

func (r *Resilient) call(ctx context.Context, name string, fn func() error) error {
	key := r.inner.Name() + ":" + name
	if !r.breaker.Allow(key) {
		metrics.ProviderCallsTotal.WithLabelValues(r.inner.Name(), name, "circuit_open").Inc()
		return ErrCircuitOpen
	}

	err := retry.Do(ctx, r.maxAttempts, r.baseDelay, func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrProviderUnavailable) {
			return err
		}
		return retry.Permanent(err)
	})

	switch {
	case err == nil:
		r.breaker.RecordSuccess(key)
		metrics.ProviderCallsTotal.WithLabelValues(r.inner.Name(), name, "ok").Inc()
	case errors.Is(err, ErrProviderUnavailable):
		r.breaker.RecordFailure(key)
		metrics.ProviderCallsTotal.WithLabelValues(r.inner.Name(), name, "unavailable").Inc()
	default:
		// Definitive provider answers count as successes for breaker
		// purposes; the provider is reachable.
		r.breaker.RecordSuccess(key)
		metrics.ProviderCallsTotal.WithLabelValues(r.inner.Name(), name, "error").Inc()
	}
	return err
}
