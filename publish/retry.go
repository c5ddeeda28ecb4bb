package publish

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Vaios0x/JeonseVault-sub002/publish/metrics"
)

// RetryPolicy bounds how long and how often a chain call is attempted.
type RetryPolicy struct {
	Attempts     int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	CallTimeout  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:     5,
		InitialDelay: time.Second,
		MaxDelay:     15 * time.Second,
		CallTimeout:  30 * time.Second,
	}
}

// IsTimeout reports whether err is a deadline or network timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}

// Retry runs op with a per-attempt deadline. Timeouts are retried with
// exponential backoff until the policy is exhausted and then surface as
// *RPCTimeoutError; every other error is returned immediately.
func Retry(ctx context.Context, p RetryPolicy, op string, fn func(ctx context.Context) error) error {
	if p.Attempts < 1 {
		p.Attempts = 1
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialDelay
	exp.MaxInterval = p.MaxDelay
	exp.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.Attempts-1)), ctx)

	var (
		attempts int
		surfaced *RPCTimeoutError
	)
	err := backoff.RetryNotify(func() error {
		attempts++
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, p.CallTimeout)
		}
		defer cancel()

		err := fn(callCtx)
		if err == nil {
			return nil
		}
		if errors.As(err, &surfaced) || !IsTimeout(err) || errors.Is(ctx.Err(), context.Canceled) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, next time.Duration) {
		metrics.RPCRetries.WithLabelValues(op).Inc()
	})
	if err == nil {
		return nil
	}
	if errors.As(err, &surfaced) {
		return err
	}
	if IsTimeout(err) {
		return &RPCTimeoutError{Op: op, Attempts: attempts, Err: err}
	}
	return err
}
