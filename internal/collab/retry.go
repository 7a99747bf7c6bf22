package collab

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fleetgrid/control-plane/pkg/contracts"
)

// runWithRetry retries fn up to maxAttempts times with exponential backoff,
// the way the teacher's notify.Service.sendWithRetries retries webhook
// delivery — generalized here from a fixed sleep loop to cenkalti/backoff's
// ExponentialBackOff so a caller's ctx deadline is respected.
func runWithRetry(ctx context.Context, maxAttempts int, fn func(ctx context.Context) (*contracts.ModelResult, error)) (*contracts.ModelResult, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bounded := backoff.WithMaxRetries(bo, uint64(maxAttempts))
	withCtx := backoff.WithContext(bounded, ctx)

	var result *contracts.ModelResult
	err := backoff.Retry(func() error {
		r, err := fn(ctx)
		if err != nil {
			return err
		}
		result = r
		return nil
	}, withCtx)
	return result, err
}

// runErrWithRetry is the error-only variant for calls that don't return a
// typed payload; StubMessageBus uses it for webhook deliveries.
func runErrWithRetry(ctx context.Context, maxAttempts int, fn func(ctx context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bounded := backoff.WithMaxRetries(bo, uint64(maxAttempts))
	withCtx := backoff.WithContext(bounded, ctx)

	return backoff.Retry(func() error {
		return fn(ctx)
	}, withCtx)
}
