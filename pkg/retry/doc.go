// Package retry provides backoff strategies and a bounded retry helper.
//
// Do runs an operation until it succeeds, returns a non-retryable error,
// exhausts MaxAttempts, or the context is cancelled. DefaultRetryIf retries
// only classified errors from mastodb/pkg/errors whose type is retryable.
//
//	instances, err := retry.DoWithResult(ctx, func(ctx context.Context) ([]discovery.Instance, error) {
//	    return client.list(ctx, params)
//	}, &retry.Config{
//	    MaxAttempts: 3,
//	    Backoff:     retry.DefaultExponentialBackoff(),
//	    Logger:      log,
//	})
//
// The pagination engine uses ExponentialBackoff and Wait directly, because a
// failed page is retried by the next loop cycle rather than inside a closure.
package retry
