package persistence

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
)

// withRetry runs a write up to 3 times in total (the first try plus two
// retries) with bounded backoff.
func withRetry(ctx context.Context, fn func() error) error {
	return retry.Do(
 fn,
 retry.Context(ctx),
 retry.Attempts(3),
 retry.Delay(50*time.Millisecond),
 retry.DelayType(retry.BackOffDelay),
	)
}
