package gateway

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"

	pkgerrors "github.com/angelmondragon/bazaar-backend/pkg/errors"
)

const verifyBackoffBase = 250 * time.Millisecond

// VerifyPolicy bounds a verify call. Refunds never go through this path.
type VerifyPolicy struct {
	Timeout  time.Duration
	Attempts uint64
}

// VerifyWithRetry retries transport and provider failures with exponential
// backoff until the attempts or the timeout run out. Validation failures are
// returned immediately.
func VerifyWithRetry(ctx context.Context, adapter Adapter, reference string, policy VerifyPolicy) (*VerifyResult, error) {
	if policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, policy.Timeout)
		defer cancel()
	}
	attempts := policy.Attempts
	if attempts == 0 {
		attempts = 1
	}

	backoff := retry.WithMaxRetries(attempts-1, retry.NewExponential(verifyBackoffBase))
	res, err := retry.DoValue(ctx, backoff, func(ctx context.Context) (*VerifyResult, error) {
		res, err := adapter.Verify(ctx, reference)
		if err == nil {
			return res, nil
		}
		if pkgerrors.Transient(err) {
			return nil, retry.RetryableError(err)
		}
		return nil, err
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "verify payment")
	}
	return res, nil
}
