package retry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/m-mizutani/castmate/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Policy controls per-call timeout and bounded exponential backoff
type Policy struct {
	Timeout     time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Default is applied to idempotent external calls (embedding, similarity search)
var Default = Policy{
	Timeout:     30 * time.Second,
	MaxAttempts: 3,
	BaseDelay:   200 * time.Millisecond,
	MaxDelay:    2 * time.Second,
}

// Once runs a call a single time under the policy timeout. Used for non-idempotent calls.
func (p Policy) Once() Policy {
	p.MaxAttempts = 1
	return p
}

// Do runs fn with a per-attempt timeout and retries retryable failures.
func Do(ctx context.Context, p Policy, name string, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.BaseDelay

	var lastErr error
	for i := 0; i < attempts; i++ {
		lastErr = runOnce(ctx, p.Timeout, fn)
		if lastErr == nil {
			return nil
		}
		if i == attempts-1 || !IsRetryable(lastErr) {
			break
		}

		logging.From(ctx).Debug("retrying call", "name", name, "attempt", i+1, "error", lastErr)
		select {
		case <-ctx.Done():
			return goerr.Wrap(ctx.Err(), "context done while waiting for retry", goerr.V("name", name))
		case <-time.After(delay):
		}

		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	return lastErr
}

func runOnce(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(callCtx)
}

// IsRetryable reports whether err is a transient failure worth another attempt
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
	}

	if st, ok := status.FromError(err); ok {
		return retryableCode(st.Code())
	}

	return false
}

func retryableCode(code codes.Code) bool {
	switch code {
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Aborted:
		return true
	default:
		return false
	}
}
