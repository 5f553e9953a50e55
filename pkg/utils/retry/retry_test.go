package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/m-mizutani/castmate/pkg/utils/retry"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"google.golang.org/genai"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var fastPolicy = retry.Policy{
	Timeout:     time.Second,
	MaxAttempts: 3,
	BaseDelay:   time.Millisecond,
	MaxDelay:    2 * time.Millisecond,
}

func TestDoRetriesTransientErrors(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), fastPolicy, "test", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return status.Error(codes.Unavailable, "try again")
		}
		return nil
	})
	gt.NoError(t, err)
	gt.Equal(t, calls, 3)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), fastPolicy, "test", func(ctx context.Context) error {
		calls++
		return errors.New("bad request")
	})
	gt.Error(t, err)
	gt.Equal(t, calls, 1)
}

func TestDoGivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), fastPolicy, "test", func(ctx context.Context) error {
		calls++
		return genai.APIError{Code: 503, Message: "overloaded"}
	})
	gt.Error(t, err)
	gt.Equal(t, calls, 3)
}

func TestOnceNeverRetries(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), fastPolicy.Once(), "test", func(ctx context.Context) error {
		calls++
		return status.Error(codes.Unavailable, "try again")
	})
	gt.Error(t, err)
	gt.Equal(t, calls, 1)
}

func TestDoAppliesTimeout(t *testing.T) {
	p := retry.Policy{Timeout: 10 * time.Millisecond, MaxAttempts: 1}
	err := retry.Do(context.Background(), p, "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	gt.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestIsRetryable(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"rate limited", genai.APIError{Code: 429}, true},
		{"server error", genai.APIError{Code: 500}, true},
		{"client error", genai.APIError{Code: 400}, false},
		{"grpc unavailable", status.Error(codes.Unavailable, "x"), true},
		{"wrapped grpc unavailable", goerr.Wrap(status.Error(codes.Unavailable, "x"), "wrapped"), true},
		{"grpc not found", status.Error(codes.NotFound, "x"), false},
		{"plain", errors.New("x"), false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gt.Equal(t, retry.IsRetryable(tc.err), tc.want)
		})
	}
}
