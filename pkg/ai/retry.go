package ai

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// isRetryableError checks if the error is worth another attempt: network
// failures and rate limiting are, malformed responses are not.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if _, ok := err.(net.Error); ok {
		return true
	}

	errStr := strings.ToLower(err.Error())
	retryIndicators := []string{
		"connection refused",
		"no such host",
		"network is unreachable",
		"connection reset",
		"timeout",
		"dial tcp",
		"429",
		"rate limit",
		"too many requests",
		"500",
		"502",
		"503",
	}
	for _, indicator := range retryIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}

// RetryingService wraps an EmbeddingService with exponential backoff on
// transient failures.
type RetryingService struct {
	inner       EmbeddingService
	maxAttempts uint64
}

func NewRetryingService(inner EmbeddingService, maxAttempts int) *RetryingService {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RetryingService{inner: inner, maxAttempts: uint64(maxAttempts)}
}

func (r *RetryingService) Dimension() int {
	return r.inner.Dimension()
}

func (r *RetryingService) Embed(ctx context.Context, text string) ([]float32, error) {
	var vector []float32

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 10 * time.Second

	operation := func() error {
		v, err := r.inner.Embed(ctx, text)
		if err != nil {
			if isRetryableError(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		vector = v
		return nil
	}

	err := backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, r.maxAttempts-1), ctx))
	if err != nil {
		return nil, err
	}
	return vector, nil
}
