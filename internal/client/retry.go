package client

import (
	"context"
	"time"

	"github.com/nghyane/restbridge/internal/config"
)

// RetryConfig bounds the retry engine. Attempt n (1-indexed) waits
// BaseDelay << (n-1) before replaying.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultRetryConfig mirrors the configuration defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: config.DefaultMaxRetries,
		BaseDelay:  time.Duration(config.DefaultBaseDelayMs) * time.Millisecond,
	}
}

// retryableCodes is the fixed set of transient failures worth replaying.
// 429 is deliberately terminal and 408 deliberately retryable: the partition
// is product policy and changing it changes observable backoff behavior.
var retryableCodes = map[int]struct{}{
	CodeTransport: {},
	408:           {},
	500:           {},
	502:           {},
	503:           {},
	504:           {},
}

func retryable(code int) bool {
	_, ok := retryableCodes[code]
	return ok
}

// backoffDelay returns the wait before retry n (1-indexed).
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

// waitBackoff sleeps for d or returns early when ctx is canceled.
func waitBackoff(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
