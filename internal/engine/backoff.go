package engine

import (
	"time"

	"cronflow/internal/domain"
	"cronflow/internal/executor"
)

// Backoff computes the delay before the retry with the given zero-based
// retryCount. The result never exceeds the policy's MaxDelay.
func Backoff(p domain.RetryPolicy, retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}

	var d time.Duration
	switch p.Backoff {
	case domain.BackoffLinear:
		d = p.InitialDelay * time.Duration(retryCount+1)
	case domain.BackoffExponential:
		d = p.InitialDelay
		for i := 0; i < retryCount; i++ {
			d *= 2
			if p.MaxDelay > 0 && d >= p.MaxDelay {
				break
			}
		}
	default: // fixed
		d = p.InitialDelay
	}

	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// retryable reports whether err qualifies for a retry under the policy's
// RetryOn allowlist. An empty allowlist retries every error kind.
func retryable(p domain.RetryPolicy, err error) bool {
	if len(p.RetryOn) == 0 {
		return true
	}
	kind := executor.Kind(err)
	for _, allowed := range p.RetryOn {
		if allowed == kind {
			return true
		}
	}
	return false
}
