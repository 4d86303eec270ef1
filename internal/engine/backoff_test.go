package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"cronflow/internal/domain"
	"cronflow/internal/executor"
)

func TestBackoff(t *testing.T) {
	tests := []struct {
		name   string
		policy domain.RetryPolicy
		retry  int
		want   time.Duration
	}{
		{"fixed first", domain.RetryPolicy{Backoff: domain.BackoffFixed, InitialDelay: time.Second, MaxDelay: time.Minute}, 0, time.Second},
		{"fixed later", domain.RetryPolicy{Backoff: domain.BackoffFixed, InitialDelay: time.Second, MaxDelay: time.Minute}, 5, time.Second},
		{"linear first", domain.RetryPolicy{Backoff: domain.BackoffLinear, InitialDelay: time.Second, MaxDelay: time.Minute}, 0, time.Second},
		{"linear third", domain.RetryPolicy{Backoff: domain.BackoffLinear, InitialDelay: time.Second, MaxDelay: time.Minute}, 2, 3 * time.Second},
		{"linear clamped", domain.RetryPolicy{Backoff: domain.BackoffLinear, InitialDelay: time.Second, MaxDelay: 4 * time.Second}, 9, 4 * time.Second},
		{"exponential first", domain.RetryPolicy{Backoff: domain.BackoffExponential, InitialDelay: time.Second, MaxDelay: time.Minute}, 0, time.Second},
		{"exponential fourth", domain.RetryPolicy{Backoff: domain.BackoffExponential, InitialDelay: time.Second, MaxDelay: time.Minute}, 3, 8 * time.Second},
		{"exponential clamped", domain.RetryPolicy{Backoff: domain.BackoffExponential, InitialDelay: time.Second, MaxDelay: 10 * time.Second}, 30, 10 * time.Second},
		{"unknown type falls back to fixed", domain.RetryPolicy{Backoff: "bogus", InitialDelay: time.Second, MaxDelay: time.Minute}, 4, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Backoff(tt.policy, tt.retry))
		})
	}
}

func TestBackoffMonotoneUntilClamp(t *testing.T) {
	for _, kind := range []domain.BackoffType{domain.BackoffLinear, domain.BackoffExponential} {
		p := domain.RetryPolicy{Backoff: kind, InitialDelay: 100 * time.Millisecond, MaxDelay: 10 * time.Second}
		prev := Backoff(p, 0)
		for n := 1; n < 40; n++ {
			cur := Backoff(p, n)
			assert.GreaterOrEqual(t, cur, prev, "%s backoff must not shrink at n=%d", kind, n)
			assert.LessOrEqual(t, cur, p.MaxDelay, "%s backoff exceeds MaxDelay at n=%d", kind, n)
			prev = cur
		}
	}
}

func TestRetryableAllowlist(t *testing.T) {
	timeout := &executor.Error{Kind: executor.KindTimeout, Err: errors.New("slow")}
	httpErr := &executor.Error{Kind: executor.KindHTTP, Err: errors.New("500")}

	open := domain.RetryPolicy{}
	assert.True(t, retryable(open, httpErr), "empty allowlist retries everything")

	gated := domain.RetryPolicy{RetryOn: []string{executor.KindTimeout, executor.KindNetwork}}
	assert.True(t, retryable(gated, timeout))
	assert.False(t, retryable(gated, httpErr))
}
