package chat

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy defines retry behavior for model calls.
type RetryPolicy struct {
	MaxRetries   int           // Maximum number of retry attempts (0 = no retries)
	InitialDelay time.Duration // Initial delay before first retry
	MaxDelay     time.Duration // Maximum delay cap
	Multiplier   float64       // Exponential backoff multiplier (e.g., 2.0)
	Jitter       bool          // Whether to add random jitter to delays
}

// DefaultRetryPolicy returns the policy used for model calls when the
// caller does not supply one.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   2,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     8 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// RetryableFunc is a function that can be retried.
type RetryableFunc[T any] func(ctx context.Context) (T, error)

// RetryWithPolicy executes fn with retry logic based on the policy.
// Returns the result on success, or the last error if all retries are
// exhausted.
func RetryWithPolicy[T any](
	ctx context.Context,
	policy RetryPolicy,
	fn RetryableFunc[T],
	classifyError func(error) RetryClass,
	onRetry func(attempt int, delay time.Duration, err error),
) (T, error) {
	var zero T

	attempt := 0

	for {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		class := classifyError(err)
		if class == RetryClassNonRetryable {
			return zero, err
		}

		if attempt >= policy.MaxRetries {
			return zero, &RetryExhaustedError{LastErr: err, Attempts: attempt}
		}

		// For "maybe" class, limit to 1-2 retries.
		if class == RetryClassMaybe && attempt >= 2 {
			return zero, &RetryExhaustedError{LastErr: err, Attempts: attempt, Limited: true}
		}

		delay := calculateDelay(policy, attempt)

		if onRetry != nil {
			onRetry(attempt+1, delay, err)
		}

		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		case <-time.After(delay):
		}

		attempt++
	}
}

// calculateDelay computes the delay for a retry attempt.
func calculateDelay(policy RetryPolicy, attempt int) time.Duration {
	// Exponential backoff: initialDelay * (multiplier ^ attempt)
	delay := float64(policy.InitialDelay) * math.Pow(policy.Multiplier, float64(attempt))

	if delay > float64(policy.MaxDelay) {
		delay = float64(policy.MaxDelay)
	}

	// 0-20% random variation
	if policy.Jitter {
		delay += rand.Float64() * 0.2 * delay
	}

	return time.Duration(delay)
}

// WithRetry wraps a model so transient upstream errors are retried
// before surfacing to the caller.
func WithRetry(model Model, policy RetryPolicy) Model {
	return retryingModel{inner: model, policy: policy}
}

type retryingModel struct {
	inner  Model
	policy RetryPolicy
}

func (r retryingModel) Chat(ctx context.Context, messages []Message, opts Options) (Response, error) {
	return RetryModelCall(ctx, r.policy, r.inner, messages, opts,
		func(attempt int, delay time.Duration, err error) {
			log.Printf("model call failed (attempt %d, retrying in %s): %v", attempt, delay, err)
		})
}

// RetryModelCall wraps a model call with retry logic.
func RetryModelCall(
	ctx context.Context,
	policy RetryPolicy,
	model Model,
	messages []Message,
	opts Options,
	onRetry func(attempt int, delay time.Duration, err error),
) (Response, error) {
	return RetryWithPolicy(
		ctx,
		policy,
		func(ctx context.Context) (Response, error) {
			return model.Chat(ctx, messages, opts)
		},
		ClassifyModelError,
		onRetry,
	)
}
