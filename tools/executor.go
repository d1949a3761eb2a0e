// Tool Executor with Retry Logic.
//
// Information Hiding:
// - Retry strategy implementation hidden
// - Backoff algorithm hidden
// - Error classification logic hidden

package tools

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Executor runs tools with validation and bounded retries. Only transient
// failures are retried; anything a retry cannot fix is returned immediately
// so the model sees it and adjusts.
type Executor struct {
	maxRetries int
}

// NewExecutor creates a tool executor with the given retry budget.
func NewExecutor(maxRetries int) *Executor {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Executor{maxRetries: maxRetries}
}

// Execute validates and runs a tool, retrying transient failures with
// exponential backoff. Failures surface as failed ToolResults, not errors;
// the returned error is reserved for context cancellation.
func (e *Executor) Execute(ctx context.Context, tool Tool, args json.RawMessage) (ToolResult, error) {
	if err := tool.Validate(args); err != nil {
		return FailureResultf("validation failed: %s", err), nil
	}

	var last ToolResult
	for attempt := 0; attempt < e.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ToolResult{}, ctx.Err()
			case <-time.After(backoff(attempt)):
			}
		}

		result, err := tool.Execute(ctx, args)
		if err != nil {
			// Tools report their own failures as results; a returned error
			// means the execution machinery itself broke.
			return ToolResult{}, err
		}
		if result.Success() || !retryable(result) {
			return result, nil
		}
		last = result
	}

	return last, nil
}

func backoff(attempt int) time.Duration {
	const (
		baseDelay = 100 * time.Millisecond
		maxDelay  = 5 * time.Second
	)

	delay := baseDelay * time.Duration(1<<attempt)
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// retryable reports whether a failed result is worth retrying.
func retryable(result ToolResult) bool {
	if result.Error == nil {
		return false
	}
	errLower := strings.ToLower(result.Error.Error())

	retryableMarkers := []string{"timeout", "timed out", "connection", "network", "temporarily", "busy"}
	for _, s := range retryableMarkers {
		if strings.Contains(errLower, s) {
			return true
		}
	}
	return false
}
