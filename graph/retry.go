package graph

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// BackoffStrategy determines how the delay between retry attempts grows.
type BackoffStrategy int

const (
	// BackoffFixed waits BaseDelay between every attempt.
	BackoffFixed BackoffStrategy = iota

	// BackoffExponential doubles the delay after each attempt.
	BackoffExponential

	// BackoffLinear grows the delay by BaseDelay after each attempt.
	BackoffLinear
)

// String returns the strategy name.
func (b BackoffStrategy) String() string {
	switch b {
	case BackoffFixed:
		return "fixed"
	case BackoffExponential:
		return "exponential"
	case BackoffLinear:
		return "linear"
	default:
		return "unknown"
	}
}

// RetryPolicy configures retry behavior for node execution. A policy set on
// the graph applies to every node; NewRetryNode overrides it per node.
type RetryPolicy struct {
	// MaxRetries is the number of attempts after the first failure.
	MaxRetries int

	// Backoff selects how the delay grows between attempts.
	Backoff BackoffStrategy

	// BaseDelay is the initial delay between attempts.
	BaseDelay time.Duration

	// MaxDelay caps the delay; zero means no cap.
	MaxDelay time.Duration

	// RetryIf determines whether an error should trigger a retry.
	// When nil every error is retried.
	RetryIf func(error) bool
}

// DefaultRetryPolicy returns a policy with three retries and exponential
// backoff starting at 100ms.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries: 3,
		Backoff:    BackoffExponential,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   5 * time.Second,
	}
}

// delay computes the wait before the given retry attempt, counted from 1.
func (p *RetryPolicy) delay(attempt int) time.Duration {
	var d time.Duration
	switch p.Backoff {
	case BackoffExponential:
		d = p.BaseDelay << (attempt - 1)
	case BackoffLinear:
		d = p.BaseDelay * time.Duration(attempt)
	default:
		d = p.BaseDelay
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// retryable reports whether the error should trigger another attempt.
// Interrupts are control flow, never failures, so they are never retried.
func (p *RetryPolicy) retryable(err error) bool {
	var ni *NodeInterrupt
	if errors.As(err, &ni) {
		return false
	}
	if p.RetryIf != nil {
		return p.RetryIf(err)
	}
	return true
}

// execute runs fn under the policy, sleeping between attempts.
func (p *RetryPolicy) execute(ctx context.Context, name string, fn func() (*NodeOutput, error)) (*NodeOutput, error) {
	var lastErr error

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("retry cancelled: %w", ctx.Err())
		default:
		}

		out, err := fn()
		if err == nil {
			return out, nil
		}
		lastErr = err

		if !p.retryable(err) {
			return nil, err
		}
		if attempt == p.MaxRetries {
			break
		}

		select {
		case <-time.After(p.delay(attempt + 1)):
		case <-ctx.Done():
			return nil, fmt.Errorf("retry cancelled during backoff: %w", ctx.Err())
		}
	}

	return nil, fmt.Errorf("max retries (%d) exceeded for %s: %w", p.MaxRetries, name, lastErr)
}

// RetryNode wraps a node with its own retry policy, overriding any
// graph-wide policy for that node.
type RetryNode struct {
	node   Node
	policy *RetryPolicy
}

// NewRetryNode creates a retry wrapper around node. A nil policy uses
// DefaultRetryPolicy.
func NewRetryNode(node Node, policy *RetryPolicy) *RetryNode {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	return &RetryNode{
		node:   node,
		policy: policy,
	}
}

// Name returns the wrapped node's name.
func (rn *RetryNode) Name() string {
	return rn.node.Name()
}

// Execute runs the wrapped node under the retry policy.
func (rn *RetryNode) Execute(ctx context.Context, nc *NodeContext) (*NodeOutput, error) {
	return rn.policy.execute(ctx, rn.node.Name(), func() (*NodeOutput, error) {
		return rn.node.Execute(ctx, nc)
	})
}
