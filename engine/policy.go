package engine

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy governs retry behavior for one node type (spec.md §4.4).
// Grounded on the teacher's graph/policy.go RetryPolicy/computeBackoff, but
// generalized from the teacher's fixed doubling to the spec's configurable
// multiplier, and built on cenkalti/backoff/v4's ExponentialBackOff instead
// of a hand-rolled exponent loop — the same library every swarmguard
// service uses for this purpose.
type RetryPolicy struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	Retryable         func(error) bool

	// Timeout overrides Options.NodeDefaultTimeout for this node type when
	// set, mirroring the teacher's NodePolicy.Timeout precedence: per-type
	// override first, engine-wide default second, never unlimited.
	Timeout time.Duration
}

// TimeoutFor resolves the timeout for one attempt: the policy's own
// Timeout if set, else defaultTimeout.
func (p RetryPolicy) TimeoutFor(defaultTimeout time.Duration) time.Duration {
	if p.Timeout > 0 {
		return p.Timeout
	}
	return defaultTimeout
}

// Validate checks the policy's invariants: MaxAttempts >= 1 and
// BackoffMultiplier >= 1, mirroring the teacher's RetryPolicy.Validate.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return newError(KindInvalidWorkflow, "retry policy MaxAttempts must be >= 1", nil)
	}
	if p.BackoffMultiplier < 1 {
		return newError(KindInvalidWorkflow, "retry policy BackoffMultiplier must be >= 1", nil)
	}
	if p.MaxDelay > 0 && p.MaxDelay < p.InitialDelay {
		return newError(KindInvalidWorkflow, "retry policy MaxDelay must be >= InitialDelay", nil)
	}
	return nil
}

// DefaultRetryPolicy is used for node types with no explicit override.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		InitialDelay:      time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2,
		Retryable:         IsRetryable,
	}
}

// BackoffFor returns the delay before attempt n (1-indexed; the first
// retry is attempt 2), per spec.md §4.4:
// min(initial_delay × multiplier^(n-1), max_delay).
func (p RetryPolicy) BackoffFor(n int) time.Duration {
	if n <= 1 {
		return 0
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialDelay
	eb.Multiplier = p.BackoffMultiplier
	eb.MaxInterval = p.MaxDelay
	eb.RandomizationFactor = 0.1
	eb.MaxElapsedTime = 0 // disable cenkalti/backoff's own give-up timer; MaxAttempts governs that here

	// ExponentialBackOff.NextBackOff() advances one step per call and
	// applies jitter on each; its kth call returns about
	// initial_delay × multiplier^(k-1), so attempt n's delay is the nth
	// call and n-1 calls are stepped through first.
	var d time.Duration
	for i := 1; i < n; i++ {
		eb.NextBackOff()
	}
	d = eb.NextBackOff()
	if d == backoff.Stop {
		return p.MaxDelay
	}
	return d
}

// PolicyTable maps node type to its RetryPolicy, falling back to
// DefaultRetryPolicy for unregistered types.
type PolicyTable struct {
	policies map[string]RetryPolicy
}

// NewPolicyTable returns a PolicyTable with no overrides.
func NewPolicyTable() *PolicyTable {
	return &PolicyTable{policies: make(map[string]RetryPolicy)}
}

// Set registers policy for nodeType.
func (t *PolicyTable) Set(nodeType string, policy RetryPolicy) {
	t.policies[nodeType] = policy
}

// For returns the policy registered for nodeType, or DefaultRetryPolicy.
func (t *PolicyTable) For(nodeType string) RetryPolicy {
	if p, ok := t.policies[nodeType]; ok {
		return p
	}
	return DefaultRetryPolicy()
}
