package repair

import (
	"fmt"

	"sessiontoken/internal/token"
)

// ReplicaToken is the session token a replica reported for a partition.
type ReplicaToken struct {
	Replica string
	Token   *token.Token
}

// ReconcileResult represents the result of reconciling replica tokens.
type ReconcileResult struct {
	// Merged is the join of every reported token, nil if none was reported.
	Merged *token.Token

	// Current lists replicas whose token already satisfies Merged.
	Current []string

	// Stale lists replicas whose token is behind Merged.
	Stale []string
}

// Reconcile merges the tokens reported by replicas and classifies each
// replica as current or stale against the merged token. Replicas that
// reported no token are ignored. A consistency fault between any two tokens
// aborts reconciliation.
func Reconcile(values []ReplicaToken) (ReconcileResult, error) {
	result := ReconcileResult{
		Current: []string{},
		Stale:   []string{},
	}

	for _, v := range values {
		if v.Token == nil {
			continue
		}
		if result.Merged == nil {
			result.Merged = v.Token
			continue
		}
		merged, err := token.Merge(result.Merged, v.Token)
		if err != nil {
			return ReconcileResult{}, fmt.Errorf("reconcile replica %s: %w", v.Replica, err)
		}
		result.Merged = merged
	}

	if result.Merged == nil {
		return result, nil
	}

	for _, v := range values {
		if v.Token == nil {
			continue
		}
		ok, err := token.IsValid(result.Merged, v.Token)
		if err != nil {
			return ReconcileResult{}, fmt.Errorf("reconcile replica %s: %w", v.Replica, err)
		}
		if ok {
			result.Current = append(result.Current, v.Replica)
		} else {
			result.Stale = append(result.Stale, v.Replica)
		}
	}

	return result, nil
}

// Satisfying returns the replicas whose token satisfies required, in input order.
func Satisfying(values []ReplicaToken, required *token.Token) ([]string, error) {
	replicas := make([]string, 0, len(values))
	for _, v := range values {
		if v.Token == nil {
			continue
		}
		ok, err := token.IsValid(required, v.Token)
		if err != nil {
			return nil, fmt.Errorf("replica %s: %w", v.Replica, err)
		}
		if ok {
			replicas = append(replicas, v.Replica)
		}
	}
	return replicas, nil
}

// HasStale returns true if at least one replica is behind the merged token.
func (r *ReconcileResult) HasStale() bool {
	return len(r.Stale) > 0
}

// IsEmpty returns true if no replica reported a token.
func (r *ReconcileResult) IsEmpty() bool {
	return r.Merged == nil
}
