package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sessiontoken/internal/quorum"
	"sessiontoken/internal/repair"
	"sessiontoken/internal/token"
)

// QuorumReadResult is the outcome of a read fanned out to every replica.
type QuorumReadResult struct {
	Value   []byte
	Found   bool
	Replica string       // replica the value was taken from
	Token   *token.Token // join of every replica token
	Stale   []string     // replicas behind Token, repaired in the background
}

// ReadQuorum reads key from every replica, waits for r answers including one
// that satisfies the client's session token, and returns that replica's
// value. Replica tokens are reconciled and stale replicas are repaired
// asynchronously.
func (cm *ClientManager) ReadQuorum(ctx context.Context, addrs []string, pk, key string, r int) (*QuorumReadResult, error) {
	required, _ := cm.sessions.Get(pk)

	readFn := func(ctx context.Context, addr string) (quorum.Reply, error) {
		client, err := cm.GetClient(addr)
		if err != nil {
			return quorum.Reply{}, err
		}
		value, t, err := client.Read(WithoutSessionToken(ctx), pk, key)
		switch {
		case err == nil:
			return quorum.Reply{Value: value, Token: t, Found: true}, nil
		case errors.Is(err, ErrNotFound) && t != nil:
			return quorum.Reply{Token: t}, nil
		default:
			return quorum.Reply{}, err
		}
	}

	replies, err := quorum.Read(ctx, addrs, r, required, readFn)
	if errors.Is(err, quorum.ErrSessionNotSatisfied) {
		return nil, fmt.Errorf("%w: %w", ErrReadSessionNotAvailable, err)
	}
	if err != nil {
		return nil, fmt.Errorf("quorum read of %s/%s: %w", pk, key, err)
	}

	replicaTokens := make([]repair.ReplicaToken, 0, len(replies))
	byReplica := make(map[string]quorum.Reply, len(replies))
	for _, v := range replies {
		replicaTokens = append(replicaTokens, repair.ReplicaToken{Replica: v.Replica, Token: v.Token})
		byReplica[v.Replica] = v
	}

	reconciled, err := repair.Reconcile(replicaTokens)
	if err != nil {
		return nil, err
	}
	if reconciled.IsEmpty() {
		return nil, fmt.Errorf("quorum read of %s/%s: no replica reported a session token", pk, key)
	}

	candidates := reconciled.Current
	if required != nil {
		if candidates, err = repair.Satisfying(replicaTokens, required); err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			return nil, fmt.Errorf("%w: no replica satisfies %s", ErrReadSessionNotAvailable, required)
		}
	}
	if len(candidates) == 0 {
		// Replicas are concurrently ahead of each other; any of them will do.
		candidates = append(reconciled.Current, reconciled.Stale...)
	}

	if _, err := cm.sessions.Merge(pk, reconciled.Merged); err != nil {
		return nil, err
	}

	repairer := repair.NewReadRepairer(cm.syncReplica, 2*time.Second)
	repairer.Repair(pk, reconciled.Merged, reconciled.Stale)

	chosen := byReplica[pickMostAdvanced(candidates, byReplica)]
	return &QuorumReadResult{
		Value:   chosen.Value,
		Found:   chosen.Found,
		Replica: chosen.Replica,
		Token:   reconciled.Merged,
		Stale:   reconciled.Stale,
	}, nil
}

// Replicate pushes t to every replica and returns once w have merged it. The
// replies carry each acknowledging replica's merged progress.
func (cm *ClientManager) Replicate(ctx context.Context, addrs []string, pk string, t *token.Token, w int) ([]quorum.Reply, error) {
	syncFn := func(ctx context.Context, addr string) (quorum.Reply, error) {
		client, err := cm.GetClient(addr)
		if err != nil {
			return quorum.Reply{}, err
		}
		merged, err := client.Sync(ctx, pk, t)
		if err != nil {
			return quorum.Reply{}, err
		}
		return quorum.Reply{Token: merged}, nil
	}

	replies, err := quorum.Write(ctx, addrs, w, syncFn)
	if err != nil {
		return nil, fmt.Errorf("replicate %s: %w", pk, err)
	}
	return replies, nil
}

// Exchange pushes t to the replica at addr and returns the replica's merged
// progress. The call carries no session token.
func (cm *ClientManager) Exchange(ctx context.Context, addr, pk string, t *token.Token) (*token.Token, error) {
	client, err := cm.GetClient(addr)
	if err != nil {
		return nil, err
	}
	return client.Sync(WithoutSessionToken(ctx), pk, t)
}

func (cm *ClientManager) syncReplica(ctx context.Context, addr, pk string, t *token.Token) error {
	client, err := cm.GetClient(addr)
	if err != nil {
		return err
	}
	_, err = client.Sync(ctx, pk, t)
	return err
}

// pickMostAdvanced returns the candidate with the highest global LSN. Among
// equally advanced candidates one holding the key wins, then the earlier one.
func pickMostAdvanced(candidates []string, values map[string]quorum.Reply) string {
	best := candidates[0]
	for _, c := range candidates[1:] {
		cur, top := values[c], values[best]
		switch {
		case cur.Token.GlobalLSN() > top.Token.GlobalLSN():
			best = c
		case cur.Token.GlobalLSN() == top.Token.GlobalLSN() && cur.Found && !top.Found:
			best = c
		}
	}
	return best
}
