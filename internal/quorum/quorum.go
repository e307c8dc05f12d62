package quorum

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sessiontoken/internal/token"
)

const (
	// DefaultPerReplicaTimeout bounds a whole fan-out, including replicas
	// that never answer.
	DefaultPerReplicaTimeout = 2 * time.Second
)

var (
	// ErrNoReplicas is returned when a fan-out is given no replicas.
	ErrNoReplicas = errors.New("no replicas provided")

	// ErrQuorumNotMet is returned when fewer replicas answered than required.
	ErrQuorumNotMet = errors.New("quorum not met")

	// ErrSessionNotSatisfied is returned when enough replicas answered but
	// none of them has caught up with the required session token.
	ErrSessionNotSatisfied = errors.New("no replica satisfies the session token")
)

// Reply is a replica's answer for one partition: its progress token and, for
// reads, the item.
type Reply struct {
	Replica string
	Token   *token.Token
	Value   []byte
	Found   bool
}

// Satisfies reports whether the replica has caught up with required. Every
// reply satisfies a nil token. Tokens with inconsistent regions never do;
// callers that care about the fault check the tokens themselves.
func (r Reply) Satisfies(required *token.Token) bool {
	if required == nil {
		return true
	}
	if r.Token == nil {
		return false
	}
	ok, err := token.IsValid(required, r.Token)
	return err == nil && ok
}

// Func calls a single replica. Reply.Replica is filled in by the fan-out.
type Func func(ctx context.Context, replica string) (Reply, error)

// Read calls every replica in parallel and returns as soon as r of them
// answered and at least one answer satisfies required. Without a session
// (required == nil) the first r answers are enough. If every replica answered
// and none satisfies the session the replies are returned together with
// ErrSessionNotSatisfied. r <= 0 means a majority.
func Read(ctx context.Context, replicas []string, r int, required *token.Token, fn Func) ([]Reply, error) {
	return fanOut(ctx, replicas, r, required, fn)
}

// Write calls every replica in parallel and returns once w of them
// acknowledged. w <= 0 means a majority.
func Write(ctx context.Context, replicas []string, w int, fn Func) ([]Reply, error) {
	return fanOut(ctx, replicas, w, nil, fn)
}

type answer struct {
	reply Reply
	err   error
}

func fanOut(ctx context.Context, replicas []string, need int, required *token.Token, fn Func) ([]Reply, error) {
	if len(replicas) == 0 {
		return nil, ErrNoReplicas
	}
	if need <= 0 {
		need = len(replicas)/2 + 1 // default: majority
	}
	if need > len(replicas) {
		return nil, fmt.Errorf("%w: need %d answers from %d replicas", ErrQuorumNotMet, need, len(replicas))
	}

	// Replicas still in flight when the fan-out returns are cancelled
	ctx, cancel := context.WithTimeout(ctx, DefaultPerReplicaTimeout)
	defer cancel()

	answers := make(chan answer, len(replicas))
	for _, replica := range replicas {
		go func(replica string) {
			reply, err := fn(ctx, replica)
			reply.Replica = replica
			answers <- answer{reply: reply, err: err}
		}(replica)
	}

	var (
		replies   []Reply
		errs      []error
		satisfied bool
	)
	for pending := len(replicas); pending > 0; pending-- {
		select {
		case a := <-answers:
			if a.err != nil {
				errs = append(errs, fmt.Errorf("replica %s: %w", a.reply.Replica, a.err))
				break
			}
			replies = append(replies, a.reply)
			satisfied = satisfied || a.reply.Satisfies(required)
		case <-ctx.Done():
			return replies, fmt.Errorf("%w: %d of %d answers: %w", ErrQuorumNotMet, len(replies), need, ctx.Err())
		}

		if len(replies) >= need && satisfied {
			return replies, nil
		}
		if len(replies)+pending-1 < need {
			break
		}
	}

	if len(replies) < need {
		return replies, fmt.Errorf("%w: %d of %d answers: %w", ErrQuorumNotMet, len(replies), need, errors.Join(errs...))
	}
	return replies, fmt.Errorf("%w: %s", ErrSessionNotSatisfied, required)
}
