package gossip

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"sync"
	"time"

	"sessiontoken/internal/config"
	"sessiontoken/internal/storage"
	"sessiontoken/internal/token"
)

// PeerStatus represents the reachability of a peer replica.
type PeerStatus int

const (
	Alive PeerStatus = iota
	Suspect
)

// String returns the string representation of PeerStatus.
func (s PeerStatus) String() string {
	switch s {
	case Alive:
		return "ALIVE"
	case Suspect:
		return "SUSPECT"
	default:
		return "UNKNOWN"
	}
}

// Peer is a replica progress is exchanged with.
type Peer struct {
	ID       string
	Addr     string
	Status   PeerStatus
	LastSeen time.Time
	Failures int
}

// ExchangeFunc pushes the local token of pk to the peer at addr and returns
// the peer's progress after merging it.
type ExchangeFunc func(ctx context.Context, addr, pk string, t *token.Token) (*token.Token, error)

// AntiEntropy periodically exchanges partition progress with a random peer,
// so replicas converge even when no client reads trigger repair.
type AntiEntropy struct {
	mu      sync.RWMutex
	localID string
	store   storage.Store
	peers   map[string]*Peer // id -> Peer

	interval time.Duration

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAntiEntropy creates an anti-entropy loop over store.
func NewAntiEntropy(localID string, store storage.Store, interval time.Duration) *AntiEntropy {
	if interval <= 0 {
		interval = 1 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &AntiEntropy{
		localID:  localID,
		store:    store,
		peers:    make(map[string]*Peer),
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// AddPeers adds peers to exchange with. The local node and known peers are
// skipped.
func (a *AntiEntropy) AddPeers(peers []config.Peer) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, p := range peers {
		if p.ID == a.localID {
			continue
		}
		if _, exists := a.peers[p.ID]; !exists {
			a.peers[p.ID] = &Peer{
				ID:       p.ID,
				Addr:     p.Addr,
				Status:   Alive, // Assume alive initially
				LastSeen: time.Now(),
			}
		}
	}
}

// Start runs exchange rounds until Stop.
func (a *AntiEntropy) Start(exchange ExchangeFunc) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()

		for {
			select {
			case <-a.ctx.Done():
				return
			case <-ticker.C:
				a.Round(a.ctx, exchange)
			}
		}
	}()
}

// Stop stops the exchange loop.
func (a *AntiEntropy) Stop() {
	a.cancel()
	a.wg.Wait()
}

// Round exchanges every partition with one random peer, preferring alive
// ones, and returns the id of the peer, or "" if there is none.
func (a *AntiEntropy) Round(ctx context.Context, exchange ExchangeFunc) string {
	target, ok := a.pickPeer()
	if !ok {
		return ""
	}

	roundCtx, cancel := context.WithTimeout(ctx, a.interval)
	defer cancel()

	err := a.exchangeWith(roundCtx, target.Addr, exchange)
	a.mu.Lock()
	defer a.mu.Unlock()

	peer, exists := a.peers[target.ID]
	if !exists {
		return target.ID
	}
	if err == nil {
		if peer.Status != Alive {
			log.Printf("[%s] Marked %s as ALIVE", a.localID, peer.ID)
		}
		peer.Status = Alive
		peer.Failures = 0
		peer.LastSeen = time.Now()
	} else {
		peer.Failures++
		if peer.Status == Alive {
			peer.Status = Suspect
			log.Printf("[%s] Marked %s as SUSPECT (exchange failed: %v)", a.localID, peer.ID, err)
		}
	}
	return target.ID
}

// exchangeWith sends the progress of every local partition to addr and
// applies what the peer answers. A peer whose token conflicts with ours is
// logged and skipped for that partition.
func (a *AntiEntropy) exchangeWith(ctx context.Context, addr string, exchange ExchangeFunc) error {
	for _, pk := range a.store.Partitions() {
		remote, err := exchange(ctx, addr, pk, a.store.Progress(pk))
		if err != nil {
			if errors.Is(err, token.ErrInconsistentRegions) {
				log.Printf("[%s] Anti-entropy: partition %s conflicts with %s: %v", a.localID, pk, addr, err)
				continue
			}
			return err
		}
		if _, err := a.store.Apply(pk, remote); err != nil {
			log.Printf("[%s] Anti-entropy: partition %s from %s rejected: %v", a.localID, pk, addr, err)
		}
	}
	return nil
}

func (a *AntiEntropy) pickPeer() (Peer, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	alive := make([]*Peer, 0, len(a.peers))
	all := make([]*Peer, 0, len(a.peers))
	for _, p := range a.peers {
		all = append(all, p)
		if p.Status == Alive {
			alive = append(alive, p)
		}
	}

	// Suspects are still retried when nobody else is reachable
	candidates := alive
	if len(candidates) == 0 {
		candidates = all
	}
	if len(candidates) == 0 {
		return Peer{}, false
	}
	return *candidates[rand.Intn(len(candidates))], true
}

// Snapshot returns a copy of all peers.
func (a *AntiEntropy) Snapshot() []Peer {
	a.mu.RLock()
	defer a.mu.RUnlock()

	snapshot := make([]Peer, 0, len(a.peers))
	for _, p := range a.peers {
		snapshot = append(snapshot, *p)
	}
	return snapshot
}
