package node

import (
	"fmt"
	"log"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"sessiontoken/internal/config"
	"sessiontoken/internal/gossip"
	"sessiontoken/internal/ring"
	"sessiontoken/internal/session"
	"sessiontoken/internal/storage"
)

// Node represents a single replica serving the Partition service.
type Node struct {
	nodeID      string
	listenAddr  string
	grpcServer  *grpc.Server
	store       *storage.InMemoryStore
	ranges      *ring.Ring
	peers       *ClientManager
	antiEntropy *gossip.AntiEntropy
	mu          sync.Mutex // Protects grpcServer
}

// NewNode creates a new node instance from configuration. Seed tokens become
// the initial progress of their partitions. Dial options apply to the
// connections the node opens to its peers.
func NewNode(cfg *config.Config, dialOpts ...grpc.DialOption) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	seeds, err := cfg.SeedTokens()
	if err != nil {
		return nil, err
	}

	store := storage.NewInMemoryStore(cfg.RegionID, cfg.GroupRegions()...)
	for pk, t := range seeds {
		if err := store.Seed(pk, t); err != nil {
			return nil, err
		}
		log.Printf("[%s] Seeded partition %s at %s", cfg.NodeID, pk, t)
	}

	ranges := ring.NewRing(cfg.VNodes)
	ranges.SetRanges(cfg.PartitionIDs())

	n := &Node{
		nodeID:     cfg.NodeID,
		listenAddr: cfg.ListenAddr,
		store:      store,
		ranges:     ranges,
	}

	if len(cfg.Peers) > 0 && cfg.GossipInterval > 0 {
		n.peers = NewClientManager(session.NewContainer(), dialOpts...)
		n.antiEntropy = gossip.NewAntiEntropy(cfg.NodeID, store, cfg.GossipInterval)
		n.antiEntropy.AddPeers(cfg.Peers)
	}

	return n, nil
}

// Ranges returns the ring routing item keys to partitions.
func (n *Node) Ranges() *ring.Ring {
	return n.ranges
}

// Store returns the node's replica store.
func (n *Node) Store() storage.Store {
	return n.store
}

// Start listens on the configured address and serves until Stop.
func (n *Node) Start() error {
	lis, err := net.Listen("tcp", n.listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", n.listenAddr, err)
	}
	return n.Serve(lis)
}

// Serve serves the Partition service on lis until Stop.
func (n *Node) Serve(lis net.Listener) error {
	n.mu.Lock()
	n.grpcServer = grpc.NewServer()
	RegisterPartitionServer(n.grpcServer, NewServer(n.store, n.ranges, n.nodeID))

	// Enable gRPC reflection for grpcurl
	reflection.Register(n.grpcServer)
	srv := n.grpcServer

	if n.antiEntropy != nil {
		n.antiEntropy.Start(n.peers.Exchange)
	}
	n.mu.Unlock()

	log.Printf("[%s] Starting node on %s (region %d)", n.nodeID, lis.Addr(), n.store.RegionID())

	if err := srv.Serve(lis); err != nil {
		return fmt.Errorf("failed to serve: %w", err)
	}

	return nil
}

// Stop gracefully stops the node.
func (n *Node) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.antiEntropy != nil {
		n.antiEntropy.Stop()
		n.peers.Close()
	}

	if n.grpcServer != nil {
		log.Printf("[%s] Stopping node", n.nodeID)
		n.grpcServer.GracefulStop()
	}
}
