package it

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"sessiontoken/internal/config"
	"sessiontoken/internal/node"
	"sessiontoken/internal/ring"
	"sessiontoken/internal/session"
)

const bufSize = 1 << 20

// Cluster represents an in-process test cluster of replicas. Nodes listen on
// in-memory connections and are addressed as "passthrough:///<id>".
type Cluster struct {
	// GossipInterval enables anti-entropy between nodes started by
	// StartCluster when positive.
	GossipInterval time.Duration

	// Partitions are routed by every node started by StartCluster without
	// being seeded.
	Partitions []string

	nodes   []*Node
	clients *node.ClientManager
	mu      sync.Mutex
}

// Node represents a single node in the test cluster
type Node struct {
	ID     string
	Addr   string
	Region uint32
	node   *node.Node
	lis    *bufconn.Listener
}

// NewCluster creates a new test cluster harness. All clients of the cluster
// share one session container.
func NewCluster() *Cluster {
	c := &Cluster{nodes: make([]*Node, 0)}
	c.clients = node.NewClientManager(session.NewContainer(), grpc.WithContextDialer(c.dial))
	return c
}

// StartNode starts a single node writing as region and seeded with seeds.
func (c *Cluster) StartNode(nodeID string, region uint32, seeds []config.Seed) (*Node, error) {
	return c.startNode(&config.Config{
		NodeID:     nodeID,
		ListenAddr: "passthrough:///" + nodeID,
		RegionID:   region,
		Seeds:      seeds,
	})
}

func (c *Cluster) startNode(cfg *config.Config) (*Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, n := range c.nodes {
		if n.ID == cfg.NodeID {
			return nil, fmt.Errorf("node %s already started", cfg.NodeID)
		}
	}

	nd, err := node.NewNode(cfg, grpc.WithContextDialer(c.dial))
	if err != nil {
		return nil, fmt.Errorf("failed to create node %s: %w", cfg.NodeID, err)
	}

	n := &Node{
		ID:     cfg.NodeID,
		Addr:   cfg.ListenAddr,
		Region: cfg.RegionID,
		node:   nd,
		lis:    bufconn.Listen(bufSize),
	}
	go nd.Serve(n.lis)

	c.nodes = append(c.nodes, n)
	return n, nil
}

// StartCluster starts one node per region, n1 in region 1 and so on, every
// partition in partitions seeded with wire. All nodes share the region group
// 1..size. With a GossipInterval every node runs anti-entropy with all the
// others.
func (c *Cluster) StartCluster(size int, wire string, partitions ...string) error {
	seeds := make([]config.Seed, 0, len(partitions))
	for _, pk := range partitions {
		seeds = append(seeds, config.Seed{PartitionID: pk, Token: wire})
	}

	regions := make([]uint32, 0, size)
	for i := 1; i <= size; i++ {
		regions = append(regions, uint32(i))
	}

	var peers []config.Peer
	if c.GossipInterval > 0 {
		for i := 1; i <= size; i++ {
			id := fmt.Sprintf("n%d", i)
			peers = append(peers, config.Peer{ID: id, Addr: "passthrough:///" + id})
		}
	}

	for i := 1; i <= size; i++ {
		id := fmt.Sprintf("n%d", i)
		_, err := c.startNode(&config.Config{
			NodeID:         id,
			ListenAddr:     "passthrough:///" + id,
			RegionID:       uint32(i),
			Regions:        regions,
			Seeds:          seeds,
			Partitions:     c.Partitions,
			Peers:          peers,
			GossipInterval: c.GossipInterval,
		})
		if err != nil {
			c.Stop()
			return err
		}
	}
	return nil
}

// dial connects to the node whose id is addr.
func (c *Cluster) dial(ctx context.Context, addr string) (net.Conn, error) {
	n := c.GetNode(addr)
	if n == nil {
		return nil, fmt.Errorf("node %s not found", addr)
	}
	return n.lis.DialContext(ctx)
}

// Clients returns the cluster's client manager.
func (c *Cluster) Clients() *node.ClientManager {
	return c.clients
}

// Sessions returns the session container shared by the cluster's clients.
func (c *Cluster) Sessions() *session.Container {
	return c.clients.Sessions()
}

// Addrs returns the addresses of every node, in start order.
func (c *Cluster) Addrs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	addrs := make([]string, 0, len(c.nodes))
	for _, n := range c.nodes {
		addrs = append(addrs, n.Addr)
	}
	return addrs
}

// Client returns the partition client for a node.
func (c *Cluster) Client(nodeID string) (*node.PartitionClient, error) {
	n := c.GetNode(nodeID)
	if n == nil {
		return nil, fmt.Errorf("node %s not found", nodeID)
	}
	return c.clients.GetClient(n.Addr)
}

// GetNode returns a node by ID
func (c *Cluster) GetNode(nodeID string) *Node {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, n := range c.nodes {
		if n.ID == nodeID {
			return n
		}
	}
	return nil
}

// KillNode stops a node. Its address stays known, so calls to it fail.
func (c *Cluster) KillNode(nodeID string) error {
	n := c.GetNode(nodeID)
	if n == nil {
		return fmt.Errorf("node %s not found", nodeID)
	}
	n.Stop()
	return nil
}

// Stop stops all nodes in the cluster and closes client connections.
func (c *Cluster) Stop() {
	c.mu.Lock()
	nodes := c.nodes
	c.nodes = nil
	c.mu.Unlock()

	c.clients.Close()
	for _, n := range nodes {
		n.Stop()
	}
}

// Stop stops a single node
func (n *Node) Stop() {
	n.node.Stop()
	n.lis.Close()
}

// Progress returns the node's token for pk, read directly from its store.
func (n *Node) Progress(pk string) string {
	return n.node.Store().Progress(pk).String()
}

// Ranges returns the ring the node routes item keys with.
func (n *Node) Ranges() *ring.Ring {
	return n.node.Ranges()
}
