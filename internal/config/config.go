package config

import (
	"fmt"
	"os"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"sessiontoken/internal/token"
)

// Peer represents a peer replica of the same partitions.
type Peer struct {
	ID   string `yaml:"id"`
	Addr string `yaml:"addr"`
}

// Seed is the initial progress of one partition key range.
type Seed struct {
	PartitionID string `yaml:"partition"`
	Token       string `yaml:"token"`
}

// Config holds the node configuration.
type Config struct {
	NodeID     string `yaml:"node_id"`
	ListenAddr string `yaml:"listen_addr"`
	RegionID   uint32 `yaml:"region_id"`
	Peers      []Peer `yaml:"peers"`
	Seeds      []Seed `yaml:"seeds"`

	// Regions lists every region replicating the partitions, RegionID
	// included. Partitions without a seed start out tracking all of them, so
	// every replica agrees on the region set. Defaults to RegionID plus the
	// regions of the seed tokens.
	Regions []uint32 `yaml:"regions"`

	// Partitions lists the partition key ranges item keys are routed to.
	// Seeded partitions are always included.
	Partitions []string `yaml:"partitions"`
	VNodes     int      `yaml:"vnodes"`

	// GossipInterval is the anti-entropy period; zero disables it.
	GossipInterval time.Duration `yaml:"gossip_interval"`
}

// Load reads a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks required fields and that every seed token parses.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node id cannot be empty")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if c.GossipInterval < 0 {
		return fmt.Errorf("gossip interval cannot be negative: %s", c.GossipInterval)
	}
	if len(c.Regions) > 0 && !slices.Contains(c.Regions, c.RegionID) {
		return fmt.Errorf("regions %v do not include region %d", c.Regions, c.RegionID)
	}
	for _, s := range c.Seeds {
		if s.PartitionID == "" {
			return fmt.Errorf("seed partition cannot be empty: %q", s.Token)
		}
		t, err := token.Parse(s.Token)
		if err != nil {
			return fmt.Errorf("seed for partition %s: %w", s.PartitionID, err)
		}
		if _, ok := t.LocalLSN(c.RegionID); !ok {
			return fmt.Errorf("seed for partition %s does not track region %d: %s", s.PartitionID, c.RegionID, s.Token)
		}
	}
	return nil
}

// GroupRegions returns the regions an unseeded partition starts out
// tracking, sorted and without duplicates.
func (c *Config) GroupRegions() []uint32 {
	regions := []uint32{c.RegionID}
	if len(c.Regions) > 0 {
		regions = append(regions, c.Regions...)
	} else {
		for _, s := range c.Seeds {
			t, err := token.Parse(s.Token)
			if err != nil {
				continue
			}
			for id := range t.Regions() {
				regions = append(regions, id)
			}
		}
	}
	slices.Sort(regions)
	return slices.Compact(regions)
}

// SeedTokens returns the parsed seed tokens keyed by partition.
func (c *Config) SeedTokens() (map[string]*token.Token, error) {
	tokens := make(map[string]*token.Token, len(c.Seeds))
	for _, s := range c.Seeds {
		t, err := token.Parse(s.Token)
		if err != nil {
			return nil, fmt.Errorf("seed for partition %s: %w", s.PartitionID, err)
		}
		tokens[s.PartitionID] = t
	}
	return tokens, nil
}

// PartitionIDs returns the configured and seeded partition key range ids,
// sorted and without duplicates.
func (c *Config) PartitionIDs() []string {
	seen := make(map[string]bool, len(c.Partitions)+len(c.Seeds))
	ids := make([]string, 0, len(c.Partitions)+len(c.Seeds))
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, id := range c.Partitions {
		add(id)
	}
	for _, s := range c.Seeds {
		add(s.PartitionID)
	}
	sort.Strings(ids)
	return ids
}

// ParsePeers parses a comma-separated list of peers in the format:
// "id1=addr1,id2=addr2,id3=addr3"
func ParsePeers(peersStr string) ([]Peer, error) {
	if peersStr == "" {
		return []Peer{}, nil
	}

	parts := strings.Split(peersStr, ",")
	peers := make([]Peer, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid peer format: %s (expected id=addr)", part)
		}

		id := strings.TrimSpace(kv[0])
		addr := strings.TrimSpace(kv[1])

		if id == "" || addr == "" {
			return nil, fmt.Errorf("peer ID and address cannot be empty: %s", part)
		}

		peers = append(peers, Peer{
			ID:   id,
			Addr: addr,
		})
	}

	return peers, nil
}

// ParseRegions parses a comma-separated list of region ids: "1,2,3".
func ParseRegions(regionsStr string) ([]uint32, error) {
	if regionsStr == "" {
		return []uint32{}, nil
	}

	parts := strings.Split(regionsStr, ",")
	regions := make([]uint32, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid region id: %s", part)
		}
		regions = append(regions, uint32(id))
	}

	return regions, nil
}

// ParseSeeds parses a comma-separated list of partition seeds in the format:
// "pk1=token1,pk2=token2". Only the first '=' separates the partition id,
// since tokens use '=' between region ids and LSNs.
func ParseSeeds(seedsStr string) ([]Seed, error) {
	if seedsStr == "" {
		return []Seed{}, nil
	}

	parts := strings.Split(seedsStr, ",")
	seeds := make([]Seed, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		pk, wire, found := strings.Cut(part, "=")
		pk = strings.TrimSpace(pk)
		wire = strings.TrimSpace(wire)
		if !found || pk == "" || wire == "" {
			return nil, fmt.Errorf("invalid seed format: %s (expected partition=token)", part)
		}
		if _, err := token.Parse(wire); err != nil {
			return nil, fmt.Errorf("invalid seed for partition %s: %w", pk, err)
		}

		seeds = append(seeds, Seed{
			PartitionID: pk,
			Token:       wire,
		})
	}

	return seeds, nil
}

// ReplicaAddrs returns the addresses of every replica, self first.
func (c *Config) ReplicaAddrs() []string {
	addrs := make([]string, 0, len(c.Peers)+1)

	// Add self
	addrs = append(addrs, c.ListenAddr)

	// Add peers
	for _, peer := range c.Peers {
		// Skip self if it appears in peers list
		if peer.ID != c.NodeID {
			addrs = append(addrs, peer.Addr)
		}
	}

	return addrs
}
