package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"sessiontoken/internal/config"
	"sessiontoken/internal/node"
)

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("sessiond", flag.ExitOnError)
	fs.String("config", "", "path to a YAML config file; flags override its values")
	fs.String("node-id", "", "unique node ID")
	fs.String("listen", "", "listen address, e.g. :50051")
	fs.Uint("region", 0, "region this replica writes as")
	fs.String("regions", "", "comma-separated regions replicating the partitions, e.g. 1,2,3")
	fs.String("peers", "", "comma-separated peers: id1=addr1,id2=addr2")
	fs.String("seeds", "", "comma-separated partition seeds: pk1=token1,pk2=token2")
	fs.String("partitions", "", "comma-separated partition key range ids to route keys to")
	fs.Int("vnodes", 0, "virtual nodes per partition key range (default 128)")
	fs.Duration("gossip-interval", 0, "anti-entropy interval; 0 disables it")
	return fs
}

// applyFlags copies the flags set on the command line into cfg. Flags left
// at their defaults keep the values loaded from the config file.
func applyFlags(fs *flag.FlagSet, cfg *config.Config) error {
	var err error
	fs.Visit(func(f *flag.Flag) {
		if err != nil {
			return
		}
		value := f.Value.(flag.Getter).Get()
		switch f.Name {
		case "node-id":
			cfg.NodeID = value.(string)
		case "listen":
			cfg.ListenAddr = value.(string)
		case "region":
			cfg.RegionID = uint32(value.(uint))
		case "regions":
			cfg.Regions, err = config.ParseRegions(value.(string))
		case "peers":
			cfg.Peers, err = config.ParsePeers(value.(string))
		case "seeds":
			cfg.Seeds, err = config.ParseSeeds(value.(string))
		case "partitions":
			cfg.Partitions = nil
			for _, id := range strings.Split(value.(string), ",") {
				if id = strings.TrimSpace(id); id != "" {
					cfg.Partitions = append(cfg.Partitions, id)
				}
			}
		case "vnodes":
			cfg.VNodes = value.(int)
		case "gossip-interval":
			cfg.GossipInterval = value.(time.Duration)
		}
		if err != nil {
			err = fmt.Errorf("invalid --%s: %w", f.Name, err)
		}
	})
	return err
}

func main() {
	fs := newFlagSet()
	fs.Parse(os.Args[1:])

	cfg := &config.Config{}
	if path := fs.Lookup("config").Value.String(); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}
	if err := applyFlags(fs, cfg); err != nil {
		log.Fatal(err)
	}

	n, err := node.NewNode(cfg)
	if err != nil {
		log.Fatalf("Failed to create node: %v", err)
	}
	log.Printf("[%s] Replicas: %v", cfg.NodeID, cfg.ReplicaAddrs())

	errCh := make(chan error, 1)
	go func() {
		errCh <- n.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("[%s] Received %s, shutting down", cfg.NodeID, sig)
		n.Stop()
	case err := <-errCh:
		if err != nil {
			log.Fatalf("[%s] Node failed: %v", cfg.NodeID, err)
		}
	}
}
