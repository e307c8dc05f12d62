// Package gossip implements anti-entropy between replicas: each round a node
// exchanges the progress of every partition with one random peer, and peers
// that fail an exchange are marked suspect until they answer again.
//
// Only session progress is exchanged. Items are not copied between replicas.
package gossip
