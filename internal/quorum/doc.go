// Package quorum fans calls out to the replicas of a partition. Every reply
// carries the replica's session token; reads wait until one reply satisfies
// the caller's session, writes until enough replicas acknowledged.
package quorum
