// Package repair reconciles the session tokens reported by the replicas of a
// partition. It computes their join, identifies replicas that are behind it
// and pushes the merged progress back to them.
package repair
