// Package ring routes item keys to partition key ranges using a consistent
// hashing ring with virtual nodes, so that adding or removing a range moves
// only a fraction of the keys.
package ring
