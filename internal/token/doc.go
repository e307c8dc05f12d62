// Package token implements the vector session token used to give clients
// session consistency against a partitioned, multi-region store. A token
// records the partition topology version, the global LSN and the local LSN
// observed in every region. Tokens are immutable values; parsing, formatting,
// comparison and merging are pure functions safe for concurrent use.
package token
