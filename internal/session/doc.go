// Package session keeps the per-partition session tokens a client has
// observed and encodes them into the composite request header. Stored tokens
// only ever advance: every update is a token merge applied atomically.
package session
