// Package storage provides the replica-side partitioned key-value store.
// Each partition carries a session token that advances on every write, which
// is the progress clients compare against to get session consistency.
package storage
