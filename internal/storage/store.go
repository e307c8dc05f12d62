package storage

import (
	"fmt"
	"slices"
	"sort"
	"sync"

	"sessiontoken/internal/token"
)

// VersionedValue represents a value with the session token at which it was written.
type VersionedValue struct {
	Value   []byte
	Token   *token.Token
	Deleted bool // True if this is a tombstone (deleted)
}

// IsTombstone checks if this is a deletion tombstone.
func (vv *VersionedValue) IsTombstone() bool {
	return vv.Deleted
}

// Store defines the interface for partitioned key-value storage that tracks
// session progress per partition.
type Store interface {
	// Get retrieves a value by partition and key. Returns nil if not found.
	Get(pk, key string) *VersionedValue
	// Put stores a value and returns the partition token after the write.
	Put(pk, key string, value []byte) *token.Token
	// Delete stores a tombstone and returns the partition token after the write.
	Delete(pk, key string) *token.Token
	// Progress returns the current token of a partition.
	Progress(pk string) *token.Token
	// Seed replaces a partition's progress, e.g. from configuration. The
	// token must track the store's own region.
	Seed(pk string, t *token.Token) error
	// Apply merges progress learned from another replica into the partition.
	Apply(pk string, t *token.Token) (*token.Token, error)
	// BumpVersion starts a new topology version tracking the given regions.
	BumpVersion(pk string, regions []uint32) *token.Token
	// Partitions returns the ids of every partition the store has seen, sorted.
	Partitions() []string
}

type partition struct {
	progress *token.Token
	data     map[string]*VersionedValue
}

// InMemoryStore is an in-memory implementation of Store.
// It's thread-safe; every write advances the partition's global LSN and the
// local LSN of the store's own region.
type InMemoryStore struct {
	mu         sync.RWMutex
	partitions map[string]*partition
	regionID   uint32   // Region this replica writes as
	group      []uint32 // Regions an unseen partition starts out tracking
}

// NewInMemoryStore creates a new in-memory store for a replica in regionID.
// Partitions that were never seeded start out tracking regionID and every
// region in group. Replicas of the same partitions must agree on the group,
// or their tokens cannot be merged.
func NewInMemoryStore(regionID uint32, group ...uint32) *InMemoryStore {
	regions := append([]uint32{regionID}, group...)
	slices.Sort(regions)
	return &InMemoryStore{
		partitions: make(map[string]*partition),
		regionID:   regionID,
		group:      slices.Compact(regions),
	}
}

// RegionID returns the region this store writes as.
func (s *InMemoryStore) RegionID() uint32 {
	return s.regionID
}

// Get retrieves a value by key.
func (s *InMemoryStore) Get(pk, key string) *VersionedValue {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.partitions[pk]
	if !exists {
		return nil
	}
	vv, exists := p.data[key]
	if !exists {
		return nil
	}

	// Return a copy to avoid external modifications; tokens are immutable
	return &VersionedValue{
		Value:   append([]byte(nil), vv.Value...),
		Token:   vv.Token,
		Deleted: vv.Deleted,
	}
}

// Put stores a value and advances the partition.
func (s *InMemoryStore) Put(pk, key string, value []byte) *token.Token {
	return s.write(pk, key, value, false)
}

// Delete stores a tombstone instead of deleting (for replication).
func (s *InMemoryStore) Delete(pk, key string) *token.Token {
	return s.write(pk, key, nil, true)
}

func (s *InMemoryStore) write(pk, key string, value []byte, deleted bool) *token.Token {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.partitionLocked(pk)
	lsn := p.progress.GlobalLSN() + 1
	next := p.progress.WithGlobalLSN(lsn)
	// A topology version without this region only moves the global LSN
	if _, ok := next.LocalLSN(s.regionID); ok {
		next = next.WithLocalLSN(s.regionID, lsn)
	}
	p.progress = next

	var valueCopy []byte
	if !deleted {
		valueCopy = append([]byte(nil), value...)
	}
	p.data[key] = &VersionedValue{
		Value:   valueCopy,
		Token:   p.progress,
		Deleted: deleted,
	}

	return p.progress
}

// Progress returns the partition's current token. Unseen partitions report
// version 0 with no global LSN, tracking the store's region group.
func (s *InMemoryStore) Progress(pk string) *token.Token {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, exists := s.partitions[pk]; exists {
		return p.progress
	}
	return s.initialToken()
}

// Seed installs t as the partition's progress, replacing any previous token.
// Stored values are kept.
func (s *InMemoryStore) Seed(pk string, t *token.Token) error {
	if t == nil {
		return fmt.Errorf("seed requires non-nil token")
	}
	if _, ok := t.LocalLSN(s.regionID); !ok {
		return fmt.Errorf("seed %s for partition %s does not track region %d", t, pk, s.regionID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.partitionLocked(pk).progress = t
	return nil
}

// Apply merges t into the partition's progress. Only a consistent token that
// the merge accepts is installed.
func (s *InMemoryStore) Apply(pk string, t *token.Token) (*token.Token, error) {
	if t == nil {
		return nil, fmt.Errorf("apply requires non-nil token")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.partitionLocked(pk)
	merged, err := token.Merge(p.progress, t)
	if err != nil {
		return nil, fmt.Errorf("apply to partition %s: %w", pk, err)
	}
	p.progress = merged
	return merged, nil
}

// BumpVersion increments the partition version and redefines its region set.
// Regions already tracked keep their LSN; new ones start at NoGlobalLSN. The
// store's own region is always tracked.
func (s *InMemoryStore) BumpVersion(pk string, regions []uint32) *token.Token {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.partitionLocked(pk)
	ids := append([]uint32{s.regionID}, regions...)
	next := make(map[uint32]int64, len(ids))
	for _, id := range ids {
		if lsn, ok := p.progress.LocalLSN(id); ok {
			next[id] = lsn
		} else {
			next[id] = token.NoGlobalLSN
		}
	}
	p.progress = token.New(p.progress.Version()+1, p.progress.GlobalLSN(), next)
	return p.progress
}

// Partitions returns the ids of every seeded or written partition.
func (s *InMemoryStore) Partitions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.partitions))
	for id := range s.partitions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// partitionLocked returns the partition, creating it if needed. Caller holds mu.
func (s *InMemoryStore) partitionLocked(pk string) *partition {
	p, exists := s.partitions[pk]
	if !exists {
		p = &partition{
			progress: s.initialToken(),
			data:     make(map[string]*VersionedValue),
		}
		s.partitions[pk] = p
	}
	return p
}

func (s *InMemoryStore) initialToken() *token.Token {
	regions := make(map[uint32]int64, len(s.group))
	for _, id := range s.group {
		regions[id] = token.NoGlobalLSN
	}
	return token.New(0, token.NoGlobalLSN, regions)
}
