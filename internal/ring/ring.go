package ring

import (
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
)

// vnode represents a virtual point of a partition key range on the ring.
type vnode struct {
	hash    uint32
	rangeID string
}

// Ring maps item keys to partition key ranges with consistent hashing.
type Ring struct {
	mu             sync.RWMutex
	vnodesPerRange int
	vnodes         []vnode
	ranges         map[string]struct{}
}

// NewRing creates a new consistent hashing ring.
func NewRing(vnodesPerRange int) *Ring {
	if vnodesPerRange <= 0 {
		vnodesPerRange = 128 // default
	}
	return &Ring{
		vnodesPerRange: vnodesPerRange,
		vnodes:         make([]vnode, 0),
		ranges:         make(map[string]struct{}),
	}
}

// SetRanges rebuilds the ring with the given partition key range ids.
// The result does not depend on the order of ids.
func (r *Ring) SetRanges(ids []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ranges = make(map[string]struct{}, len(ids))
	r.vnodes = make([]vnode, 0, len(ids)*r.vnodesPerRange)

	for _, id := range ids {
		if _, exists := r.ranges[id]; exists {
			continue
		}
		r.ranges[id] = struct{}{}
		for i := 0; i < r.vnodesPerRange; i++ {
			r.vnodes = append(r.vnodes, vnode{hash: hashString(vnodeKey(id, i)), rangeID: id})
		}
	}

	// Sort vnodes by hash for binary search; ties by id keep it deterministic
	sort.Slice(r.vnodes, func(i, j int) bool {
		if r.vnodes[i].hash != r.vnodes[j].hash {
			return r.vnodes[i].hash < r.vnodes[j].hash
		}
		return r.vnodes[i].rangeID < r.vnodes[j].rangeID
	})
}

// AddRange adds a partition key range, e.g. after a split.
func (r *Ring) AddRange(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.ranges[id]; exists {
		return // already exists
	}

	r.ranges[id] = struct{}{}
	for i := 0; i < r.vnodesPerRange; i++ {
		v := vnode{hash: hashString(vnodeKey(id, i)), rangeID: id}
		// Insert in sorted order
		idx := sort.Search(len(r.vnodes), func(i int) bool {
			return r.vnodes[i].hash > v.hash || (r.vnodes[i].hash == v.hash && r.vnodes[i].rangeID >= v.rangeID)
		})
		r.vnodes = append(r.vnodes[:idx], append([]vnode{v}, r.vnodes[idx:]...)...)
	}
}

// RemoveRange removes a partition key range. Its keys move to the
// neighbouring ranges.
func (r *Ring) RemoveRange(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.ranges[id]; !exists {
		return
	}

	delete(r.ranges, id)
	kept := make([]vnode, 0, len(r.vnodes))
	for _, v := range r.vnodes {
		if v.rangeID != id {
			kept = append(kept, v)
		}
	}
	r.vnodes = kept
}

// RangeFor returns the partition key range owning key.
// Returns ("", false) if the ring is empty.
func (r *Ring) RangeFor(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.vnodes) == 0 {
		return "", false
	}

	keyHash := hashString(key)

	// Binary search for first vnode with hash >= keyHash
	idx := sort.Search(len(r.vnodes), func(i int) bool {
		return r.vnodes[i].hash >= keyHash
	})

	// Wrap around if keyHash is greater than all vnodes
	if idx >= len(r.vnodes) {
		idx = 0
	}

	return r.vnodes[idx].rangeID, true
}

// Ranges returns all partition key range ids in sorted order.
func (r *Ring) Ranges() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.ranges))
	for id := range r.ranges {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func vnodeKey(id string, i int) string {
	return fmt.Sprintf("%s-vnode-%d", id, i)
}

// hashString computes a 32-bit FNV-1a hash of the string.
func hashString(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}
