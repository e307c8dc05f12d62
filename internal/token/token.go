package token

import (
	"sort"
	"strconv"
)

const (
	// NoGlobalLSN is the sentinel LSN meaning no write has been observed.
	NoGlobalLSN int64 = -1

	segmentSeparator        = '#'
	regionProgressSeparator = '='
)

// regionLSN is the local LSN observed for one region.
type regionLSN struct {
	id  uint32
	lsn int64
}

// Token is the progress a client has observed for a single partition.
// The zero value is not usable; build tokens with New or Parse.
type Token struct {
	version   uint64
	globalLSN int64
	regions   []regionLSN // emission order; ids are unique
	text      string
}

// New builds a token from its parts. Regions are copied and ordered by id.
func New(version uint64, globalLSN int64, regions map[uint32]int64) *Token {
	rs := make([]regionLSN, 0, len(regions))
	for id, lsn := range regions {
		rs = append(rs, regionLSN{id: id, lsn: lsn})
	}
	sort.Slice(rs, func(i, j int) bool { return rs[i].id < rs[j].id })
	return newToken(version, globalLSN, rs)
}

// newToken takes ownership of regions.
func newToken(version uint64, globalLSN int64, regions []regionLSN) *Token {
	t := &Token{
		version:   version,
		globalLSN: globalLSN,
		regions:   regions,
	}
	t.text = encode(t)
	return t
}

// Version returns the partition topology version.
func (t *Token) Version() uint64 {
	return t.version
}

// GlobalLSN returns the global LSN, or NoGlobalLSN.
func (t *Token) GlobalLSN() int64 {
	return t.globalLSN
}

// LocalLSN returns the local LSN recorded for a region.
func (t *Token) LocalLSN(regionID uint32) (int64, bool) {
	return t.lookup(regionID)
}

// RegionCount returns the number of regions tracked by the token.
func (t *Token) RegionCount() int {
	return len(t.regions)
}

// Regions returns a copy of the per-region progress.
func (t *Token) Regions() map[uint32]int64 {
	m := make(map[uint32]int64, len(t.regions))
	for _, r := range t.regions {
		m[r.id] = r.lsn
	}
	return m
}

// String returns the canonical wire encoding.
func (t *Token) String() string {
	return t.text
}

// WithGlobalLSN returns a token with the same version and regions and the
// given global LSN.
func (t *Token) WithGlobalLSN(lsn int64) *Token {
	if lsn == t.globalLSN {
		return t
	}
	// regions are never written after construction, so sharing is safe
	return newToken(t.version, lsn, t.regions)
}

// WithLocalLSN returns a token whose region progress for regionID is lsn.
// The region is appended if the token does not track it yet.
func (t *Token) WithLocalLSN(regionID uint32, lsn int64) *Token {
	rs := make([]regionLSN, len(t.regions), len(t.regions)+1)
	copy(rs, t.regions)
	for i := range rs {
		if rs[i].id == regionID {
			if rs[i].lsn == lsn {
				return t
			}
			rs[i].lsn = lsn
			return newToken(t.version, t.globalLSN, rs)
		}
	}
	rs = append(rs, regionLSN{id: regionID, lsn: lsn})
	return newToken(t.version, t.globalLSN, rs)
}

// lookup is linear: tokens track a handful of regions.
func (t *Token) lookup(regionID uint32) (int64, bool) {
	for _, r := range t.regions {
		if r.id == regionID {
			return r.lsn, true
		}
	}
	return 0, false
}

// Equal reports whether a and b carry the same version and global LSN and
// every region of a is present in b with the same LSN. Regions present only
// in b are not checked.
func Equal(a, b *Token) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.version != b.version || a.globalLSN != b.globalLSN {
		return false
	}
	for _, r := range a.regions {
		lsn, ok := b.lookup(r.id)
		if !ok || lsn != r.lsn {
			return false
		}
	}
	return true
}

// encode renders the canonical text of t.
func encode(t *Token) string {
	buf := make([]byte, 0, 24+len(t.regions)*16)
	buf = strconv.AppendUint(buf, t.version, 10)
	buf = append(buf, segmentSeparator)
	buf = strconv.AppendInt(buf, t.globalLSN, 10)
	for _, r := range t.regions {
		buf = append(buf, segmentSeparator)
		buf = strconv.AppendUint(buf, uint64(r.id), 10)
		buf = append(buf, regionProgressSeparator)
		buf = strconv.AppendInt(buf, r.lsn, 10)
	}
	return string(buf)
}
