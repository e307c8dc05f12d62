package token

// Merge returns the join of a and b: the maximum version and global LSN and,
// for every region tracked by the higher-version token, the larger of the two
// local LSNs. Regions known only to the lower-version token are dropped, since
// a version bump redefines the tracked region set.
//
// Merge is commutative. When one input already dominates the other it is
// returned as is and nothing is allocated. Same-version tokens that disagree
// on their regions yield a *ConsistencyError.
func Merge(a, b *Token) (*Token, error) {
	if a == nil || b == nil {
		return nil, errNil("merge")
	}

	hi, lo := a, b
	if a.version < b.version {
		hi, lo = b, a
	}
	sameVersion := hi.version == lo.version

	if sameVersion && len(hi.regions) != len(lo.regions) {
		return nil, inconsistent(a, b)
	}

	if covers(hi, lo) {
		return hi, nil
	}
	if sameVersion && covers(lo, hi) {
		return lo, nil
	}

	regions := make([]regionLSN, 0, len(hi.regions))
	for _, r := range hi.regions {
		lsn, ok := lo.lookup(r.id)
		switch {
		case ok:
			regions = append(regions, regionLSN{id: r.id, lsn: max(r.lsn, lsn)})
		case sameVersion:
			return nil, inconsistent(a, b)
		default:
			regions = append(regions, r)
		}
	}

	return newToken(hi.version, max(a.globalLSN, b.globalLSN), regions), nil
}

// covers reports whether x already equals the join of x and y. The caller
// guarantees x.version >= y.version.
func covers(x, y *Token) bool {
	if x.globalLSN < y.globalLSN {
		return false
	}
	sameVersion := x.version == y.version
	for _, r := range x.regions {
		lsn, ok := y.lookup(r.id)
		if !ok {
			if sameVersion {
				return false
			}
			continue
		}
		if r.lsn < lsn {
			return false
		}
	}
	return true
}
