package token

// IsValid reports whether candidate is guaranteed to be at least as advanced
// as required for session consistency.
//
// Tokens of different versions may track different regions; a region the
// candidate knows but required does not is ignored in that case. Within one
// version both tokens must track the same regions, otherwise a
// *ConsistencyError is returned. IsValid is a partial order: two tokens can
// each fail the other's check.
func IsValid(required, candidate *Token) (bool, error) {
	if required == nil || candidate == nil {
		return false, errNil("is valid")
	}

	if candidate.version < required.version || candidate.globalLSN < required.globalLSN {
		return false, nil
	}

	sameVersion := candidate.version == required.version
	if sameVersion && len(candidate.regions) != len(required.regions) {
		return false, inconsistent(required, candidate)
	}

	for _, r := range candidate.regions {
		requiredLSN, ok := required.lookup(r.id)
		if !ok {
			if sameVersion {
				return false, inconsistent(required, candidate)
			}
			continue
		}
		if r.lsn < requiredLSN {
			return false, nil
		}
	}

	return true, nil
}
