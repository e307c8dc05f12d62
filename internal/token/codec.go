package token

import (
	"strconv"
	"strings"
)

// Parse decodes a wire string of the form
//
//	version#globalLsn[#regionId=localLsn]*
//
// The input is scanned once; no intermediate slice of segments is built.
// Malformed input yields a *ParseError and never panics.
func Parse(text string) (*Token, error) {
	if text == "" {
		return nil, &ParseError{Input: text, Reason: "empty token"}
	}

	s := scanner{text: text, canonical: true}

	field, off, more := s.next()
	version, ok := s.unsigned(field, 64)
	if !ok {
		return nil, &ParseError{Input: text, Offset: off, Reason: "version is not an unsigned 64-bit integer"}
	}
	if !more {
		return nil, &ParseError{Input: text, Offset: len(text), Reason: "missing global LSN"}
	}

	field, off, more = s.next()
	globalLSN, ok := s.signed(field)
	if !ok {
		return nil, &ParseError{Input: text, Offset: off, Reason: "global LSN is not a signed 64-bit integer"}
	}

	var regions []regionLSN
	if more {
		regions = make([]regionLSN, 0, strings.Count(text[s.pos:], "#")+1)
	}
	for more {
		field, off, more = s.next()
		sep := strings.IndexByte(field, regionProgressSeparator)
		if sep < 0 {
			return nil, &ParseError{Input: text, Offset: off, Reason: "region progress is missing '='"}
		}
		id, ok := s.unsigned(field[:sep], 32)
		if !ok {
			return nil, &ParseError{Input: text, Offset: off, Reason: "region id is not an unsigned 32-bit integer"}
		}
		lsn, ok := s.signed(field[sep+1:])
		if !ok {
			return nil, &ParseError{Input: text, Offset: off + sep + 1, Reason: "local LSN is not a signed 64-bit integer"}
		}
		regions = s.put(regions, uint32(id), lsn)
	}

	t := &Token{version: version, globalLSN: globalLSN, regions: regions}
	if s.canonical {
		t.text = text
	} else {
		t.text = encode(t)
	}
	return t, nil
}

// Format returns the canonical wire encoding of t.
func Format(t *Token) string {
	if t == nil {
		return ""
	}
	return t.text
}

// scanner walks '#'-separated segments and tracks whether the input is
// already in canonical form so that Parse can reuse it as the token text.
type scanner struct {
	text      string
	pos       int
	canonical bool
}

// next returns the next segment, its offset and whether more follow.
func (s *scanner) next() (string, int, bool) {
	start := s.pos
	i := strings.IndexByte(s.text[start:], segmentSeparator)
	if i < 0 {
		s.pos = len(s.text)
		return s.text[start:], start, false
	}
	s.pos = start + i + 1
	return s.text[start : start+i], start, true
}

func (s *scanner) unsigned(field string, bits int) (uint64, bool) {
	if !isDigits(field) {
		return 0, false
	}
	v, err := strconv.ParseUint(field, 10, bits)
	if err != nil {
		return 0, false
	}
	if len(field) > 1 && field[0] == '0' {
		s.canonical = false
	}
	return v, true
}

func (s *scanner) signed(field string) (int64, bool) {
	digits := field
	if strings.HasPrefix(digits, "-") {
		digits = digits[1:]
	}
	if !isDigits(digits) {
		return 0, false
	}
	v, err := strconv.ParseInt(field, 10, 64)
	if err != nil {
		return 0, false
	}
	if (len(digits) > 1 && digits[0] == '0') || field == "-0" {
		s.canonical = false
	}
	return v, true
}

// put records a region; a repeated id overwrites the earlier value.
func (s *scanner) put(regions []regionLSN, id uint32, lsn int64) []regionLSN {
	for i := range regions {
		if regions[i].id == id {
			regions[i].lsn = lsn
			s.canonical = false
			return regions
		}
	}
	return append(regions, regionLSN{id: id, lsn: lsn})
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
