package session

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"sessiontoken/internal/token"
)

const (
	// partitionSeparator delimits per-partition entries in a composite header.
	partitionSeparator = ","
	// partitionTokenSeparator separates a partition key range id from its token.
	partitionTokenSeparator = ":"
)

// ErrInvalidHeader is returned for a composite header that cannot be decoded.
var ErrInvalidHeader = errors.New("invalid session token header")

// Container holds the last known session token for each partition key range.
// It is safe for concurrent use; merges into the same partition are applied
// with a compare-and-swap loop so that none is lost.
type Container struct {
	mu     sync.RWMutex
	tokens map[string]*atomic.Pointer[token.Token]
}

// NewContainer creates an empty container.
func NewContainer() *Container {
	return &Container{
		tokens: make(map[string]*atomic.Pointer[token.Token]),
	}
}

// Get returns the token stored for the partition key range.
func (c *Container) Get(pkRangeID string) (*token.Token, bool) {
	c.mu.RLock()
	slot, exists := c.tokens[pkRangeID]
	c.mu.RUnlock()

	if !exists {
		return nil, false
	}
	t := slot.Load()
	return t, t != nil
}

// Merge folds t into the stored token for the partition key range and returns
// the token now stored. A consistency fault leaves the stored token unchanged.
func (c *Container) Merge(pkRangeID string, t *token.Token) (*token.Token, error) {
	if t == nil {
		return nil, fmt.Errorf("merge %s: %w: nil token", pkRangeID, token.ErrInvalidToken)
	}

	slot := c.slot(pkRangeID)
	for {
		current := slot.Load()
		if current == nil {
			if slot.CompareAndSwap(nil, t) {
				return t, nil
			}
			continue
		}

		merged, err := token.Merge(current, t)
		if err != nil {
			return nil, fmt.Errorf("merge %s: %w", pkRangeID, err)
		}
		if merged == current || slot.CompareAndSwap(current, merged) {
			return merged, nil
		}
	}
}

// MergeString parses a wire token and merges it. Parse failures are returned
// wrapping token.ErrInvalidToken and leave the container untouched.
func (c *Container) MergeString(pkRangeID, wire string) (*token.Token, error) {
	t, err := token.Parse(wire)
	if err != nil {
		return nil, err
	}
	return c.Merge(pkRangeID, t)
}

// Clear forgets the token for one partition key range. The slot is reset
// rather than removed so that a racing Merge retries against it.
func (c *Container) Clear(pkRangeID string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if slot, exists := c.tokens[pkRangeID]; exists {
		slot.Store(nil)
	}
}

// ClearAll forgets every stored token.
func (c *Container) ClearAll() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, slot := range c.tokens {
		slot.Store(nil)
	}
}

// Len returns the number of partitions with a stored token.
func (c *Container) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, slot := range c.tokens {
		if slot.Load() != nil {
			n++
		}
	}
	return n
}

// Header encodes the stored tokens for the given partition key ranges as a
// composite header "pk1:token1,pk2:token2". With no ids, every stored
// partition is included in id order. Partitions without a token are skipped.
func (c *Container) Header(pkRangeIDs ...string) string {
	if len(pkRangeIDs) == 0 {
		c.mu.RLock()
		pkRangeIDs = make([]string, 0, len(c.tokens))
		for id := range c.tokens {
			pkRangeIDs = append(pkRangeIDs, id)
		}
		c.mu.RUnlock()
		sort.Strings(pkRangeIDs)
	}

	var b strings.Builder
	for _, id := range pkRangeIDs {
		t, ok := c.Get(id)
		if !ok {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(partitionSeparator)
		}
		b.WriteString(id)
		b.WriteString(partitionTokenSeparator)
		b.WriteString(t.String())
	}
	return b.String()
}

// MergeHeader merges every entry of a composite header into the container.
// The header is fully decoded before any merge is applied.
func (c *Container) MergeHeader(header string) error {
	tokens, err := ParseHeader(header)
	if err != nil {
		return err
	}
	for id, t := range tokens {
		if _, err := c.Merge(id, t); err != nil {
			return err
		}
	}
	return nil
}

// ParseHeader decodes a composite header into tokens keyed by partition key
// range id. An entry repeated for the same partition is merged.
func ParseHeader(header string) (map[string]*token.Token, error) {
	tokens := make(map[string]*token.Token)
	if strings.TrimSpace(header) == "" {
		return tokens, nil
	}

	for _, entry := range strings.Split(header, partitionSeparator) {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		id, wire, found := strings.Cut(entry, partitionTokenSeparator)
		if !found || id == "" || wire == "" {
			return nil, fmt.Errorf("%w: %q (expected pkRangeId:token)", ErrInvalidHeader, entry)
		}

		t, err := token.Parse(wire)
		if err != nil {
			return nil, fmt.Errorf("%w: partition %s: %w", ErrInvalidHeader, id, err)
		}

		if existing, ok := tokens[id]; ok {
			if t, err = token.Merge(existing, t); err != nil {
				return nil, fmt.Errorf("%w: partition %s: %w", ErrInvalidHeader, id, err)
			}
		}
		tokens[id] = t
	}

	return tokens, nil
}

// slot returns the atomic cell for a partition, creating it if needed.
func (c *Container) slot(pkRangeID string) *atomic.Pointer[token.Token] {
	c.mu.RLock()
	slot, exists := c.tokens[pkRangeID]
	c.mu.RUnlock()
	if exists {
		return slot
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock
	if slot, exists := c.tokens[pkRangeID]; exists {
		return slot
	}
	slot = &atomic.Pointer[token.Token]{}
	c.tokens[pkRangeID] = slot
	return slot
}
