package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sessiontoken/internal/quorum"
	"sessiontoken/internal/token"
)

func TestPickMostAdvanced(t *testing.T) {
	tok := func(s string) *token.Token {
		parsed, err := token.Parse(s)
		require.NoError(t, err)
		return parsed
	}

	values := map[string]quorum.Reply{
		"a": {Token: tok("1#3#1=3"), Found: false},
		"b": {Token: tok("1#5#1=5"), Found: false},
		"c": {Token: tok("1#5#1=5"), Found: true},
		"d": {Token: tok("1#5#1=5"), Found: true},
	}

	assert.Equal(t, "b", pickMostAdvanced([]string{"a", "b"}, values))
	assert.Equal(t, "c", pickMostAdvanced([]string{"a", "b", "c", "d"}, values))
	assert.Equal(t, "d", pickMostAdvanced([]string{"d", "c"}, values))
	assert.Equal(t, "a", pickMostAdvanced([]string{"a"}, values))
}
