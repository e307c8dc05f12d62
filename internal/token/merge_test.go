package token

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge(t *testing.T) {
	tests := []struct {
		name    string
		a, b    string
		version uint64
		global  int64
		regions map[uint32]int64
	}{
		{
			name:    "higher global lsn wins",
			a:       "0#101#3=-1",
			b:       "0#121#3=-1",
			version: 0,
			global:  121,
			regions: map[uint32]int64{3: -1},
		},
		{
			name:    "pairwise maximum",
			a:       "1#10#1=7#2=3",
			b:       "1#12#1=5#2=9",
			version: 1,
			global:  12,
			regions: map[uint32]int64{1: 7, 2: 9},
		},
		{
			name:    "version bump drops disjoint region",
			a:       "1#100#1=5#2=7",
			b:       "2#150#1=10#3=3",
			version: 2,
			global:  150,
			regions: map[uint32]int64{1: 10, 3: 3},
		},
		{
			name:    "lower version keeps higher global lsn and region lsn",
			a:       "3#10#1=1",
			b:       "2#40#1=8",
			version: 3,
			global:  40,
			regions: map[uint32]int64{1: 8},
		},
		{
			name:    "higher version without regions",
			a:       "1#5#1=1",
			b:       "2#3",
			version: 2,
			global:  5,
			regions: map[uint32]int64{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := mustParse(t, tt.a), mustParse(t, tt.b)

			for _, pair := range [][2]*Token{{a, b}, {b, a}} {
				merged, err := Merge(pair[0], pair[1])
				require.NoError(t, err)
				assert.Equal(t, tt.version, merged.Version())
				assert.Equal(t, tt.global, merged.GlobalLSN())
				assert.Equal(t, tt.regions, merged.Regions())
			}
		})
	}
}

func TestMerge_SameRegionsHigherGlobalLSN(t *testing.T) {
	merged, err := Merge(mustParse(t, "0#101#3=-1"), mustParse(t, "0#121#3=-1"))
	require.NoError(t, err)
	assert.True(t, Equal(merged, mustParse(t, "0#121#3=-1")))
	assert.Equal(t, "0#121#3=-1", merged.String())
}

func TestMerge_FastPathReturnsDominatingInput(t *testing.T) {
	lo := mustParse(t, "1#10#1=5#2=6")
	hi := mustParse(t, "1#20#1=5#2=7")

	merged, err := Merge(lo, hi)
	require.NoError(t, err)
	assert.Same(t, hi, merged)

	merged, err = Merge(hi, lo)
	require.NoError(t, err)
	assert.Same(t, hi, merged)

	newer := mustParse(t, "2#20#1=9")
	merged, err = Merge(lo, newer)
	require.NoError(t, err)
	assert.Same(t, newer, merged)
}

func TestMerge_SameVersionRegionMismatch(t *testing.T) {
	tests := []struct {
		name string
		a, b string
	}{
		{"region count differs", "1#10#1=5", "1#20#1=5#2=5"},
		{"region sets differ", "1#10#1=5#2=5", "1#20#1=5#3=5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := mustParse(t, tt.a), mustParse(t, tt.b)
			for _, pair := range [][2]*Token{{a, b}, {b, a}} {
				merged, err := Merge(pair[0], pair[1])
				assert.Nil(t, merged)
				assert.True(t, errors.Is(err, ErrInconsistentRegions), "got %v", err)

				var cerr *ConsistencyError
				require.True(t, errors.As(err, &cerr))
				assert.Equal(t, pair[0].String(), cerr.Required)
				assert.Equal(t, pair[1].String(), cerr.Candidate)
			}
		})
	}
}

func TestMerge_ResultIsNewValue(t *testing.T) {
	a := mustParse(t, "1#10#1=7#2=3")
	b := mustParse(t, "1#12#1=5#2=9")

	merged, err := Merge(a, b)
	require.NoError(t, err)
	assert.NotSame(t, a, merged)
	assert.NotSame(t, b, merged)
	assert.Equal(t, "1#10#1=7#2=3", a.String())
	assert.Equal(t, "1#12#1=5#2=9", b.String())
	assert.Equal(t, "1#12#1=7#2=9", merged.String())
}

func TestMerge_Nil(t *testing.T) {
	_, err := Merge(nil, mustParse(t, "1#1"))
	assert.ErrorIs(t, err, ErrInvalidToken)
}
