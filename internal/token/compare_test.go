package token

import (
	"errors"
	"testing"
)

func TestIsValid(t *testing.T) {
	tests := []struct {
		name      string
		required  string
		candidate string
		want      bool
		wantFault bool
	}{
		{"candidate ahead on global lsn", "1#49252", "1#99252", true, false},
		{"candidate behind on global lsn", "1#99252", "1#49252", false, false},
		{"equal tokens", "1#10#1=5#2=6", "1#10#1=5#2=6", true, false},
		{"candidate behind on version", "2#10#1=5", "1#20#1=9", false, false},
		{"candidate behind on region", "1#10#1=5#2=6", "1#10#1=5#2=4", false, false},
		{"candidate ahead on every region", "1#10#1=5#2=6", "1#12#1=7#2=6", true, false},
		{"newer version adds region", "1#10#1=5", "2#10#1=5#2=1", true, false},
		{"newer version drops region", "1#10#1=5#2=6", "2#10#1=5", true, false},
		{"newer version behind on shared region", "1#10#1=5", "2#10#1=4#2=9", false, false},
		{"global lsn check precedes fault", "1#10#1=5", "1#9#1=5#2=5", false, false},
		{"same version region count mismatch", "1#10#1=5", "1#10#1=5#2=5", false, true},
		{"same version disjoint regions", "1#10#1=5", "1#10#2=5", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := IsValid(mustParse(t, tt.required), mustParse(t, tt.candidate))
			if tt.wantFault {
				if !errors.Is(err, ErrInconsistentRegions) {
					t.Fatalf("IsValid() error = %v, want ErrInconsistentRegions", err)
				}
				var cerr *ConsistencyError
				if !errors.As(err, &cerr) {
					t.Fatalf("IsValid() error type = %T, want *ConsistencyError", err)
				}
				if cerr.Required != tt.required || cerr.Candidate != tt.candidate {
					t.Errorf("ConsistencyError = %+v", cerr)
				}
				return
			}
			if err != nil {
				t.Fatalf("IsValid() unexpected error = %v", err)
			}
			if got != tt.want {
				t.Errorf("IsValid(%s, %s) = %v, want %v", tt.required, tt.candidate, got, tt.want)
			}
		})
	}
}

func TestIsValid_PartialOrder(t *testing.T) {
	// Same version, same regions, each ahead on a different one.
	a := mustParse(t, "1#10#1=6#2=5")
	b := mustParse(t, "1#10#1=5#2=6")

	ab, err := IsValid(a, b)
	if err != nil {
		t.Fatal(err)
	}
	ba, err := IsValid(b, a)
	if err != nil {
		t.Fatal(err)
	}
	if ab || ba {
		t.Errorf("Incomparable tokens should fail both ways, got %v and %v", ab, ba)
	}
}

func TestIsValid_Nil(t *testing.T) {
	_, err := IsValid(nil, mustParse(t, "1#1"))
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken for nil input, got %v", err)
	}
}
