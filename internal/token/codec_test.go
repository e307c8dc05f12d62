package token

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		version   uint64
		globalLSN int64
		regions   map[uint32]int64
	}{
		{
			name:      "no regions",
			input:     "1#49252",
			version:   1,
			globalLSN: 49252,
			regions:   map[uint32]int64{},
		},
		{
			name:      "single region with sentinel lsn",
			input:     "0#101#3=-1",
			version:   0,
			globalLSN: 101,
			regions:   map[uint32]int64{3: -1},
		},
		{
			name:      "multiple regions",
			input:     "1#49252#3=-1#7=102",
			version:   1,
			globalLSN: 49252,
			regions:   map[uint32]int64{3: -1, 7: 102},
		},
		{
			name:      "global lsn sentinel",
			input:     "5#-1",
			version:   5,
			globalLSN: -1,
			regions:   map[uint32]int64{},
		},
		{
			name:      "max values",
			input:     "18446744073709551615#9223372036854775807#4294967295=-9223372036854775808",
			version:   18446744073709551615,
			globalLSN: 9223372036854775807,
			regions:   map[uint32]int64{4294967295: -9223372036854775808},
		},
		{
			name:      "duplicate region keeps last value",
			input:     "1#2#3=4#3=5",
			version:   1,
			globalLSN: 2,
			regions:   map[uint32]int64{3: 5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.input, err)
			}
			if tok.Version() != tt.version {
				t.Errorf("Version() = %d, want %d", tok.Version(), tt.version)
			}
			if tok.GlobalLSN() != tt.globalLSN {
				t.Errorf("GlobalLSN() = %d, want %d", tok.GlobalLSN(), tt.globalLSN)
			}
			got := tok.Regions()
			if len(got) != len(tt.regions) {
				t.Fatalf("Regions() = %v, want %v", got, tt.regions)
			}
			for id, lsn := range tt.regions {
				if got[id] != lsn {
					t.Errorf("region %d = %d, want %d", id, got[id], lsn)
				}
			}
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	inputs := []string{
		"",
		"abc",
		"1",
		"1#",
		"#1",
		"1#2#",
		"1#2#3",
		"1#2#3=x",
		"1#2#=5",
		"1#2#3=",
		"1#2#3=4=5",
		"-1#2",
		"+1#2",
		"1#+2",
		"1#-",
		"1#2#-3=4",
		"1#2#4294967296=1",
		"18446744073709551616#1",
		"1#9223372036854775808",
		"1#2#3=9223372036854775808",
		" 1#2",
		"1#2 ",
		"1;2",
		"1#2,0#3",
		"1#2##3=4",
	}

	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			tok, err := Parse(input)
			if err == nil {
				t.Fatalf("Parse(%q) = %v, want error", input, tok)
			}
			if tok != nil {
				t.Errorf("Parse(%q) returned non-nil token on error", input)
			}
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Parse(%q) error = %v, want ErrInvalidToken", input, err)
			}
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("Parse(%q) error type = %T, want *ParseError", input, err)
			}
			if perr.Input != input {
				t.Errorf("ParseError.Input = %q, want %q", perr.Input, input)
			}
		})
	}
}

func TestParse_ErrorOffset(t *testing.T) {
	_, err := Parse("1#2#3=4#5=x")
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
	if perr.Offset != 10 {
		t.Errorf("Offset = %d, want 10", perr.Offset)
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name string
		tok  *Token
		want string
	}{
		{"no regions", New(1, 49252, nil), "1#49252"},
		{"empty region map", New(0, -1, map[uint32]int64{}), "0#-1"},
		{"regions ordered by id", New(1, 49252, map[uint32]int64{7: 102, 3: -1}), "1#49252#3=-1#7=102"},
		{"nil token", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Format(tt.tok); got != tt.want {
				t.Errorf("Format() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormat_ParsedKeepsInsertionOrder(t *testing.T) {
	tok, err := Parse("1#10#7=1#3=2")
	if err != nil {
		t.Fatal(err)
	}
	if got := Format(tok); got != "1#10#7=1#3=2" {
		t.Errorf("Format() = %q", got)
	}
}

func TestFormat_NonCanonicalInputIsReencoded(t *testing.T) {
	tests := map[string]string{
		"01#2":        "1#2",
		"1#007":       "1#7",
		"1#-0":        "1#0",
		"1#2#03=-01":  "1#2#3=-1",
		"1#2#3=4#3=5": "1#2#3=5",
	}

	for input, want := range tests {
		tok, err := Parse(input)
		if err != nil {
			t.Fatalf("Parse(%q) error = %v", input, err)
		}
		if got := tok.String(); got != want {
			t.Errorf("Parse(%q).String() = %q, want %q", input, got, want)
		}
	}
}

func TestParse_RoundTrip(t *testing.T) {
	tokens := []*Token{
		New(0, NoGlobalLSN, nil),
		New(1, 49252, map[uint32]int64{3: -1, 7: 102}),
		New(18446744073709551615, -9223372036854775808, map[uint32]int64{0: 0, 4294967295: 9223372036854775807}),
		New(3, 0, map[uint32]int64{1: 1, 2: 2, 3: 3, 4: 4}).WithLocalLSN(9, 12),
	}

	for _, tok := range tokens {
		parsed, err := Parse(Format(tok))
		if err != nil {
			t.Fatalf("Parse(Format(%v)) error = %v", tok, err)
		}
		if !Equal(parsed, tok) || !Equal(tok, parsed) {
			t.Errorf("round trip of %v produced %v", tok, parsed)
		}
		if parsed.String() != tok.String() {
			t.Errorf("round trip text %q != %q", parsed.String(), tok.String())
		}
	}
}
