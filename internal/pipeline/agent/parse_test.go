package agent

import (
	"errors"
	"strings"
	"testing"
)

func TestParseObject(t *testing.T) {
	cases := []struct {
		name     string
		raw      string
		wantKey  string
		salvaged bool
		wantErr  bool
	}{
		{"clean", `{"concept": "neon city"}`, "concept", false, false},
		{"whitespace", "  \n {\"k\": 1} \n", "k", false, false},
		{"preamble", "Thinking about it...\n{\"k\": 1}", "k", true, false},
		{"preamble_and_trailer", "log line\n{\"k\": 1}\ndone", "k", true, false},
		{"nested_braces", `noise {"outer": {"inner": 2}} noise`, "outer", true, false},
		{"empty", "", "", false, true},
		{"no_object", "just some prose", "", false, true},
		{"array_not_object", `[1, 2, 3]`, "", false, true},
		{"broken_json", `{"k": `, "", false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, salvaged, err := ParseObject([]byte(tc.raw))
			if tc.wantErr {
				if !errors.Is(err, ErrOutputUnparsable) {
					t.Fatalf("err = %v, want ErrOutputUnparsable", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if salvaged != tc.salvaged {
				t.Errorf("salvaged = %v, want %v", salvaged, tc.salvaged)
			}
			if _, ok := out[tc.wantKey]; !ok {
				t.Errorf("parsed object missing key %q: %v", tc.wantKey, out)
			}
		})
	}
}

func TestParseObjectErrorKeepsBoundedPrefix(t *testing.T) {
	raw := strings.Repeat("x", 5000)
	_, _, err := ParseObject([]byte(raw))
	if err == nil {
		t.Fatal("expected error")
	}
	if len(err.Error()) > errPrefixLimit+len(ErrOutputUnparsable.Error())+10 {
		t.Fatalf("error message not bounded: %d bytes", len(err.Error()))
	}
}
