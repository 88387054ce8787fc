package names

import "testing"

func TestNormalizeTrimsAndLowercases(t *testing.T) {
	cases := map[string]string{
		" General ":     "general",
		"general":       "general",
		"ENGINEERING":   "engineering",
		"\tOps-Team\n":  "ops-team",
		"":              "",
		"   ":           "",
		"already-lower": "already-lower",
	}
	for input, want := range cases {
		if got := Normalize(input); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	inputs := []string{" General ", "ENGINEERING", "ops team", ""}
	for _, input := range inputs {
		once := Normalize(input)
		twice := Normalize(once)
		if once != twice {
			t.Fatalf("Normalize not idempotent for %q: %q != %q", input, once, twice)
		}
	}
}
