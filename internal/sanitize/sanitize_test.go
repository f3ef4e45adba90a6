package sanitize_test

import (
	"testing"

	"github.com/retroterm/c64bridge/internal/sanitize"
)

func TestForC64(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain ascii untouched", "HELLO, WORLD 123!", "HELLO, WORLD 123!"},
		{"newlines collapse", "line one\nline two\r\nthree", "line one line two three"},
		{"multiple spaces collapse", "a  b   c", "a b c"},
		{"accents stripped", "café naïve", "cafE naIve"},
		{"typographic punctuation", "“quoted” — done…", `"quoted" - done...`},
		{"currency", "€5 or £3", "EUR5 or GBP3"},
		{"arrows", "a → b", "a -> b"},
		{"unknown unicode becomes ?", "chess ♞ piece", "chess ? piece"},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := sanitize.ForC64(tc.in); got != tc.want {
				t.Fatalf("ForC64(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
