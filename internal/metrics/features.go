// Package metrics computes local size features of message text, used by
// telemetry to characterise traffic without persisting message content.
package metrics

import (
	"strings"
	"unicode/utf8"
)

// Features holds basic local text features derived from a message.
type Features struct {
	Bytes    int
	Runes    int
	Words    int
	NonASCII int
}

// CountFeatures computes byte, rune, word, and non-ASCII rune counts for
// the input string. NonASCII indicates how much work sanitization will do
// before a message can reach the C64.
func CountFeatures(s string) Features {
	return Features{
		Bytes:    len(s),
		Runes:    utf8.RuneCountInString(s),
		Words:    countWords(s),
		NonASCII: countNonASCII(s),
	}
}

// countWords counts words split on Unicode whitespace.
func countWords(s string) int {
	return len(strings.Fields(s))
}

// countNonASCII counts runes outside the 7-bit ASCII range.
func countNonASCII(s string) int {
	n := 0
	for _, r := range s {
		if r > 127 {
			n++
		}
	}
	return n
}
