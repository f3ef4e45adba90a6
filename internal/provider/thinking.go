package provider

import "strings"

// Thinking delimiters as emitted inline by reasoning models.
const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// ExtractThinking separates inline reasoning spans from answer text. Three
// passes run in a fixed order so malformed markup resolves deterministically:
//
//  1. well-formed <think>...</think> pairs,
//  2. orphaned closers (text from the last extraction point up to the
//     closer is thinking; the opener was lost, e.g. to stream truncation),
//  3. orphaned openers (text from the opener to the next opener or end of
//     text is thinking; the closer never arrived).
//
// Collected fragments are joined with single spaces; the remaining text,
// stray markers stripped, is the answer. The answer is never lost: with no
// markers present the input comes back unchanged as the answer.
func ExtractThinking(text string) (thinking string, answer string) {
	var fragments []string

	rest, frags := extractBalanced(text)
	fragments = append(fragments, frags...)

	rest, frags = extractOrphanClosed(rest)
	fragments = append(fragments, frags...)

	rest, frags = extractOrphanOpen(rest)
	fragments = append(fragments, frags...)

	kept := fragments[:0]
	for _, f := range fragments {
		if f = strings.TrimSpace(f); f != "" {
			kept = append(kept, f)
		}
	}
	return strings.Join(kept, " "), strings.TrimSpace(rest)
}

// extractBalanced removes every well-formed, non-nested pair. A nested
// opener inside a pair is treated as literal text of the span.
func extractBalanced(s string) (rest string, fragments []string) {
	for {
		open := strings.Index(s, thinkOpen)
		if open < 0 {
			return s, fragments
		}
		end := strings.Index(s[open+len(thinkOpen):], thinkClose)
		if end < 0 {
			return s, fragments
		}
		innerStart := open + len(thinkOpen)
		fragments = append(fragments, s[innerStart:innerStart+end])
		s = s[:open] + s[innerStart+end+len(thinkClose):]
	}
}

// extractOrphanClosed handles closers left after pass one: everything from
// the current extraction point up to the closer was thinking whose opener
// never made it into the text.
func extractOrphanClosed(s string) (rest string, fragments []string) {
	for {
		end := strings.Index(s, thinkClose)
		if end < 0 {
			return s, fragments
		}
		fragments = append(fragments, s[:end])
		s = s[end+len(thinkClose):]
	}
}

// extractOrphanOpen handles openers with no closer: the span runs to the
// next opener or end of text.
func extractOrphanOpen(s string) (rest string, fragments []string) {
	for {
		open := strings.Index(s, thinkOpen)
		if open < 0 {
			return s, fragments
		}
		tail := s[open+len(thinkOpen):]
		next := strings.Index(tail, thinkOpen)
		if next < 0 {
			fragments = append(fragments, tail)
			return s[:open], fragments
		}
		fragments = append(fragments, tail[:next])
		s = s[:open] + tail[next:]
	}
}
