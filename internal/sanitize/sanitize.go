// Package sanitize maps arbitrary text down to the ASCII subset a C64 can
// display. Line breaks become spaces, accented letters lose their accents,
// typographic punctuation is replaced with plain equivalents, and anything
// else non-ASCII becomes '?'.
package sanitize

import "strings"

// charMap maps common non-ASCII runes to displayable replacements.
var charMap = map[rune]string{
	'á': "A", 'à': "A", 'â': "A", 'ä': "A", 'ã': "A", 'å': "A", 'æ': "AE",
	'é': "E", 'è': "E", 'ê': "E", 'ë': "E",
	'í': "I", 'ì': "I", 'î': "I", 'ï': "I",
	'ó': "O", 'ò': "O", 'ô': "O", 'ö': "O", 'õ': "O", 'ø': "O",
	'ú': "U", 'ù': "U", 'û': "U", 'ü': "U",
	'ý': "Y", 'ÿ': "Y",
	'ç': "C", 'ñ': "N",

	'Á': "A", 'À': "A", 'Â': "A", 'Ä': "A", 'Ã': "A", 'Å': "A", 'Æ': "AE",
	'É': "E", 'È': "E", 'Ê': "E", 'Ë': "E",
	'Í': "I", 'Ì': "I", 'Î': "I", 'Ï': "I",
	'Ó': "O", 'Ò': "O", 'Ô': "O", 'Ö': "O", 'Õ': "O", 'Ø': "O",
	'Ú': "U", 'Ù': "U", 'Û': "U", 'Ü': "U",
	'Ý': "Y",
	'Ç': "C", 'Ñ': "N",

	'—': "-", '–': "-", '…': "...",
	'«': `"`, '»': `"`, '“': `"`, '”': `"`,
	'‘': "'", '’': "'", '′': "'",
	'€': "EUR", '£': "GBP", '¥': "YEN",
	'©': "(C)", '®': "(R)", '™': "(TM)",
	'°': " deg", '±': "+/-", '×': "x", '÷': "/",
	'¼': "1/4", '½': "1/2", '¾': "3/4",
	'•': "*", '·': "*",
	'→': "->", '←': "<-", '↑': "^", '↓': "v",
}

// ForC64 returns text reduced to displayable ASCII: newlines collapse to
// single spaces, mapped runes are substituted, and remaining non-ASCII runes
// become '?'.
func ForC64(text string) string {
	text = strings.ReplaceAll(text, "\n", " ")
	text = strings.ReplaceAll(text, "\r", " ")
	for strings.Contains(text, "  ") {
		text = strings.ReplaceAll(text, "  ", " ")
	}

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r < 128:
			b.WriteRune(r)
		default:
			if repl, ok := charMap[r]; ok {
				b.WriteString(repl)
			} else {
				b.WriteByte('?')
			}
		}
	}
	return b.String()
}
