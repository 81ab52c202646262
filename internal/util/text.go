package util

import (
	"strings"
	"unicode/utf8"
)

// CleanText makes client-supplied text storable in a text column. Invalid
// UTF-8 becomes U+FFFD, NUL bytes are dropped and the result is cut to at
// most max bytes on a rune boundary. max <= 0 disables the cut.
func CleanText(s string, max int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	s = strings.ReplaceAll(s, "\x00", "")
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
