package dossier

import "unicode/utf8"

// TruncateRunes caps s at maxChars characters without splitting a multi-byte
// sequence. A non-positive maxChars leaves s unchanged.
func TruncateRunes(s string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	count := 0
	for i := range s {
		if count == maxChars {
			return s[:i]
		}
		count++
	}
	return s
}

// CharCount returns the number of characters (runes) in s.
func CharCount(s string) int {
	return utf8.RuneCountInString(s)
}
