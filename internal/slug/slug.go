// Package slug turns article titles into URL-safe unique identifiers.
package slug

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	// MaxLength bounds every generated slug, suffix included.
	MaxLength = 100
	// Fallback is used when a title reduces to nothing.
	Fallback = "untitled"

	separator = '-'
)

// translit maps letters the NFD pass cannot fold to ASCII. The upstream feed
// is Turkish, so the Turkish set matters most.
var translit = map[rune]string{
	'ı': "i", 'İ': "i",
	'ß': "ss",
	'æ': "ae", 'Æ': "ae",
	'ø': "o", 'Ø': "o",
	'đ': "d", 'Đ': "d",
	'ð': "d", 'Ð': "d",
	'þ': "th", 'Þ': "th",
	'ł': "l", 'Ł': "l",
	'œ': "oe", 'Œ': "oe",
	'&': "and",
}

// stripMarks removes combining marks after NFD decomposition, folding
// ç→c, ğ→g, ö→o, ş→s, ü→u and the rest of Latin-1 and friends.
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Make produces a deterministic URL-safe slug: transliterate, strip marks,
// lowercase, collapse everything non-alphanumeric into single separators,
// and truncate to MaxLength without splitting mid-word where avoidable.
// The result is never empty.
func Make(title string) string {
	var pre strings.Builder
	for _, r := range title {
		if repl, ok := translit[r]; ok {
			pre.WriteString(repl)
			continue
		}
		pre.WriteRune(r)
	}

	folded, _, err := transform.String(stripMarks, pre.String())
	if err != nil {
		folded = pre.String()
	}

	var out strings.Builder
	lastSep := true // suppress a leading separator
	for _, r := range strings.ToLower(folded) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			out.WriteRune(r)
			lastSep = false
		default:
			if !lastSep {
				out.WriteRune(separator)
				lastSep = true
			}
		}
	}

	s := strings.Trim(out.String(), string(separator))
	if s == "" {
		return Fallback
	}
	return truncate(s, MaxLength)
}

// Uniquify appends -1, -2, ... to base until the result is absent from
// existing, re-truncating so the suffix never pushes past MaxLength. Callers
// serialize slug allocation per run; existing must be the full current set.
func Uniquify(base string, existing map[string]bool) string {
	if !existing[base] {
		return base
	}
	for n := 1; ; n++ {
		suffix := fmt.Sprintf("-%d", n)
		candidate := truncate(base, MaxLength-len(suffix)) + suffix
		if !existing[candidate] {
			return candidate
		}
	}
}

// truncate cuts s to at most max bytes, preferring the last separator in the
// tail so words stay whole. A slug with no separator near the cut is split
// mid-word rather than discarded.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	if idx := strings.LastIndexByte(cut, byte(separator)); idx > max/2 {
		cut = cut[:idx]
	}
	return strings.TrimRight(cut, string(separator))
}
