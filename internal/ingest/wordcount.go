package ingest

import (
	"regexp"
	"strings"
)

const wordsPerMinute = 200

var (
	codeFenceRe = regexp.MustCompile("(?s)```.*?```")
	mdImageRe   = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	mdLinkRe    = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	// Hyphens only count as markup at line starts (list items, rules), so
	// hyphenated words survive intact.
	mdMarkerRe = regexp.MustCompile(`(?m)^[ \t]*(?:[-+*]|\d+\.)[ \t]+|^[ \t]*-{3,}[ \t]*$`)
	mdMarkupRe = regexp.MustCompile("[#*_~`>|]+")
)

// countWords counts prose words in a markdown body. Code fences and image
// syntax are dropped, link text is kept.
func countWords(md string) int {
	text := codeFenceRe.ReplaceAllString(md, " ")
	text = mdImageRe.ReplaceAllString(text, " ")
	text = mdLinkRe.ReplaceAllString(text, "$1")
	text = mdMarkerRe.ReplaceAllString(text, " ")
	text = mdMarkupRe.ReplaceAllString(text, " ")
	return len(strings.Fields(text))
}

// readingTime is ceil(words / 200) minutes.
func readingTime(words int) int {
	return (words + wordsPerMinute - 1) / wordsPerMinute
}
