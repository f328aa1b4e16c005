package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountWords(t *testing.T) {
	cases := []struct {
		name string
		md   string
		want int
	}{
		{"plain prose", "one two three four", 4},
		{"empty", "", 0},
		{"whitespace only", "  \n\t ", 0},
		{"code fence dropped", "before\n```go\nfunc main() {}\n```\nafter", 2},
		{"image syntax dropped", "look ![alt text here](https://x/y.png) now", 2},
		{"link text kept", "see [the full report](https://x/report) here", 5},
		{"headings and emphasis stripped", "# Title\n\nSome **bold** and _italic_ text", 6},
		{"hyphenated words intact", "a state-of-the-art so-called fix", 4},
		{"list markers dropped", "- first thing\n- second thing\n1. third thing", 6},
		{"horizontal rule dropped", "above\n\n---\n\nbelow", 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, countWords(tc.md))
		})
	}
}

func TestReadingTime(t *testing.T) {
	assert.Equal(t, 0, readingTime(0))
	assert.Equal(t, 1, readingTime(1))
	assert.Equal(t, 1, readingTime(200))
	assert.Equal(t, 2, readingTime(201))
	assert.Equal(t, 5, readingTime(1000))
}

func TestReadingTimeMatchesLongBody(t *testing.T) {
	body := strings.Repeat("word ", 450)
	words := countWords(body)
	assert.Equal(t, 450, words)
	assert.Equal(t, 3, readingTime(words))
}
