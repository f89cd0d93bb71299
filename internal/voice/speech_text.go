package voice

import (
	"regexp"
	"strings"
	"unicode"
)

// speechRewrites strip markup a synthesizer would otherwise read aloud.
var speechRewrites = []struct {
	pattern *regexp.Regexp
	repl    string
}{
	{regexp.MustCompile("(?s)```.*?```"), " "},
	{regexp.MustCompile("`[^`]*`"), " "},
	{regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`), "$1"},
	{regexp.MustCompile(`https?://\S+`), " "},
}

const spokenPunctuation = ".,!?:;'\"-()%"

// SpeakableText removes markdown, URLs, emoji and symbol runs from reply
// text and collapses whitespace. If nothing speakable remains the trimmed
// input is returned unchanged.
func SpeakableText(text string) string {
	cleaned := text
	for _, rw := range speechRewrites {
		cleaned = rw.pattern.ReplaceAllString(cleaned, rw.repl)
	}
	cleaned = strings.Join(strings.Fields(strings.Map(speechRune, cleaned)), " ")
	if cleaned == "" {
		return strings.TrimSpace(text)
	}
	return cleaned
}

func speechRune(r rune) rune {
	switch {
	case unicode.IsSpace(r):
		return ' '
	case r == '\u200d', r == '\ufe0f', r == '\u20e3':
		return -1
	case unicode.IsControl(r), unicode.In(r, unicode.So, unicode.Sm, unicode.Sk):
		return -1
	case strings.ContainsRune(spokenPunctuation, r):
		return r
	case unicode.IsPunct(r):
		return ' '
	default:
		return r
	}
}
