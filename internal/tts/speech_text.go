package tts

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	speechURLPattern          = regexp.MustCompile(`https?://\S+`)
	speechFencedCodePattern   = regexp.MustCompile("(?s)```.*?```")
	speechInlineCodePattern   = regexp.MustCompile("`([^`]*)`")
	speechMarkdownLinkPattern = regexp.MustCompile(`\[(.*?)\]\((.*?)\)`)
)

var speechSymbolWords = strings.NewReplacer(
	"°F", " degrees Fahrenheit",
	"°C", " degrees Celsius",
	"°", " degrees",
	"%", " percent",
	" + ", " plus ",
	" = ", " equals ",
	"&", " and ",
)

// SpeakableText strips markup and symbols the voice model would read out
// literally. Room identifiers such as living_room become plain words.
func SpeakableText(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	raw = speechFencedCodePattern.ReplaceAllString(raw, " ")
	raw = speechInlineCodePattern.ReplaceAllString(raw, "$1")
	raw = speechMarkdownLinkPattern.ReplaceAllString(raw, "$1")
	raw = speechURLPattern.ReplaceAllString(raw, " ")
	raw = speechSymbolWords.Replace(raw)
	raw = strings.NewReplacer("*", " ", "_", " ", "#", " ", "~", " ", "|", " ", "\\", " ").Replace(raw)

	var b strings.Builder
	b.Grow(len(raw))
	prevSpace := true
	for _, r := range raw {
		switch {
		case r == '\u200d' || r == '\ufe0f' || r == '\u20e3':
		case unicode.IsSpace(r):
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		case unicode.IsControl(r):
		case unicode.In(r, unicode.So, unicode.Sk):
			// emoji
		case isSpeechSafePunctuation(r):
			b.WriteRune(r)
			prevSpace = false
		case unicode.IsPunct(r):
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		default:
			b.WriteRune(r)
			prevSpace = false
		}
	}
	return strings.TrimSpace(b.String())
}

func isSpeechSafePunctuation(r rune) bool {
	switch r {
	case '.', ',', '!', '?', ':', ';', '\'', '"', '-', '(', ')', '/':
		return true
	default:
		return false
	}
}
