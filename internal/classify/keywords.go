package classify

import (
	"regexp"
	"strings"
)

// keyword matches a phrase inside a normalized title. Short alphabetic tokens
// such as grading-service abbreviations only match as whole words so that "rc"
// does not fire inside "search"; everything else is a plain substring test.
type keyword struct {
	text string
	word *regexp.Regexp
}

func newKeywords(texts ...string) []keyword {
	out := make([]keyword, 0, len(texts))
	for _, t := range texts {
		k := keyword{text: t}
		if len(t) <= 3 && isAlpha(t) {
			k.word = regexp.MustCompile(`\b` + regexp.QuoteMeta(t) + `\b`)
		}
		out = append(out, k)
	}
	return out
}

func (k keyword) in(title string) bool {
	if k.word != nil {
		return k.word.MatchString(title)
	}
	return strings.Contains(title, k.text)
}

func anyKeyword(title string, kws []keyword) bool {
	for _, k := range kws {
		if k.in(title) {
			return true
		}
	}
	return false
}

func isAlpha(s string) bool {
	for _, r := range s {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return s != ""
}
