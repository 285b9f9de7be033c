// Package textnorm folds listing titles into a canonical lowercase form so that
// keyword rules and the classifier vocabulary see the same text regardless of how
// a seller typed it.
package textnorm

import (
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

var chainPool = sync.Pool{
	New: func() any {
		return transform.Chain(
			norm.NFKC,
			cases.Fold(),
			runes.Remove(runes.In(unicode.Mn)),
			runes.Remove(runes.In(unicode.Cf)),
			width.Fold,
		)
	},
}

// typographic punctuation sellers paste from word processors
var punctReplacer = strings.NewReplacer(
	"\u2018", "'",
	"\u2019", "'",
	"\u02bc", "'",
	"\u2010", "-",
	"\u2011", "-",
	"\u2012", "-",
	"\u2013", "-",
	"\u2014", "-",
	"\u00a0", " ",
)

// Title returns the normalized form of a listing title.
func Title(s string) string {
	if s == "" {
		return ""
	}

	s = strings.ToValidUTF8(s, "")
	s = punctReplacer.Replace(s)

	tr := chainPool.Get().(transform.Transformer)
	ns, _, err := transform.String(tr, s)
	tr.Reset()
	chainPool.Put(tr)
	if err != nil {
		ns = strings.ToLower(s)
	}

	return strings.Join(strings.Fields(ns), " ")
}
