package classify

import (
	"strings"
	"unicode/utf8"
)

var (
	// Model features are plain substring tests, unlike the fallback rule: the
	// trained weights expect "boxes" to count as "box".
	boxFeatureKeywords = []string{
		"box", "case", "factory sealed", "sealed", "hobby", "jumbo",
		"breaker delight", "pre sale", "presale", "factory", "12ct",
		"6 box", "8 box", "super jumbo",
	}
	cardFeatureKeywords = []string{
		"auto", "autograph", "1st", "prospect", "refractor",
		"chrome", "psa", "graded", "/", "#",
	}
)

// ExplicitFeatureCount is the length of the vector returned by ExplicitFeatures.
const ExplicitFeatureCount = 11

// ExplicitFeatures builds the hand-picked part of the model input. normalized is
// the folded title; raw is the title as listed and only feeds the size features.
func ExplicitFeatures(normalized, raw string) []float64 {
	has := func(s string) float64 {
		if strings.Contains(normalized, s) {
			return 1
		}
		return 0
	}
	both := 0.0
	if strings.Contains(normalized, "box") && strings.Contains(normalized, "case") {
		both = 1
	}

	return []float64{
		float64(countSubstrings(normalized, boxFeatureKeywords)),
		has("factory sealed"),
		has("hobby case"),
		has("hobby box"),
		has("super jumbo"),
		has("breaker delight"),
		has("sealed"),
		both,
		float64(countSubstrings(normalized, cardFeatureKeywords)),
		float64(utf8.RuneCountInString(raw)),
		float64(len(strings.Fields(raw))),
	}
}

func countSubstrings(title string, subs []string) int {
	n := 0
	for _, sub := range subs {
		if strings.Contains(title, sub) {
			n++
		}
	}
	return n
}
