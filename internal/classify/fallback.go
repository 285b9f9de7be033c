package classify

var (
	boxIndicators = newKeywords(
		"hobby box", "jumbo box", "breaker", "breakers", "factory sealed",
		"sealed box", "case", "hobby case", "jumbo case",
	)
	cardIndicators = newKeywords(
		"auto", "autograph", "/99", "/50", "/25", "/10", "/5", "/1",
		"refractor", "psa", "bgs", "sgc", "graded", "rookie", "rc",
		"parallel", "insert", "numbered", "1st bowman",
	)
)

// IsBoxSaleFallback is the rule used when no model is loaded: at least one box
// indicator and no single-card indicator.
func IsBoxSaleFallback(normalized string) bool {
	return anyKeyword(normalized, boxIndicators) && !anyKeyword(normalized, cardIndicators)
}
