package parser

import (
	"regexp"

	"boxtracker/internal/domain"
)

// DefaultVariant is assigned when no variant rule matches. Hobby is by far the
// most common box on the market, so ambiguous titles land there.
const DefaultVariant = domain.VariantHobby

type variantRule struct {
	name    string
	match   func(title string) bool
	variant domain.Variant
}

func pattern(expr string) func(string) bool {
	re := regexp.MustCompile(expr)
	return re.MatchString
}

// hobbyNotJumbo matches "hobby" unless it is immediately followed by "jumbo",
// which names the jumbo box rather than the standard hobby box.
func hobbyNotJumbo() func(string) bool {
	hobby := regexp.MustCompile(`\bhobby\b`)
	jumboAfter := regexp.MustCompile(`^\s*jumbo`)
	return func(title string) bool {
		for _, loc := range hobby.FindAllStringIndex(title, -1) {
			if !jumboAfter.MatchString(title[loc[1]:]) {
				return true
			}
		}
		return false
	}
}

// variantRules are evaluated first match wins: jumbo naming is the most
// distinctive, then breaker's delight, then explicit hobby wording.
var variantRules = []variantRule{
	{"jumbo", pattern(`\bjumbo\b`), domain.VariantJumbo},
	{"super jumbo", pattern(`\bsuper\s*jumbo\b`), domain.VariantJumbo},
	{"jumbo typo", pattern(`\bjmbo\b`), domain.VariantJumbo},

	{"breakers delight", pattern(`breaker'?s?\s*delight`), domain.VariantBreakersDelight},
	{"bd box", pattern(`\bbd\s*box\b`), domain.VariantBreakersDelight},
	{"breakers d", pattern(`\bbreakers\s*d\b`), domain.VariantBreakersDelight},
	{"bd hobby", pattern(`\bb\.?d\.?\s*hobby\b`), domain.VariantBreakersDelight},

	{"hobby", hobbyNotJumbo(), domain.VariantHobby},
	{"regular", pattern(`\bregular\b`), domain.VariantHobby},
	{"standard", pattern(`\bstandard\b`), domain.VariantHobby},
}

// DetectVariant returns the variant named by a normalized title and the rule
// that decided it. The rule is "default" when nothing matched.
func DetectVariant(normalized string) (domain.Variant, string) {
	for _, r := range variantRules {
		if r.match(normalized) {
			return r.variant, r.name
		}
	}
	return DefaultVariant, "default"
}
