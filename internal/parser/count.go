package parser

import (
	"regexp"
	"strconv"

	"boxtracker/internal/domain"
)

const (
	minUnitCount = 1
	maxUnitCount = 100

	// DefaultCaseSize is used for "case" listings whose variant has no known size.
	DefaultCaseSize = 6
)

// KnownCaseSizes maps each variant to the number of boxes in a factory case.
var KnownCaseSizes = map[domain.Variant]int{
	domain.VariantHobby:           6,
	domain.VariantJumbo:           8,
	domain.VariantBreakersDelight: 16,
}

type countRule struct {
	name  string
	re    *regexp.Regexp
	fixed int // when > 0 the rule yields this count instead of a captured number
}

// countRules are evaluated in order; the first in-range match wins.
var countRules = []countRule{
	{name: "n box case", re: regexp.MustCompile(`(\d+)\s*[-\s]?box\s*case`)},
	{name: "case of n", re: regexp.MustCompile(`case\s*(?:of\s*)?(\d+)`)},
	{name: "n ct case", re: regexp.MustCompile(`(\d+)\s*[-\s]?ct\s*case`)},

	{name: "lot of n", re: regexp.MustCompile(`lot\s*(?:of\s*)?(\d+)`)},
	{name: "n lot", re: regexp.MustCompile(`(\d+)\s*lot`)},
	{name: "n boxes", re: regexp.MustCompile(`(\d+)\s*boxes`)},
	{name: "x n box", re: regexp.MustCompile(`x\s*(\d+)\s*box`)},
	{name: "n x box", re: regexp.MustCompile(`(\d+)\s*x\s*box`)},

	{name: "6 box", re: regexp.MustCompile(`\b(6)\s*[-\s]?box\b`)},
	{name: "8 box", re: regexp.MustCompile(`\b(8)\s*[-\s]?box\b`)},
	{name: "16 box", re: regexp.MustCompile(`\b(16)\s*[-\s]?box\b`)},

	{name: "single box", re: regexp.MustCompile(`\bsingle\s*box\b`), fixed: 1},
	{name: "1 box", re: regexp.MustCompile(`\b1\s*box\b`), fixed: 1},
}

var caseWord = regexp.MustCompile(`\bcase\b`)

// ExtractUnitCount returns how many boxes a normalized title represents and the
// rule that decided it.
func ExtractUnitCount(normalized string, variant domain.Variant) (int, string) {
	for _, r := range countRules {
		m := r.re.FindStringSubmatch(normalized)
		if m == nil {
			continue
		}
		if r.fixed > 0 {
			return r.fixed, r.name
		}
		n, err := strconv.Atoi(m[1])
		if err != nil || n < minUnitCount || n > maxUnitCount {
			continue
		}
		return n, r.name
	}

	if caseWord.MatchString(normalized) {
		if size, ok := KnownCaseSizes[variant]; ok {
			return size, "known case size"
		}
		return DefaultCaseSize, "default case size"
	}

	return 1, "single"
}
