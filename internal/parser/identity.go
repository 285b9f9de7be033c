package parser

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strings"

	"boxtracker/internal/domain"
)

var itemIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`ebay\.com/itm/(?:[^/]+/)?(\d+)`),
	regexp.MustCompile(`/itm/(\d+)`),
}

// DetectSource reports which marketplace a listing URL belongs to.
func DetectSource(url string) domain.Source {
	if strings.Contains(strings.ToLower(url), "ebay.com") {
		return domain.SourceEbay
	}
	return domain.SourceOther
}

// ExtractItemID returns the marketplace item number embedded in a listing URL.
func ExtractItemID(url string) (string, bool) {
	if url == "" {
		return "", false
	}
	for _, re := range itemIDPatterns {
		if m := re.FindStringSubmatch(url); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// UniqueID derives the stable identity of a listing. Marketplace listings with an
// item number use it directly; everything else hashes the normalized URL.
func UniqueID(url string, source domain.Source) string {
	if source == domain.SourceEbay {
		if id, ok := ExtractItemID(url); ok {
			return string(source) + "_" + id
		}
	}

	normalized := strings.TrimRight(strings.TrimSpace(strings.ToLower(url)), "/")
	sum := md5.Sum([]byte(normalized))
	return string(source) + "_" + hex.EncodeToString(sum[:])[:16]
}
