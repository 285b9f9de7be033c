package marketplace

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"

	"boxtracker/internal/domain"
)

const rowSelector = "tr#dRow"

// dateRule is one step of the date cascade. It returns "" when it finds nothing.
type dateRule struct {
	name string
	find func(row *goquery.Selection, rowHTML string) string
}

var (
	boldDatePattern = regexp.MustCompile(`(?i)Date:</b>\s*([^<]+)`)

	rowDatePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Date:\s*</b>\s*([^<]+)`),
		regexp.MustCompile(`(?i)>Date:\s*([^<]+)<`),
		regexp.MustCompile(`(?i)Date:\s*(\d{1,2}/\d{1,2}/\d{2,4})`),
		regexp.MustCompile(`(?i)Sold:\s*(\d{1,2}/\d{1,2}/\d{2,4})`),
		regexp.MustCompile(`(?i)>(\d{1,2}/\d{1,2}/\d{4})<`),
		regexp.MustCompile(`(?i)>(\d{1,2}/\d{1,2}/\d{2})<`),
		regexp.MustCompile(`(?i)(\d{1,2}/\d{1,2}/\d{4})`),
		regexp.MustCompile(`(?i)(\d{4}-\d{2}-\d{2})`),
		regexp.MustCompile(`(?i)([A-Z][a-z]{2}\s+\d{1,2},?\s+\d{4})`),
	}

	slashDatePattern = regexp.MustCompile(`(\d{1,2}/\d{1,2}/\d{2,4})`)
)

var dateRules = []dateRule{
	{"date attribute", func(row *goquery.Selection, _ string) string {
		v, _ := row.Attr("data-date")
		return strings.TrimSpace(v)
	}},
	{"date span", func(row *goquery.Selection, _ string) string {
		return strings.TrimSpace(row.Find("span.dateSpan").First().Text())
	}},
	{"bold date label", func(_ *goquery.Selection, rowHTML string) string {
		return firstGroup(boldDatePattern, rowHTML)
	}},
	{"date pattern", func(_ *goquery.Selection, rowHTML string) string {
		for _, re := range rowDatePatterns {
			if v := firstGroup(re, rowHTML); v != "" {
				return v
			}
		}
		return ""
	}},
	{"cell text", func(row *goquery.Selection, _ string) string {
		var found string
		row.Find("td, span, div").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if m := slashDatePattern.FindStringSubmatch(strings.TrimSpace(s.Text())); m != nil {
				found = m[1]
				return false
			}
			return true
		})
		return found
	}},
}

func firstGroup(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// TodayFallback is the date given to a listing that has a title and a positive
// price but carries no date signal anywhere in its row.
func TodayFallback(now time.Time) string {
	return now.Format("01/02/2006")
}

type Extractor struct {
	now    func() time.Time
	logger *slog.Logger
}

// NewExtractor creates an Extractor. A nil now defaults to time.Now.
func NewExtractor(now func() time.Time, logger *slog.Logger) *Extractor {
	if now == nil {
		now = time.Now
	}
	return &Extractor{
		now:    now,
		logger: logger.With("component", "extractor"),
	}
}

// Extract returns every listing row with a title, a url and a positive price.
// Rows missing any of them are dropped without error.
func (e *Extractor) Extract(body []byte) ([]domain.RawListing, error) {
	doc, err := goquery.NewDocumentFromReader(wrapRows(body))
	if err != nil {
		return nil, fmt.Errorf("parse markup: %w", err)
	}

	rows := doc.Find(rowSelector)
	listings := make([]domain.RawListing, 0, rows.Length())
	dropped := 0

	rows.Each(func(_ int, row *goquery.Selection) {
		listing, ok := e.extractRow(row)
		if !ok {
			dropped++
			return
		}
		listings = append(listings, listing)
	})

	e.logger.Debug("extracted listings",
		"rows", rows.Length(),
		"listings", len(listings),
		"dropped", dropped,
	)

	return listings, nil
}

func (e *Extractor) extractRow(row *goquery.Selection) (domain.RawListing, bool) {
	var listing domain.RawListing

	if attr, ok := row.Attr("data-price"); ok && strings.TrimSpace(attr) != "" {
		price, err := decimal.NewFromString(strings.TrimSpace(attr))
		if err != nil {
			return listing, false
		}
		listing.Price = price
	}

	link := row.Find("span#titleText a[href]").First()
	if link.Length() > 0 {
		listing.URL, _ = link.Attr("href")
		listing.Title = strings.TrimSpace(link.Text())
	}

	rowHTML, err := goquery.OuterHtml(row)
	if err != nil {
		rowHTML = ""
	}
	for _, rule := range dateRules {
		if v := rule.find(row, rowHTML); v != "" {
			listing.RawDate = v
			break
		}
	}
	if listing.RawDate == "" && listing.Title != "" && listing.Price.IsPositive() {
		listing.RawDate = TodayFallback(e.now())
	}

	if listing.Title == "" || listing.URL == "" || !listing.Price.IsPositive() {
		return listing, false
	}
	return listing, true
}

// wrapRows puts bare result rows inside a table; the HTML parser discards <tr>
// elements that appear outside one.
func wrapRows(body []byte) io.Reader {
	if bytes.Contains(bytes.ToLower(body), []byte("<table")) {
		return bytes.NewReader(body)
	}
	return io.MultiReader(
		strings.NewReader("<table>"),
		bytes.NewReader(body),
		strings.NewReader("</table>"),
	)
}
