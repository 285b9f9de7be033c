// Package parser turns an accepted listing into a canonical sale record: variant,
// unit count, per-unit price, stable identity and a timestamp normalized to the
// reporting timezone.
//
// Variant, count and date detection are ordered rule tables evaluated first match
// wins, each ending in an explicit default.
package parser

import (
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"boxtracker/internal/domain"
	"boxtracker/internal/textnorm"
)

// PriceScale is the number of decimal places kept on per-unit prices.
const PriceScale = 2

type Parser struct {
	now    func() time.Time
	logger *slog.Logger
}

// New creates a Parser. A nil now defaults to time.Now.
func New(now func() time.Time, logger *slog.Logger) *Parser {
	if now == nil {
		now = time.Now
	}
	return &Parser{
		now:    now,
		logger: logger.With("component", "parser"),
	}
}

// Parse derives every Sale field except the persistence metadata (ID, CreatedAt).
func (p *Parser) Parse(title, url string, price decimal.Decimal, rawDate string) domain.Sale {
	normalized := textnorm.Title(title)

	variant, variantRule := DetectVariant(normalized)
	units, unitRule := ExtractUnitCount(normalized, variant)

	source := DetectSource(url)
	sale := domain.Sale{
		UniqueID:     UniqueID(url, source),
		Source:       source,
		SourceURL:    url,
		Title:        strings.TrimSpace(title),
		TotalPrice:   price,
		UnitCount:    units,
		PerUnitPrice: PerUnitPrice(price, units),
		Variant:      variant,
	}
	if source == domain.SourceEbay {
		if id, ok := ExtractItemID(url); ok {
			sale.SourceItemID = &id
		}
	}

	saleTime, ok := ParseSaleTime(rawDate, p.now())
	if !ok {
		p.logger.Warn("unrecognized sale date, using current time",
			"raw_date", rawDate,
			"unique_id", sale.UniqueID,
		)
	}
	sale.SaleTime = saleTime.Unix()
	sale.SaleDate = SaleDate(saleTime)

	p.logger.Debug("parsed listing",
		"unique_id", sale.UniqueID,
		"variant", variant,
		"variant_rule", variantRule,
		"unit_count", units,
		"unit_rule", unitRule,
	)

	return sale
}

// PerUnitPrice divides a total price across units, rounding half away from zero
// to PriceScale places. units below 1 are treated as 1.
func PerUnitPrice(total decimal.Decimal, units int) decimal.Decimal {
	if units < 1 {
		units = 1
	}
	return total.DivRound(decimal.NewFromInt(int64(units)), PriceScale)
}

var nonPriceChars = regexp.MustCompile(`[^\d.]`)

// ParsePrice reads a display price such as "$1,299.99". Unreadable input yields zero.
func ParsePrice(s string) decimal.Decimal {
	cleaned := nonPriceChars.ReplaceAllString(s, "")
	if cleaned == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero
	}
	return d
}
