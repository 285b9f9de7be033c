package parser

import (
	"strings"
	"time"

	"boxtracker/internal/domain"
)

// TargetZone is the fixed reporting timezone: UTC-5 with no daylight saving.
var TargetZone = time.FixedZone("EST", -5*60*60)

type dateLayout struct {
	layout string
	utc    bool // the layout carries a GMT/UTC marker and must be shifted
}

// dateLayouts are tried in order; the first that parses wins.
var dateLayouts = []dateLayout{
	{layout: "Mon 2 Jan 2006 15:04:05 GMT", utc: true},
	{layout: "Mon 2 Jan 2006 15:04:05 UTC", utc: true},
	{layout: "Mon, 2 Jan 2006 15:04:05 GMT", utc: true},
	{layout: "2006-01-02T15:04:05Z", utc: true},

	{layout: "Mon 2 Jan 2006"},
	{layout: "2 Jan 2006"},
	{layout: "1/2/2006"},
	{layout: "1/2/06"},
	{layout: "2006-01-02"},
	{layout: "Jan 2, 2006"},
	{layout: "Jan 2 2006"},
	{layout: "January 2, 2006"},
}

// ParseSaleTime resolves raw date text into a time in TargetZone. ok is false when
// no layout matched and now was used instead.
func ParseSaleTime(raw string, now time.Time) (time.Time, bool) {
	raw = strings.Join(strings.Fields(raw), " ")
	if raw != "" {
		for _, l := range dateLayouts {
			if l.utc {
				t, err := time.ParseInLocation(l.layout, raw, time.UTC)
				if err == nil {
					return t.In(TargetZone), true
				}
				continue
			}
			t, err := time.ParseInLocation(l.layout, raw, TargetZone)
			if err == nil {
				return t, true
			}
		}
	}
	return now.In(TargetZone), false
}

// SaleDate formats the calendar day of t in TargetZone.
func SaleDate(t time.Time) string {
	return t.In(TargetZone).Format(domain.SaleDateLayout)
}
