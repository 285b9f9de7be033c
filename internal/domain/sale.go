package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Variant is the packaging category of a sealed box.
type Variant string

const (
	VariantHobby           Variant = "hobby"
	VariantBreakersDelight Variant = "breakers_delight"
	VariantJumbo           Variant = "jumbo"
)

// Variants lists every known variant in reporting order.
var Variants = []Variant{VariantJumbo, VariantBreakersDelight, VariantHobby}

func (v Variant) Valid() bool {
	switch v {
	case VariantHobby, VariantBreakersDelight, VariantJumbo:
		return true
	}
	return false
}

// Source identifies where a sale was observed.
type Source string

const (
	SourceEbay  Source = "ebay"
	SourceOther Source = "other"
)

// RawListing is a single row lifted from a search response before classification.
type RawListing struct {
	Title   string
	URL     string
	Price   decimal.Decimal
	RawDate string
}

// Sale is a persisted box sale. UniqueID is the deduplication key.
type Sale struct {
	ID           int64           `db:"id" json:"-"`
	UniqueID     string          `db:"unique_id" json:"unique_id"`
	Source       Source          `db:"source" json:"source"`
	SourceURL    string          `db:"source_url" json:"source_url"`
	SourceItemID *string         `db:"source_item_id" json:"source_item_id,omitempty"`
	Title        string          `db:"title" json:"title"`
	TotalPrice   decimal.Decimal `db:"total_price" json:"total_price"`
	UnitCount    int             `db:"unit_count" json:"unit_count"`
	PerUnitPrice decimal.Decimal `db:"per_unit_price" json:"per_unit_price"`
	Variant      Variant         `db:"variant" json:"variant"`
	SaleDate     string          `db:"sale_date" json:"sale_date"` // YYYY-MM-DD in the target timezone
	SaleTime     int64           `db:"sale_timestamp" json:"sale_timestamp"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// SaleDateLayout is the calendar-day format used for Sale.SaleDate.
const SaleDateLayout = "2006-01-02"
