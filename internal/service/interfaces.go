package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"github.com/shopspring/decimal"

	"boxtracker/internal/domain"
)

type Fetcher interface {
	Fetch(ctx context.Context, term string) ([]byte, error)
}

type Extractor interface {
	Extract(body []byte) ([]domain.RawListing, error)
}

type Classifier interface {
	IsBoxSale(title string) bool
}

type TitleParser interface {
	Parse(title, url string, price decimal.Decimal, rawDate string) domain.Sale
}

// SaleStore is the persistence gateway for sales. Insert reports false when the
// identity already exists; that is not an error.
type SaleStore interface {
	Exists(ctx context.Context, uniqueID string) (bool, error)
	Insert(ctx context.Context, sale *domain.Sale) (bool, error)
}

type FetchRunStore interface {
	Record(ctx context.Context, run *domain.FetchRun) error
}

// SeenCache remembers identities already known to be stored.
type SeenCache interface {
	Seen(ctx context.Context, uniqueID string) (bool, error)
	Mark(ctx context.Context, uniqueID string) error
}

type Publisher interface {
	PublishSale(ctx context.Context, sale *domain.Sale) error
	PublishCycle(ctx context.Context, stats *domain.CycleStats) error
	Close() error
}
