package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"boxtracker/internal/domain"
)

type SQLiteSuite struct {
	suite.Suite
	ctx context.Context
	db  *sqlx.DB
}

func (s *SQLiteSuite) SetupTest() {
	s.ctx = context.Background()

	db, err := Open(filepath.Join(s.T().TempDir(), "data", "sales.db"))
	s.Require().NoError(err)
	s.db = db

	s.Require().NoError(Migrate(s.ctx, s.db))
	s.Require().NoError(Migrate(s.ctx, s.db))
}

func (s *SQLiteSuite) TearDownTest() {
	if s.db != nil {
		s.db.Close()
	}
}

func TestSQLiteSuite(t *testing.T) {
	suite.Run(t, new(SQLiteSuite))
}

func ptr[T any](v T) *T {
	return &v
}

func newSale(uniqueID, saleDate string) *domain.Sale {
	return &domain.Sale{
		UniqueID:     uniqueID,
		Source:       domain.SourceEbay,
		SourceURL:    "https://www.ebay.com/itm/" + uniqueID,
		SourceItemID: ptr(uniqueID),
		Title:        "2025 Bowman Draft Super Jumbo Box",
		TotalPrice:   decimal.RequireFromString("749.99"),
		UnitCount:    1,
		PerUnitPrice: decimal.RequireFromString("749.99"),
		Variant:      domain.VariantJumbo,
		SaleDate:     saleDate,
		SaleTime:     1762300800,
	}
}

func (s *SQLiteSuite) TestSaleStore_InsertAndGet() {
	store := NewSaleStore(s.db)
	store.now = func() time.Time { return time.Date(2025, 11, 5, 10, 30, 0, 0, time.UTC) }

	sale := newSale("ebay_1", "2025-11-05")
	inserted, err := store.Insert(s.ctx, sale)
	s.Require().NoError(err)
	s.True(inserted)
	s.Greater(sale.ID, int64(0))

	got, err := store.GetByUniqueID(s.ctx, "ebay_1")
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.Equal(sale.ID, got.ID)
	s.Equal(domain.SourceEbay, got.Source)
	s.Equal(domain.VariantJumbo, got.Variant)
	s.Equal("2025-11-05", got.SaleDate)
	s.Equal("ebay_1", *got.SourceItemID)
	s.True(decimal.RequireFromString("749.99").Equal(got.PerUnitPrice))
	s.True(got.CreatedAt.Equal(sale.CreatedAt))
}

func (s *SQLiteSuite) TestSaleStore_NullSourceItemID() {
	store := NewSaleStore(s.db)
	sale := newSale("other_abc", "2025-11-05")
	sale.Source = domain.SourceOther
	sale.SourceItemID = nil

	_, err := store.Insert(s.ctx, sale)
	s.Require().NoError(err)

	got, err := store.GetByUniqueID(s.ctx, "other_abc")
	s.Require().NoError(err)
	s.Nil(got.SourceItemID)
}

func (s *SQLiteSuite) TestSaleStore_InsertDuplicate() {
	store := NewSaleStore(s.db)

	inserted, err := store.Insert(s.ctx, newSale("ebay_2", "2025-11-05"))
	s.Require().NoError(err)
	s.True(inserted)

	dup := newSale("ebay_2", "2025-11-07")
	inserted, err = store.Insert(s.ctx, dup)
	s.NoError(err)
	s.False(inserted)
	s.Zero(dup.ID)

	got, err := store.GetByUniqueID(s.ctx, "ebay_2")
	s.Require().NoError(err)
	s.Equal("2025-11-05", got.SaleDate)
}

func (s *SQLiteSuite) TestSaleStore_Exists() {
	store := NewSaleStore(s.db)

	exists, err := store.Exists(s.ctx, "ebay_3")
	s.NoError(err)
	s.False(exists)

	_, err = store.Insert(s.ctx, newSale("ebay_3", "2025-11-05"))
	s.Require().NoError(err)

	exists, err = store.Exists(s.ctx, "ebay_3")
	s.NoError(err)
	s.True(exists)
}

func (s *SQLiteSuite) TestSaleStore_GetMissing() {
	got, err := NewSaleStore(s.db).GetByUniqueID(s.ctx, "nope")
	s.NoError(err)
	s.Nil(got)
}

func (s *SQLiteSuite) TestSaleStore_DeleteSalesFrom() {
	store := NewSaleStore(s.db)
	for _, d := range []struct{ id, date string }{
		{"ebay_a", "2025-10-31"},
		{"ebay_b", "2025-11-01"},
		{"ebay_c", "2025-11-02"},
	} {
		_, err := store.Insert(s.ctx, newSale(d.id, d.date))
		s.Require().NoError(err)
	}

	deleted, err := store.DeleteSalesFrom(s.ctx, "2025-11-01")
	s.NoError(err)
	s.Equal(int64(2), deleted)

	n, err := store.Count(s.ctx)
	s.NoError(err)
	s.Equal(int64(1), n)

	exists, err := store.Exists(s.ctx, "ebay_a")
	s.NoError(err)
	s.True(exists)
}

func (s *SQLiteSuite) TestFetchRunStore_RecordAndRecent() {
	store := NewFetchRunStore(s.db)
	base := time.Date(2025, 11, 5, 12, 0, 0, 0, time.UTC)

	for i, errs := range []*string{nil, ptr("2025 Bowman Draft Delight: fetch: exhausted")} {
		run := &domain.FetchRun{
			CycleID:       []string{"cycle-1", "cycle-2"}[i],
			FetchedAt:     base.Add(time.Duration(i) * time.Hour),
			QueryTerm:     "all_terms",
			TotalResults:  10 + i,
			NewSalesAdded: i,
			Errors:        errs,
		}
		s.Require().NoError(store.Record(s.ctx, run))
		s.Greater(run.ID, int64(0))
	}

	runs, err := store.Recent(s.ctx, 5)
	s.Require().NoError(err)
	s.Require().Len(runs, 2)

	s.Equal("cycle-2", runs[0].CycleID)
	s.Equal(11, runs[0].TotalResults)
	s.Require().NotNil(runs[0].Errors)
	s.Contains(*runs[0].Errors, "exhausted")
	s.True(base.Add(time.Hour).Equal(runs[0].FetchedAt))

	s.Equal("cycle-1", runs[1].CycleID)
	s.Nil(runs[1].Errors)
}
