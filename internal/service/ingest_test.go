package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"boxtracker/internal/domain"
	"boxtracker/internal/service/mocks"
	"boxtracker/internal/source/marketplace"
)

var (
	cycleStart  = time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC)
	minSaleDate = time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC)
)

type IngestServiceTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	fetcher    *mocks.MockFetcher
	extractor  *mocks.MockExtractor
	classifier *mocks.MockClassifier
	parser     *mocks.MockTitleParser
	sales      *mocks.MockSaleStore
	runs       *mocks.MockFetchRunStore
	seen       *mocks.MockSeenCache
	publisher  *mocks.MockPublisher

	logger   *slog.Logger
	recorded []*domain.FetchRun
}

func (s *IngestServiceTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())

	s.fetcher = mocks.NewMockFetcher(s.ctrl)
	s.extractor = mocks.NewMockExtractor(s.ctrl)
	s.classifier = mocks.NewMockClassifier(s.ctrl)
	s.parser = mocks.NewMockTitleParser(s.ctrl)
	s.sales = mocks.NewMockSaleStore(s.ctrl)
	s.runs = mocks.NewMockFetchRunStore(s.ctrl)
	s.seen = mocks.NewMockSeenCache(s.ctrl)
	s.publisher = mocks.NewMockPublisher(s.ctrl)

	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	s.recorded = nil
}

func (s *IngestServiceTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestIngestServiceTestSuite(t *testing.T) {
	suite.Run(t, new(IngestServiceTestSuite))
}

func (s *IngestServiceTestSuite) newService(terms []string, seen SeenCache, publisher Publisher, sales SaleStore) *IngestService {
	if sales == nil {
		sales = s.sales
	}
	svc := NewIngestService(
		terms,
		s.fetcher,
		s.extractor,
		s.classifier,
		s.parser,
		sales,
		s.runs,
		seen,
		publisher,
		s.logger,
		minSaleDate,
	)
	svc.now = func() time.Time { return cycleStart }
	svc.newID = func() string { return "cycle-1" }
	return svc
}

func (s *IngestServiceTestSuite) expectRecord() {
	s.runs.EXPECT().Record(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, run *domain.FetchRun) error {
			s.recorded = append(s.recorded, run)
			return nil
		},
	)
}

func listing(id, title string) domain.RawListing {
	return domain.RawListing{
		Title:   title,
		URL:     "https://www.ebay.com/itm/" + id,
		Price:   decimal.RequireFromString("300"),
		RawDate: "12/30/2025",
	}
}

func sale(id string, variant domain.Variant, date string) domain.Sale {
	return domain.Sale{
		UniqueID:     "ebay_" + id,
		Source:       domain.SourceEbay,
		SourceURL:    "https://www.ebay.com/itm/" + id,
		Title:        "box " + id,
		TotalPrice:   decimal.RequireFromString("300"),
		UnitCount:    1,
		PerUnitPrice: decimal.RequireFromString("300"),
		Variant:      variant,
		SaleDate:     date,
	}
}

func (s *IngestServiceTestSuite) expectParse(l domain.RawListing, out domain.Sale) {
	s.parser.EXPECT().Parse(l.Title, l.URL, l.Price, l.RawDate).Return(out)
}

func (s *IngestServiceTestSuite) TestRunOnce_NewDuplicateAndFiltered() {
	svc := s.newService([]string{"jumbo"}, nil, nil, nil)

	newBox := listing("1", "Jumbo Box")
	dupBox := listing("2", "Hobby Box")
	card := listing("3", "Chrome Autograph")

	s.fetcher.EXPECT().Fetch(gomock.Any(), "jumbo").Return([]byte("body"), nil)
	s.extractor.EXPECT().Extract([]byte("body")).Return([]domain.RawListing{newBox, dupBox, card}, nil)

	s.classifier.EXPECT().IsBoxSale("Jumbo Box").Return(true)
	s.classifier.EXPECT().IsBoxSale("Hobby Box").Return(true)
	s.classifier.EXPECT().IsBoxSale("Chrome Autograph").Return(false)

	s.expectParse(newBox, sale("1", domain.VariantJumbo, "2025-12-30"))
	s.expectParse(dupBox, sale("2", domain.VariantHobby, "2025-12-30"))

	s.sales.EXPECT().Exists(gomock.Any(), "ebay_1").Return(false, nil)
	s.sales.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(true, nil)
	s.sales.EXPECT().Exists(gomock.Any(), "ebay_2").Return(true, nil)
	s.expectRecord()

	stats := svc.RunOnce(context.Background())

	s.Equal("cycle-1", stats.CycleID)
	s.Equal(3, stats.TotalFetched)
	s.Equal(2, stats.BoxSales)
	s.Equal(1, stats.Filtered)
	s.Equal(1, stats.New)
	s.Equal(1, stats.Duplicates)
	s.Equal(1, stats.ByVariant[domain.VariantJumbo])
	s.Equal(0, stats.ByVariant[domain.VariantHobby])
	s.Equal(0, stats.ByVariant[domain.VariantBreakersDelight])
	s.Empty(stats.Errors)

	s.Require().Len(s.recorded, 1)
	run := s.recorded[0]
	s.Equal("cycle-1", run.CycleID)
	s.Equal(AllTermsQuery, run.QueryTerm)
	s.Equal(3, run.TotalResults)
	s.Equal(1, run.NewSalesAdded)
	s.Equal(1, run.DuplicatesSkipped)
	s.Nil(run.Errors)
	s.Equal(cycleStart, run.FetchedAt)
}

func (s *IngestServiceTestSuite) TestRunOnce_ExhaustedTermDoesNotStopOthers() {
	svc := s.newService([]string{"hobby", "jumbo", "delight"}, nil, nil, nil)

	exhausted := fmt.Errorf("%w for %q after 5 attempts: %w", marketplace.ErrFetchExhausted, "hobby", errors.New("unexpected status: 503"))
	box := listing("9", "Jumbo Box")

	gomock.InOrder(
		s.fetcher.EXPECT().Fetch(gomock.Any(), "hobby").Return(nil, exhausted),
		s.fetcher.EXPECT().Fetch(gomock.Any(), "jumbo").Return([]byte("jumbo-body"), nil),
		s.fetcher.EXPECT().Fetch(gomock.Any(), "delight").Return([]byte("delight-body"), nil),
	)
	s.extractor.EXPECT().Extract([]byte("jumbo-body")).Return([]domain.RawListing{box}, nil)
	s.extractor.EXPECT().Extract([]byte("delight-body")).Return(nil, nil)
	s.classifier.EXPECT().IsBoxSale("Jumbo Box").Return(true)
	s.expectParse(box, sale("9", domain.VariantJumbo, "2026-01-02"))
	s.sales.EXPECT().Exists(gomock.Any(), "ebay_9").Return(false, nil)
	s.sales.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(true, nil)
	s.expectRecord()

	stats := svc.RunOnce(context.Background())

	s.Equal(1, stats.New)
	s.Require().Len(stats.Errors, 1)
	s.Contains(stats.Errors[0], "hobby")
	s.Contains(stats.Errors[0], "fetch attempts exhausted")

	s.Require().Len(s.recorded, 1)
	s.Require().NotNil(s.recorded[0].Errors)
	s.Contains(*s.recorded[0].Errors, "hobby")
}

func (s *IngestServiceTestSuite) TestRunOnce_RejectsSalesBeforeMinimumDate() {
	svc := s.newService([]string{"hobby"}, nil, nil, nil)

	old := listing("5", "Hobby Box")
	edge := listing("6", "Hobby Box Case")

	s.fetcher.EXPECT().Fetch(gomock.Any(), "hobby").Return([]byte("b"), nil)
	s.extractor.EXPECT().Extract(gomock.Any()).Return([]domain.RawListing{old, edge}, nil)
	s.classifier.EXPECT().IsBoxSale(gomock.Any()).Return(true).Times(2)
	s.expectParse(old, sale("5", domain.VariantHobby, "2025-10-31"))
	s.expectParse(edge, sale("6", domain.VariantHobby, "2025-11-01"))
	s.sales.EXPECT().Exists(gomock.Any(), "ebay_6").Return(false, nil)
	s.sales.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(true, nil)
	s.expectRecord()

	stats := svc.RunOnce(context.Background())

	s.Equal(1, stats.Stale)
	s.Equal(1, stats.New)
	s.Equal(2, stats.BoxSales)
}

func (s *IngestServiceTestSuite) TestRunOnce_InsertConflictCountsAsDuplicate() {
	svc := s.newService([]string{"hobby"}, nil, nil, nil)
	box := listing("7", "Hobby Box")

	s.fetcher.EXPECT().Fetch(gomock.Any(), "hobby").Return([]byte("b"), nil)
	s.extractor.EXPECT().Extract(gomock.Any()).Return([]domain.RawListing{box}, nil)
	s.classifier.EXPECT().IsBoxSale("Hobby Box").Return(true)
	s.expectParse(box, sale("7", domain.VariantHobby, "2025-12-30"))
	s.sales.EXPECT().Exists(gomock.Any(), "ebay_7").Return(false, nil)
	s.sales.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(false, nil)
	s.expectRecord()

	stats := svc.RunOnce(context.Background())

	s.Equal(0, stats.New)
	s.Equal(1, stats.Duplicates)
	s.Empty(stats.Errors)
}

func (s *IngestServiceTestSuite) TestRunOnce_StoreErrorIsRecordedAndCycleContinues() {
	svc := s.newService([]string{"hobby"}, nil, nil, nil)
	a := listing("10", "Hobby Box")
	b := listing("11", "Jumbo Box")

	s.fetcher.EXPECT().Fetch(gomock.Any(), "hobby").Return([]byte("b"), nil)
	s.extractor.EXPECT().Extract(gomock.Any()).Return([]domain.RawListing{a, b}, nil)
	s.classifier.EXPECT().IsBoxSale(gomock.Any()).Return(true).Times(2)
	s.expectParse(a, sale("10", domain.VariantHobby, "2025-12-30"))
	s.expectParse(b, sale("11", domain.VariantJumbo, "2025-12-30"))
	s.sales.EXPECT().Exists(gomock.Any(), "ebay_10").Return(false, errors.New("connection reset"))
	s.sales.EXPECT().Exists(gomock.Any(), "ebay_11").Return(false, nil)
	s.sales.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(true, nil)
	s.expectRecord()

	stats := svc.RunOnce(context.Background())

	s.Equal(1, stats.New)
	s.Require().Len(stats.Errors, 1)
	s.Contains(stats.Errors[0], "ebay_10")
}

func (s *IngestServiceTestSuite) TestRunOnce_PanicIsRecovered() {
	svc := s.newService([]string{"hobby", "jumbo"}, nil, nil, nil)

	s.fetcher.EXPECT().Fetch(gomock.Any(), "hobby").Return([]byte("bad"), nil)
	s.extractor.EXPECT().Extract([]byte("bad")).DoAndReturn(func([]byte) ([]domain.RawListing, error) {
		panic("malformed document")
	})
	s.fetcher.EXPECT().Fetch(gomock.Any(), "jumbo").Return([]byte("ok"), nil)
	s.extractor.EXPECT().Extract([]byte("ok")).Return(nil, nil)
	s.expectRecord()

	stats := svc.RunOnce(context.Background())

	s.Require().Len(stats.Errors, 1)
	s.Contains(stats.Errors[0], "malformed document")
	s.Len(s.recorded, 1)
}

func (s *IngestServiceTestSuite) TestRunOnce_CanceledContextStopsBeforeNextTerm() {
	svc := s.newService([]string{"hobby", "jumbo"}, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	s.fetcher.EXPECT().Fetch(gomock.Any(), "hobby").DoAndReturn(func(context.Context, string) ([]byte, error) {
		cancel()
		return nil, context.Canceled
	})
	s.expectRecord()

	stats := svc.RunOnce(ctx)

	s.Len(stats.Errors, 2)
	s.Len(s.recorded, 1)
}

func (s *IngestServiceTestSuite) TestRunOnce_RecordFailureIsReported() {
	svc := s.newService([]string{"hobby"}, nil, nil, nil)

	s.fetcher.EXPECT().Fetch(gomock.Any(), "hobby").Return([]byte("b"), nil)
	s.extractor.EXPECT().Extract(gomock.Any()).Return(nil, nil)
	s.runs.EXPECT().Record(gomock.Any(), gomock.Any()).Return(errors.New("disk full"))

	stats := svc.RunOnce(context.Background())

	s.Require().Len(stats.Errors, 1)
	s.Contains(stats.Errors[0], "disk full")
}

func (s *IngestServiceTestSuite) TestRunOnce_SeenCacheShortCircuitsStore() {
	svc := s.newService([]string{"hobby"}, s.seen, nil, nil)
	known := listing("20", "Hobby Box")
	fresh := listing("21", "Hobby Box Case")

	s.fetcher.EXPECT().Fetch(gomock.Any(), "hobby").Return([]byte("b"), nil)
	s.extractor.EXPECT().Extract(gomock.Any()).Return([]domain.RawListing{known, fresh}, nil)
	s.classifier.EXPECT().IsBoxSale(gomock.Any()).Return(true).Times(2)
	s.expectParse(known, sale("20", domain.VariantHobby, "2025-12-30"))
	s.expectParse(fresh, sale("21", domain.VariantHobby, "2025-12-30"))

	s.seen.EXPECT().Seen(gomock.Any(), "ebay_20").Return(true, nil)
	s.seen.EXPECT().Seen(gomock.Any(), "ebay_21").Return(false, errors.New("redis down"))
	s.sales.EXPECT().Exists(gomock.Any(), "ebay_21").Return(false, nil)
	s.sales.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(true, nil)
	s.seen.EXPECT().Mark(gomock.Any(), "ebay_21").Return(nil)
	s.expectRecord()

	stats := svc.RunOnce(context.Background())

	s.Equal(1, stats.Duplicates)
	s.Equal(1, stats.New)
	s.Empty(stats.Errors)
}

func (s *IngestServiceTestSuite) TestRunOnce_PublishesNewSalesAndSummary() {
	svc := s.newService([]string{"hobby"}, nil, s.publisher, nil)
	box := listing("30", "Hobby Box")

	s.fetcher.EXPECT().Fetch(gomock.Any(), "hobby").Return([]byte("b"), nil)
	s.extractor.EXPECT().Extract(gomock.Any()).Return([]domain.RawListing{box}, nil)
	s.classifier.EXPECT().IsBoxSale("Hobby Box").Return(true)
	s.expectParse(box, sale("30", domain.VariantHobby, "2025-12-30"))
	s.sales.EXPECT().Exists(gomock.Any(), "ebay_30").Return(false, nil)
	s.sales.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(true, nil)
	s.publisher.EXPECT().PublishSale(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, sale *domain.Sale) error {
			s.Equal("ebay_30", sale.UniqueID)
			return errors.New("channel closed")
		},
	)
	s.expectRecord()
	s.publisher.EXPECT().PublishCycle(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, stats *domain.CycleStats) error {
			s.Equal(1, stats.New)
			return nil
		},
	)

	stats := svc.RunOnce(context.Background())

	// Publishing is best effort and never counted as a cycle error.
	s.Empty(stats.Errors)
}

// memSales is a SaleStore with the unique-identity behavior of the real stores.
type memSales struct {
	rows map[string]domain.Sale
}

func (m *memSales) Exists(_ context.Context, uniqueID string) (bool, error) {
	_, ok := m.rows[uniqueID]
	return ok, nil
}

func (m *memSales) Insert(_ context.Context, sale *domain.Sale) (bool, error) {
	if _, ok := m.rows[sale.UniqueID]; ok {
		return false, nil
	}
	m.rows[sale.UniqueID] = *sale
	return true, nil
}

func (s *IngestServiceTestSuite) TestRunOnce_RerunYieldsOnlyDuplicates() {
	store := &memSales{rows: map[string]domain.Sale{}}
	svc := s.newService([]string{"hobby"}, nil, nil, store)

	listings := []domain.RawListing{listing("40", "Hobby Box"), listing("41", "Jumbo Box")}
	s.fetcher.EXPECT().Fetch(gomock.Any(), "hobby").Return([]byte("b"), nil).Times(2)
	s.extractor.EXPECT().Extract(gomock.Any()).Return(listings, nil).Times(2)
	s.classifier.EXPECT().IsBoxSale(gomock.Any()).Return(true).Times(4)
	s.parser.EXPECT().Parse(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(title, url string, price decimal.Decimal, rawDate string) domain.Sale {
			return sale(url[len("https://www.ebay.com/itm/"):], domain.VariantHobby, "2025-12-30")
		},
	).Times(4)
	s.expectRecord()
	s.expectRecord()

	first := svc.RunOnce(context.Background())
	second := svc.RunOnce(context.Background())

	s.Equal(2, first.New)
	s.Equal(0, first.Duplicates)
	s.Equal(0, second.New)
	s.Equal(2, second.Duplicates)
	s.Len(store.rows, 2)
	s.Len(s.recorded, 2)
}
