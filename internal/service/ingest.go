package service

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"boxtracker/internal/domain"
	"boxtracker/internal/metrics"
)

// AllTermsQuery is the query term recorded on the single fetch history row a
// cycle writes for all of its search terms.
const AllTermsQuery = "all_terms"

const recordTimeout = 10 * time.Second

type IngestService struct {
	terms      []string
	fetcher    Fetcher
	extractor  Extractor
	classifier Classifier
	parser     TitleParser
	sales      SaleStore
	runs       FetchRunStore
	seen       SeenCache
	publisher  Publisher
	minDate    string
	logger     *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewIngestService wires one ingestion cycle. seen and publisher are optional
// and may be nil.
func NewIngestService(
	terms []string,
	fetcher Fetcher,
	extractor Extractor,
	classifier Classifier,
	parser TitleParser,
	sales SaleStore,
	runs FetchRunStore,
	seen SeenCache,
	publisher Publisher,
	logger *slog.Logger,
	minSaleDate time.Time,
) *IngestService {
	return &IngestService{
		terms:      terms,
		fetcher:    fetcher,
		extractor:  extractor,
		classifier: classifier,
		parser:     parser,
		sales:      sales,
		runs:       runs,
		seen:       seen,
		publisher:  publisher,
		minDate:    minSaleDate.Format(domain.SaleDateLayout),
		logger:     logger.With("component", "ingest"),
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// RunOnce executes one cycle over every search term. It never fails: per-term
// errors, including panics, are recorded in the returned stats and the
// remaining terms still run. One fetch history row is written per call.
func (s *IngestService) RunOnce(ctx context.Context) *domain.CycleStats {
	started := s.now()
	stats := domain.NewCycleStats(s.newID(), started)
	logger := s.logger.With("cycle_id", stats.CycleID)

	logger.Info("starting cycle", "terms", len(s.terms), "min_sale_date", s.minDate)

	for _, term := range s.terms {
		if err := ctx.Err(); err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("cycle interrupted: %v", err))
			break
		}
		if err := s.processTerm(ctx, logger, term, stats); err != nil {
			logger.Error("search term failed", "term", term, "error", err)
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", term, err))
		}
	}

	stats.Duration = s.now().Sub(started)
	s.recordRun(ctx, logger, stats)

	metrics.CycleDuration.Observe(stats.Duration.Seconds())
	metrics.CycleErrorsTotal.Add(float64(len(stats.Errors)))

	if s.publisher != nil {
		if err := s.publisher.PublishCycle(context.WithoutCancel(ctx), stats); err != nil {
			logger.Warn("failed to publish cycle summary", "error", err)
		}
	}

	logger.Info("cycle completed",
		"fetched", stats.TotalFetched,
		"box_sales", stats.BoxSales,
		"filtered", stats.Filtered,
		"stale", stats.Stale,
		"new", stats.New,
		"duplicates", stats.Duplicates,
		"errors", len(stats.Errors),
		"duration", stats.Duration,
	)

	return stats
}

func (s *IngestService) processTerm(ctx context.Context, logger *slog.Logger, term string, stats *domain.CycleStats) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while processing term",
				"term", term,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	body, err := s.fetcher.Fetch(ctx, term)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	listings, err := s.extractor.Extract(body)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	stats.TotalFetched += len(listings)

	logger.Debug("extracted listings", "term", term, "count", len(listings))

	for i := range listings {
		l := &listings[i]

		if !s.classifier.IsBoxSale(l.Title) {
			stats.Filtered++
			metrics.ListingsTotal.WithLabelValues("other").Inc()
			logger.Debug("filtered non-box listing", "title", l.Title)
			continue
		}
		stats.BoxSales++
		metrics.ListingsTotal.WithLabelValues("box").Inc()

		sale := s.parser.Parse(l.Title, l.URL, l.Price, l.RawDate)
		if err := s.store(ctx, logger, &sale, stats); err != nil {
			metrics.SalesTotal.WithLabelValues(string(sale.Variant), "error").Inc()
			logger.Error("failed to store sale", "unique_id", sale.UniqueID, "error", err)
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %s: %v", term, sale.UniqueID, err))
		}
	}

	return nil
}

func (s *IngestService) store(ctx context.Context, logger *slog.Logger, sale *domain.Sale, stats *domain.CycleStats) error {
	if sale.SaleDate < s.minDate {
		stats.Stale++
		metrics.SalesTotal.WithLabelValues(string(sale.Variant), "stale").Inc()
		logger.Warn("rejected sale before minimum date",
			"unique_id", sale.UniqueID,
			"sale_date", sale.SaleDate,
			"min_sale_date", s.minDate,
		)
		return nil
	}

	known, err := s.known(ctx, logger, sale.UniqueID)
	if err != nil {
		return fmt.Errorf("check duplicate: %w", err)
	}
	if known {
		s.countDuplicate(logger, sale, stats)
		return nil
	}

	inserted, err := s.sales.Insert(ctx, sale)
	if err != nil {
		return fmt.Errorf("insert sale: %w", err)
	}
	s.markSeen(ctx, logger, sale.UniqueID)
	if !inserted {
		s.countDuplicate(logger, sale, stats)
		return nil
	}

	stats.New++
	stats.ByVariant[sale.Variant]++
	metrics.SalesTotal.WithLabelValues(string(sale.Variant), "new").Inc()

	logger.Info("new sale",
		"unique_id", sale.UniqueID,
		"variant", sale.Variant,
		"unit_count", sale.UnitCount,
		"per_unit_price", sale.PerUnitPrice.StringFixed(2),
		"sale_date", sale.SaleDate,
	)

	if s.publisher != nil {
		if err := s.publisher.PublishSale(ctx, sale); err != nil {
			logger.Warn("failed to publish sale", "unique_id", sale.UniqueID, "error", err)
		}
	}

	return nil
}

func (s *IngestService) countDuplicate(logger *slog.Logger, sale *domain.Sale, stats *domain.CycleStats) {
	stats.Duplicates++
	metrics.SalesTotal.WithLabelValues(string(sale.Variant), "duplicate").Inc()
	logger.Debug("skipped duplicate sale", "unique_id", sale.UniqueID)
}

// known checks the seen cache first and the store second. A cache failure only
// costs the shortcut.
func (s *IngestService) known(ctx context.Context, logger *slog.Logger, uniqueID string) (bool, error) {
	if s.seen != nil {
		seen, err := s.seen.Seen(ctx, uniqueID)
		if err != nil {
			logger.Warn("seen cache lookup failed", "unique_id", uniqueID, "error", err)
		} else if seen {
			return true, nil
		}
	}

	exists, err := s.sales.Exists(ctx, uniqueID)
	if err != nil {
		return false, err
	}
	if exists {
		s.markSeen(ctx, logger, uniqueID)
	}
	return exists, nil
}

func (s *IngestService) markSeen(ctx context.Context, logger *slog.Logger, uniqueID string) {
	if s.seen == nil {
		return
	}
	if err := s.seen.Mark(ctx, uniqueID); err != nil {
		logger.Warn("seen cache update failed", "unique_id", uniqueID, "error", err)
	}
}

func (s *IngestService) recordRun(ctx context.Context, logger *slog.Logger, stats *domain.CycleStats) {
	run := &domain.FetchRun{
		CycleID:           stats.CycleID,
		FetchedAt:         stats.StartedAt,
		QueryTerm:         AllTermsQuery,
		TotalResults:      stats.TotalFetched,
		NewSalesAdded:     stats.New,
		DuplicatesSkipped: stats.Duplicates,
	}
	if len(stats.Errors) > 0 {
		joined := strings.Join(stats.Errors, "; ")
		run.Errors = &joined
	}

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if err := s.runs.Record(recordCtx, run); err != nil {
		logger.Error("failed to record fetch run", "error", err)
		stats.Errors = append(stats.Errors, fmt.Sprintf("record fetch run: %v", err))
	}
}
