package sqlite

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"boxtracker/internal/domain"
)

type FetchRunStore struct {
	db *sqlx.DB
}

func NewFetchRunStore(db *sqlx.DB) *FetchRunStore {
	return &FetchRunStore{db: db}
}

func (s *FetchRunStore) Record(ctx context.Context, run *domain.FetchRun) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO fetch_history (
			cycle_id, fetch_timestamp, query_term, total_results,
			new_sales_added, duplicates_skipped, errors
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.CycleID,
		run.FetchedAt.UTC(),
		run.QueryTerm,
		run.TotalResults,
		run.NewSalesAdded,
		run.DuplicatesSkipped,
		nullable(run.Errors),
	)
	if err != nil {
		return fmt.Errorf("insert fetch run: %w", err)
	}
	if run.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("insert fetch run: %w", err)
	}
	return nil
}

// Recent returns up to limit history rows, newest first.
func (s *FetchRunStore) Recent(ctx context.Context, limit int) ([]domain.FetchRun, error) {
	var runs []domain.FetchRun
	err := s.db.SelectContext(ctx, &runs, `
		SELECT id, cycle_id, fetch_timestamp, query_term, total_results,
			new_sales_added, duplicates_skipped, errors
		FROM fetch_history
		ORDER BY fetch_timestamp DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("select fetch runs: %w", err)
	}
	return runs, nil
}
