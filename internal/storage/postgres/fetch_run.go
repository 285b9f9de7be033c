package postgres

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

// Record appends run to the fetch history and sets its ID.
func (s *FetchRunStore) Record(ctx context.Context, run *domain.FetchRun) error {
	query := `
		INSERT INTO fetch_history (
			cycle_id, fetch_timestamp, query_term, total_results,
			new_sales_added, duplicates_skipped, errors
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	err := GetExecutor(ctx, s.db).QueryRowxContext(ctx, query,
		run.CycleID,
		run.FetchedAt,
		run.QueryTerm,
		run.TotalResults,
		run.NewSalesAdded,
		run.DuplicatesSkipped,
		run.Errors,
	).Scan(&run.ID)
	if err != nil {
		return fmt.Errorf("insert fetch run: %w", err)
	}
	return nil
}

// Recent returns up to limit history rows, newest first.
func (s *FetchRunStore) Recent(ctx context.Context, limit int) ([]domain.FetchRun, error) {
	query := `
		SELECT id, cycle_id, fetch_timestamp, query_term, total_results,
			new_sales_added, duplicates_skipped, errors
		FROM fetch_history
		ORDER BY fetch_timestamp DESC, id DESC
		LIMIT $1`

	var runs []domain.FetchRun
	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &runs, query, limit); err != nil {
		return nil, fmt.Errorf("select fetch runs: %w", err)
	}
	return runs, nil
}
