package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"boxtracker/internal/domain"
	"boxtracker/internal/storage"
	"boxtracker/migrations"
)

const uniqueViolation = pq.ErrorCode("23505")

// IsDuplicateKey reports whether err is a unique constraint violation.
func IsDuplicateKey(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// Migrate applies the embedded Postgres schema.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	return storage.Migrate(ctx, db, migrations.FS, "postgres")
}

const saleColumns = `id, unique_id, source, source_url, source_item_id, title,
	total_price, unit_count, per_unit_price, variant, sale_date::text AS sale_date,
	sale_timestamp, created_at`

type SaleStore struct {
	db *sqlx.DB
	tx *TransactionManager
}

func NewSaleStore(db *sqlx.DB) *SaleStore {
	return &SaleStore{db: db, tx: NewTransactionManager(db)}
}

func (s *SaleStore) Exists(ctx context.Context, uniqueID string) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &exists,
		"SELECT EXISTS (SELECT 1 FROM sales WHERE unique_id = $1)", uniqueID)
	if err != nil {
		return false, fmt.Errorf("check sale exists: %w", err)
	}
	return exists, nil
}

// Insert stores sale and fills its ID and CreatedAt. It returns false without
// error when the unique identity is already present; the unique constraint is
// the authority, not a prior Exists call.
func (s *SaleStore) Insert(ctx context.Context, sale *domain.Sale) (bool, error) {
	query := `
		INSERT INTO sales (
			unique_id, source, source_url, source_item_id, title, total_price,
			unit_count, per_unit_price, variant, sale_date, sale_timestamp
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
		RETURNING id, created_at`

	err := GetExecutor(ctx, s.db).QueryRowxContext(ctx, query,
		sale.UniqueID,
		string(sale.Source),
		sale.SourceURL,
		sale.SourceItemID,
		sale.Title,
		sale.TotalPrice,
		sale.UnitCount,
		sale.PerUnitPrice,
		string(sale.Variant),
		sale.SaleDate,
		sale.SaleTime,
	).Scan(&sale.ID, &sale.CreatedAt)

	if IsDuplicateKey(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert sale: %w", err)
	}
	return true, nil
}

func (s *SaleStore) GetByUniqueID(ctx context.Context, uniqueID string) (*domain.Sale, error) {
	var sale domain.Sale
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &sale,
		"SELECT "+saleColumns+" FROM sales WHERE unique_id = $1", uniqueID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sale: %w", err)
	}
	return &sale, nil
}

func (s *SaleStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &n, "SELECT COUNT(*) FROM sales"); err != nil {
		return 0, fmt.Errorf("count sales: %w", err)
	}
	return n, nil
}

// DeleteSalesFrom removes every sale dated on or after date (YYYY-MM-DD) and
// returns how many were removed.
func (s *SaleStore) DeleteSalesFrom(ctx context.Context, date string) (int64, error) {
	var deleted int64

	err := s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		exec := GetExecutor(txCtx, s.db)

		if err := sqlx.GetContext(txCtx, exec, &deleted,
			"SELECT COUNT(*) FROM sales WHERE sale_date >= $1", date); err != nil {
			return fmt.Errorf("count sales: %w", err)
		}
		if deleted == 0 {
			return nil
		}
		if _, err := exec.ExecContext(txCtx, "DELETE FROM sales WHERE sale_date >= $1", date); err != nil {
			return fmt.Errorf("delete sales: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return deleted, nil
}
