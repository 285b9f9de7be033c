package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"boxtracker/internal/domain"
)

const saleColumns = `id, unique_id, source, source_url, source_item_id, title,
	total_price, unit_count, per_unit_price, variant, sale_date, sale_timestamp, created_at`

type SaleStore struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewSaleStore(db *sqlx.DB) *SaleStore {
	return &SaleStore{db: db, now: time.Now}
}

func (s *SaleStore) Exists(ctx context.Context, uniqueID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS (SELECT 1 FROM sales WHERE unique_id = ?)", uniqueID)
	if err != nil {
		return false, fmt.Errorf("check sale exists: %w", err)
	}
	return exists, nil
}

// Insert stores sale unless its unique identity is already present, in which
// case it returns false and leaves the existing row untouched.
func (s *SaleStore) Insert(ctx context.Context, sale *domain.Sale) (bool, error) {
	createdAt := s.now().UTC().Truncate(time.Second)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sales (
			unique_id, source, source_url, source_item_id, title, total_price,
			unit_count, per_unit_price, variant, sale_date, sale_timestamp, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (unique_id) DO NOTHING`,
		sale.UniqueID,
		string(sale.Source),
		sale.SourceURL,
		nullable(sale.SourceItemID),
		sale.Title,
		sale.TotalPrice.StringFixed(2),
		sale.UnitCount,
		sale.PerUnitPrice.StringFixed(2),
		string(sale.Variant),
		sale.SaleDate,
		sale.SaleTime,
		createdAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert sale: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert sale: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	id, err := res.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("insert sale: %w", err)
	}
	sale.ID = id
	sale.CreatedAt = createdAt
	return true, nil
}

func (s *SaleStore) GetByUniqueID(ctx context.Context, uniqueID string) (*domain.Sale, error) {
	var sale domain.Sale
	err := s.db.GetContext(ctx, &sale,
		"SELECT "+saleColumns+" FROM sales WHERE unique_id = ?", uniqueID)
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
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM sales"); err != nil {
		return 0, fmt.Errorf("count sales: %w", err)
	}
	return n, nil
}

// DeleteSalesFrom removes every sale dated on or after date (YYYY-MM-DD).
func (s *SaleStore) DeleteSalesFrom(ctx context.Context, date string) (int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var deleted int64
	if err := tx.GetContext(ctx, &deleted,
		"SELECT COUNT(*) FROM sales WHERE sale_date >= ?", date); err != nil {
		return 0, fmt.Errorf("count sales: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM sales WHERE sale_date >= ?", date); err != nil {
		return 0, fmt.Errorf("delete sales: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return deleted, nil
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
