package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/dealradar/dealradar/internal/domain"
	"github.com/dealradar/dealradar/internal/persistence"
)

type priceHistoryRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPriceHistoryRepo creates a Postgres price-history repository.
func NewPriceHistoryRepo(db *sqlx.DB, timeout time.Duration) persistence.PriceHistoryRepo {
	return &priceHistoryRepo{db: db, timeout: timeout}
}

func (r *priceHistoryRepo) Append(ctx context.Context, point *domain.PriceHistoryPoint) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO price_history (deal_id, price, available_inventory, recorded_at)
		VALUES ($1, $2, $3, $4)`,
		point.DealID, point.Price, point.AvailableInventory, point.RecordedAt)
	if err != nil {
		return fmt.Errorf("failed to append price history for %s: %w", point.DealID, err)
	}
	return nil
}

func (r *priceHistoryRepo) ListSince(ctx context.Context, dealID string, cutoff time.Time) ([]domain.PriceHistoryPoint, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var points []domain.PriceHistoryPoint
	err := r.db.SelectContext(ctx, &points, `
		SELECT id, deal_id, price, available_inventory, recorded_at
		FROM price_history
		WHERE deal_id = $1 AND recorded_at >= $2
		ORDER BY recorded_at DESC`,
		dealID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list price history for %s: %w", dealID, err)
	}
	return points, nil
}

func (r *priceHistoryRepo) AverageSince(ctx context.Context, dealID string, cutoff time.Time) (float64, int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row struct {
		Avg   *float64 `db:"avg"`
		Count int      `db:"count"`
	}
	err := r.db.GetContext(ctx, &row, `
		SELECT avg(price) AS avg, count(*) AS count
		FROM price_history
		WHERE deal_id = $1 AND recorded_at >= $2`,
		dealID, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to average price history for %s: %w", dealID, err)
	}
	if row.Avg == nil {
		return 0, 0, nil
	}
	return *row.Avg, row.Count, nil
}
