package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/dealradar/dealradar/internal/domain"
	"github.com/dealradar/dealradar/internal/persistence"
)

type watchRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewWatchRepo creates a Postgres price-watch repository.
func NewWatchRepo(db *sqlx.DB, timeout time.Duration) persistence.WatchRepo {
	return &watchRepo{db: db, timeout: timeout}
}

func (r *watchRepo) Create(ctx context.Context, watch *domain.PriceWatch) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO price_watches (watch_id, user_id, deal_id, price_threshold, inventory_threshold, active)
		VALUES ($1, $2, $3, $4, $5, TRUE)
		RETURNING id, created_at`,
		watch.WatchID, watch.UserID, watch.DealID, watch.PriceThreshold, watch.InventoryThreshold).
		Scan(&watch.ID, &watch.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("watch %s: %w", watch.WatchID, persistence.ErrDuplicate)
		}
		return fmt.Errorf("failed to create watch: %w", err)
	}
	watch.Active = true
	return nil
}

func (r *watchRepo) Get(ctx context.Context, watchID string) (*domain.PriceWatch, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var watch domain.PriceWatch
	err := r.db.GetContext(ctx, &watch, `
		SELECT id, watch_id, user_id, deal_id, price_threshold, inventory_threshold,
			active, last_notified, created_at
		FROM price_watches WHERE watch_id = $1`, watchID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get watch %s: %w", watchID, err)
	}
	return &watch, nil
}

func (r *watchRepo) ListByUser(ctx context.Context, userID string) ([]domain.PriceWatch, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var watches []domain.PriceWatch
	err := r.db.SelectContext(ctx, &watches, `
		SELECT id, watch_id, user_id, deal_id, price_threshold, inventory_threshold,
			active, last_notified, created_at
		FROM price_watches
		WHERE user_id = $1 AND active = TRUE
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list watches for %s: %w", userID, err)
	}
	return watches, nil
}

func (r *watchRepo) ListActive(ctx context.Context) ([]domain.PriceWatch, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var watches []domain.PriceWatch
	err := r.db.SelectContext(ctx, &watches, `
		SELECT id, watch_id, user_id, deal_id, price_threshold, inventory_threshold,
			active, last_notified, created_at
		FROM price_watches
		WHERE active = TRUE
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active watches: %w", err)
	}
	return watches, nil
}

func (r *watchRepo) SetNotified(ctx context.Context, watchID string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`UPDATE price_watches SET last_notified = $2 WHERE watch_id = $1`, watchID, at)
	if err != nil {
		return fmt.Errorf("failed to mark watch %s notified: %w", watchID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func (r *watchRepo) Deactivate(ctx context.Context, watchID string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`UPDATE price_watches SET active = FALSE WHERE watch_id = $1`, watchID)
	if err != nil {
		return fmt.Errorf("failed to deactivate watch %s: %w", watchID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func (r *watchRepo) CountActiveByDeal(ctx context.Context, minWatchers int) (map[string]int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryxContext(ctx, `
		SELECT deal_id, count(*) AS watchers
		FROM price_watches
		WHERE active = TRUE
		GROUP BY deal_id
		HAVING count(*) >= $1
		ORDER BY count(*) DESC`, minWatchers)
	if err != nil {
		return nil, fmt.Errorf("failed to count watches by deal: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			dealID   string
			watchers int
		)
		if err := rows.Scan(&dealID, &watchers); err != nil {
			return nil, fmt.Errorf("failed to scan watch count: %w", err)
		}
		counts[dealID] = watchers
	}
	return counts, rows.Err()
}
