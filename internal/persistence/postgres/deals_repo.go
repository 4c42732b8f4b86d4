package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/dealradar/dealradar/internal/domain"
	"github.com/dealradar/dealradar/internal/persistence"
)

type dealRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewDealRepo creates a Postgres deal repository.
func NewDealRepo(db *sqlx.DB, timeout time.Duration) persistence.DealRepo {
	return &dealRepo{db: db, timeout: timeout}
}

type dealRow struct {
	ID              int64      `db:"id"`
	DealID          string     `db:"deal_id"`
	Type            string     `db:"type"`
	Title           string     `db:"title"`
	Description     string     `db:"description"`
	Price           float64    `db:"price"`
	OriginalPrice   float64    `db:"original_price"`
	Avg30dPrice     float64    `db:"avg_30d_price"`
	DiscountPercent float64    `db:"discount_percent"`
	Score           float64    `db:"score"`
	Tags            []byte     `db:"tags"`
	Metadata        []byte     `db:"metadata"`
	ExpiresAt       *time.Time `db:"expires_at"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
	Active          bool       `db:"active"`
}

func (r dealRow) toDomain() (*domain.Deal, error) {
	deal := &domain.Deal{
		ID:              r.ID,
		DealID:          r.DealID,
		Type:            domain.DealType(r.Type),
		Title:           r.Title,
		Description:     r.Description,
		Price:           r.Price,
		OriginalPrice:   r.OriginalPrice,
		Avg30dPrice:     r.Avg30dPrice,
		DiscountPercent: r.DiscountPercent,
		Score:           r.Score,
		ExpiresAt:       r.ExpiresAt,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		Active:          r.Active,
	}
	if len(r.Tags) > 0 {
		if err := json.Unmarshal(r.Tags, &deal.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags for %s: %w", r.DealID, err)
		}
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &deal.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata for %s: %w", r.DealID, err)
		}
	}
	return deal, nil
}

const dealColumns = `id, deal_id, type, title, description, price, original_price,
	avg_30d_price, discount_percent, score, tags, metadata, expires_at,
	created_at, updated_at, active`

func (r *dealRepo) Get(ctx context.Context, dealID string) (*domain.Deal, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row dealRow
	query := `SELECT ` + dealColumns + ` FROM deals WHERE deal_id = $1`
	if err := r.db.GetContext(ctx, &row, query, dealID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get deal %s: %w", dealID, err)
	}
	return row.toDomain()
}

func (r *dealRepo) List(ctx context.Context, filter persistence.DealFilter) ([]domain.Deal, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var (
		clauses = []string{"active = TRUE"}
		args    []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if filter.Type != "" {
		clauses = append(clauses, "type = "+arg(string(filter.Type)))
	}
	if filter.MinScore > 0 {
		clauses = append(clauses, "score >= "+arg(filter.MinScore))
	}
	if filter.Origin != "" {
		clauses = append(clauses, "upper(metadata->>'origin') = "+arg(strings.ToUpper(filter.Origin)))
	}
	if filter.Destination != "" {
		clauses = append(clauses, "upper(metadata->>'destination') = "+arg(strings.ToUpper(filter.Destination)))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + dealColumns + ` FROM deals WHERE ` + strings.Join(clauses, " AND ") +
		` ORDER BY score DESC, updated_at DESC LIMIT ` + arg(limit)

	return r.queryDeals(ctx, query, args...)
}

func (r *dealRepo) ListActiveByType(ctx context.Context, dealType domain.DealType) ([]domain.Deal, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + dealColumns + ` FROM deals
		WHERE active = TRUE AND type = $1
		ORDER BY score DESC, updated_at DESC`
	return r.queryDeals(ctx, query, string(dealType))
}

func (r *dealRepo) CreatedSince(ctx context.Context, cutoff time.Time, limit int) ([]domain.Deal, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + dealColumns + ` FROM deals
		WHERE active = TRUE AND created_at >= $1
		ORDER BY created_at DESC LIMIT $2`
	return r.queryDeals(ctx, query, cutoff, limit)
}

func (r *dealRepo) queryDeals(ctx context.Context, query string, args ...interface{}) ([]domain.Deal, error) {
	var rows []dealRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list deals: %w", err)
	}
	deals := make([]domain.Deal, 0, len(rows))
	for _, row := range rows {
		deal, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		deals = append(deals, *deal)
	}
	return deals, nil
}

// UpsertWithHistory applies a tagged record and its history point in one
// transaction so the store stays consistent under redelivery.
func (r *dealRepo) UpsertWithHistory(ctx context.Context, deal *domain.Deal, point *domain.PriceHistoryPoint) (persistence.UpsertResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var result persistence.UpsertResult

	tagsJSON, err := json.Marshal(deal.Tags)
	if err != nil {
		return result, fmt.Errorf("failed to marshal tags: %w", err)
	}
	metaJSON, err := json.Marshal(deal.Metadata)
	if err != nil {
		return result, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var oldPrice float64
	err = tx.QueryRowxContext(ctx,
		`SELECT price FROM deals WHERE deal_id = $1 FOR UPDATE`, deal.DealID).Scan(&oldPrice)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		result.Created = true
		_, err = tx.ExecContext(ctx, `
			INSERT INTO deals (deal_id, type, title, description, price, original_price,
				avg_30d_price, discount_percent, score, tags, metadata, expires_at, active)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, TRUE)`,
			deal.DealID, string(deal.Type), deal.Title, deal.Description,
			deal.Price, deal.OriginalPrice, deal.Avg30dPrice, deal.DiscountPercent,
			deal.Score, tagsJSON, metaJSON, deal.ExpiresAt)
		if err != nil {
			return result, fmt.Errorf("failed to insert deal %s: %w", deal.DealID, err)
		}
	case err != nil:
		return result, fmt.Errorf("failed to lock deal %s: %w", deal.DealID, err)
	default:
		result.OldPrice = oldPrice
		result.PriceChanged = oldPrice != deal.Price
		_, err = tx.ExecContext(ctx, `
			UPDATE deals SET price = $2, original_price = $3, avg_30d_price = $4,
				discount_percent = $5, score = $6, tags = $7, metadata = $8,
				expires_at = $9, updated_at = now()
			WHERE deal_id = $1`,
			deal.DealID, deal.Price, deal.OriginalPrice, deal.Avg30dPrice,
			deal.DiscountPercent, deal.Score, tagsJSON, metaJSON, deal.ExpiresAt)
		if err != nil {
			return result, fmt.Errorf("failed to update deal %s: %w", deal.DealID, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO price_history (deal_id, price, available_inventory, recorded_at)
		VALUES ($1, $2, $3, $4)`,
		point.DealID, point.Price, point.AvailableInventory, point.RecordedAt)
	if err != nil {
		return result, fmt.Errorf("failed to append price history for %s: %w", deal.DealID, err)
	}

	if err := tx.Commit(); err != nil {
		return persistence.UpsertResult{}, fmt.Errorf("failed to commit deal upsert: %w", err)
	}
	return result, nil
}
