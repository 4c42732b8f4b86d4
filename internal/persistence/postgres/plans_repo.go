package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/dealradar/dealradar/internal/domain"
	"github.com/dealradar/dealradar/internal/persistence"
)

type tripPlanRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewTripPlanRepo creates a Postgres trip-plan repository.
func NewTripPlanRepo(db *sqlx.DB, timeout time.Duration) persistence.TripPlanRepo {
	return &tripPlanRepo{db: db, timeout: timeout}
}

type tripPlanRow struct {
	ID        int64     `db:"id"`
	PlanID    string    `db:"plan_id"`
	UserID    string    `db:"user_id"`
	Query     string    `db:"query"`
	Itinerary []byte    `db:"itinerary"`
	FitScore  float64   `db:"fit_score"`
	TotalCost float64   `db:"total_cost"`
	CreatedAt time.Time `db:"created_at"`
}

func (r *tripPlanRepo) Insert(ctx context.Context, plan *domain.TripPlan) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	itineraryJSON, err := json.Marshal(plan.Itinerary)
	if err != nil {
		return fmt.Errorf("failed to marshal itinerary: %w", err)
	}
	err = r.db.QueryRowxContext(ctx, `
		INSERT INTO trip_plans (plan_id, user_id, query, itinerary, fit_score, total_cost)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		plan.PlanID, plan.UserID, plan.Query, itineraryJSON, plan.FitScore, plan.TotalCost).
		Scan(&plan.ID, &plan.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert trip plan: %w", err)
	}
	return nil
}

func (r *tripPlanRepo) ListByUser(ctx context.Context, userID string, limit int) ([]domain.TripPlan, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 20
	}
	var rows []tripPlanRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, plan_id, user_id, query, itinerary, fit_score, total_cost, created_at
		FROM trip_plans
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list trip plans for %s: %w", userID, err)
	}

	plans := make([]domain.TripPlan, 0, len(rows))
	for _, row := range rows {
		plan := domain.TripPlan{
			ID:        row.ID,
			PlanID:    row.PlanID,
			UserID:    row.UserID,
			Query:     row.Query,
			FitScore:  row.FitScore,
			TotalCost: row.TotalCost,
			CreatedAt: row.CreatedAt,
		}
		if len(row.Itinerary) > 0 {
			if err := json.Unmarshal(row.Itinerary, &plan.Itinerary); err != nil {
				return nil, fmt.Errorf("failed to unmarshal itinerary for %s: %w", row.PlanID, err)
			}
		}
		plans = append(plans, plan)
	}
	return plans, nil
}

func (r *tripPlanRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM trip_plans WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old trip plans: %w", err)
	}
	return res.RowsAffected()
}
