package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/dealradar/dealradar/internal/domain"
	"github.com/dealradar/dealradar/internal/persistence"
)

type preferenceRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPreferenceRepo creates a Postgres user-preference repository.
func NewPreferenceRepo(db *sqlx.DB, timeout time.Duration) persistence.PreferenceRepo {
	return &preferenceRepo{db: db, timeout: timeout}
}

type preferenceRow struct {
	ID          int64     `db:"id"`
	UserID      string    `db:"user_id"`
	Preferences []byte    `db:"preferences"`
	SearchCount int       `db:"search_count"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r *preferenceRepo) Get(ctx context.Context, userID string) (*domain.UserPreference, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row preferenceRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, user_id, preferences, search_count, created_at, updated_at
		FROM user_preferences WHERE user_id = $1`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get preferences for %s: %w", userID, err)
	}

	pref := &domain.UserPreference{
		ID:          row.ID,
		UserID:      row.UserID,
		SearchCount: row.SearchCount,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
	if len(row.Preferences) > 0 {
		if err := json.Unmarshal(row.Preferences, &pref.Preferences); err != nil {
			return nil, fmt.Errorf("failed to unmarshal preferences for %s: %w", userID, err)
		}
	}
	return pref, nil
}

func (r *preferenceRepo) Put(ctx context.Context, pref *domain.UserPreference) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	prefsJSON, err := json.Marshal(pref.Preferences)
	if err != nil {
		return fmt.Errorf("failed to marshal preferences: %w", err)
	}
	err = r.db.QueryRowxContext(ctx, `
		INSERT INTO user_preferences (user_id, preferences, search_count)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET preferences = EXCLUDED.preferences,
			search_count = EXCLUDED.search_count,
			updated_at = now()
		RETURNING id, created_at, updated_at`,
		pref.UserID, prefsJSON, pref.SearchCount).
		Scan(&pref.ID, &pref.CreatedAt, &pref.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to put preferences for %s: %w", pref.UserID, err)
	}
	return nil
}
