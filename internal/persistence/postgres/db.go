package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/dealradar/dealradar/internal/persistence"
)

const defaultTimeout = 5 * time.Second

// Open connects to Postgres and verifies connectivity.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store unreachable: %w", err)
	}
	return db, nil
}

// NewStore wires all Postgres repositories onto one pooled handle.
func NewStore(db *sqlx.DB) *persistence.Store {
	return &persistence.Store{
		Deals:         NewDealRepo(db, defaultTimeout),
		PriceHistory:  NewPriceHistoryRepo(db, defaultTimeout),
		Watches:       NewWatchRepo(db, defaultTimeout),
		TripPlans:     NewTripPlanRepo(db, defaultTimeout),
		Conversations: NewConversationRepo(db, defaultTimeout),
		Preferences:   NewPreferenceRepo(db, defaultTimeout),
	}
}

// EnsureSchema creates the tables if they do not exist.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS deals (
			id BIGSERIAL PRIMARY KEY,
			deal_id TEXT NOT NULL UNIQUE,
			type TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			price DOUBLE PRECISION NOT NULL,
			original_price DOUBLE PRECISION NOT NULL DEFAULT 0,
			avg_30d_price DOUBLE PRECISION NOT NULL DEFAULT 0,
			discount_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
			score DOUBLE PRECISION NOT NULL DEFAULT 0,
			tags JSONB NOT NULL DEFAULT '[]',
			metadata JSONB NOT NULL DEFAULT '{}',
			expires_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			active BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_deals_type_active ON deals (type, active)`,
		`CREATE INDEX IF NOT EXISTS idx_deals_created ON deals (created_at)`,
		`CREATE TABLE IF NOT EXISTS price_history (
			id BIGSERIAL PRIMARY KEY,
			deal_id TEXT NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			available_inventory INTEGER,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_price_history_deal ON price_history (deal_id, recorded_at)`,
		`CREATE TABLE IF NOT EXISTS price_watches (
			id BIGSERIAL PRIMARY KEY,
			watch_id TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL,
			deal_id TEXT NOT NULL,
			price_threshold DOUBLE PRECISION,
			inventory_threshold INTEGER,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			last_notified TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_watches_user ON price_watches (user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_watches_active ON price_watches (active)`,
		`CREATE TABLE IF NOT EXISTS trip_plans (
			id BIGSERIAL PRIMARY KEY,
			plan_id TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL,
			query TEXT NOT NULL DEFAULT '',
			itinerary JSONB NOT NULL DEFAULT '{}',
			fit_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			total_cost DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trip_plans_user ON trip_plans (user_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL DEFAULT 'anonymous',
			message TEXT NOT NULL,
			response TEXT NOT NULL DEFAULT '',
			intent TEXT NOT NULL DEFAULT '',
			entities JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations (user_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS user_preferences (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL UNIQUE,
			preferences JSONB NOT NULL DEFAULT '{}',
			search_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}
