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

type conversationRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewConversationRepo creates a Postgres conversation repository.
func NewConversationRepo(db *sqlx.DB, timeout time.Duration) persistence.ConversationRepo {
	return &conversationRepo{db: db, timeout: timeout}
}

type conversationRow struct {
	ID        int64     `db:"id"`
	UserID    string    `db:"user_id"`
	Message   string    `db:"message"`
	Response  string    `db:"response"`
	Intent    string    `db:"intent"`
	Entities  []byte    `db:"entities"`
	CreatedAt time.Time `db:"created_at"`
}

func (r *conversationRepo) Append(ctx context.Context, conv *domain.Conversation) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	entitiesJSON, err := json.Marshal(conv.Entities)
	if err != nil {
		return fmt.Errorf("failed to marshal entities: %w", err)
	}
	userID := conv.UserID
	if userID == "" {
		userID = "anonymous"
	}
	err = r.db.QueryRowxContext(ctx, `
		INSERT INTO conversations (user_id, message, response, intent, entities)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		userID, conv.Message, conv.Response, conv.Intent, entitiesJSON).
		Scan(&conv.ID, &conv.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append conversation: %w", err)
	}
	return nil
}

func (r *conversationRepo) RecentByUser(ctx context.Context, userID string, limit int) ([]domain.Conversation, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 5
	}
	var rows []conversationRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, user_id, message, response, intent, entities, created_at
		FROM conversations
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations for %s: %w", userID, err)
	}

	convs := make([]domain.Conversation, 0, len(rows))
	for _, row := range rows {
		conv := domain.Conversation{
			ID:        row.ID,
			UserID:    row.UserID,
			Message:   row.Message,
			Response:  row.Response,
			Intent:    row.Intent,
			CreatedAt: row.CreatedAt,
		}
		if len(row.Entities) > 0 {
			if err := json.Unmarshal(row.Entities, &conv.Entities); err != nil {
				return nil, fmt.Errorf("failed to unmarshal entities: %w", err)
			}
		}
		convs = append(convs, conv)
	}
	return convs, nil
}

func (r *conversationRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM conversations WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old conversations: %w", err)
	}
	return res.RowsAffected()
}
