package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/dealradar/dealradar/internal/domain"
)

// ErrNotFound is returned when a lookup misses. Callers translate it to a
// 404 at the HTTP boundary; it never aborts a pipeline stage.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a unique key already exists.
var ErrDuplicate = errors.New("duplicate")

// DealFilter narrows List queries. Zero values mean "no constraint".
type DealFilter struct {
	Type        domain.DealType
	MinScore    float64
	Origin      string
	Destination string
	Limit       int
}

// UpsertResult reports what the persister's unit of work changed.
type UpsertResult struct {
	Created      bool
	OldPrice     float64
	PriceChanged bool
}

// DealRepo provides deal persistence.
type DealRepo interface {
	// Get returns the deal by its deal_id, or ErrNotFound.
	Get(ctx context.Context, dealID string) (*domain.Deal, error)

	// List returns active deals matching the filter, best score first.
	List(ctx context.Context, filter DealFilter) ([]domain.Deal, error)

	// ListActiveByType returns all active deals of one type, best score first.
	ListActiveByType(ctx context.Context, dealType domain.DealType) ([]domain.Deal, error)

	// CreatedSince returns active deals created at or after the cutoff.
	CreatedSince(ctx context.Context, cutoff time.Time, limit int) ([]domain.Deal, error)

	// UpsertWithHistory applies one tagged record and its price-history point
	// as a single unit of work: either both land or neither does.
	UpsertWithHistory(ctx context.Context, deal *domain.Deal, point *domain.PriceHistoryPoint) (UpsertResult, error)
}

// PriceHistoryRepo provides append-only price observations.
type PriceHistoryRepo interface {
	Append(ctx context.Context, point *domain.PriceHistoryPoint) error

	// ListSince returns points recorded at or after the cutoff, newest first.
	ListSince(ctx context.Context, dealID string, cutoff time.Time) ([]domain.PriceHistoryPoint, error)

	// AverageSince returns the arithmetic mean price over the window and the
	// number of points it covers.
	AverageSince(ctx context.Context, dealID string, cutoff time.Time) (avg float64, count int, err error)
}

// WatchRepo provides price-watch persistence.
type WatchRepo interface {
	Create(ctx context.Context, watch *domain.PriceWatch) error
	Get(ctx context.Context, watchID string) (*domain.PriceWatch, error)
	ListByUser(ctx context.Context, userID string) ([]domain.PriceWatch, error)
	ListActive(ctx context.Context) ([]domain.PriceWatch, error)

	// SetNotified records the alert timestamp used for throttling.
	SetNotified(ctx context.Context, watchID string, at time.Time) error
	Deactivate(ctx context.Context, watchID string) error

	// CountActiveByDeal returns active watch counts per deal_id, for the
	// trending scan.
	CountActiveByDeal(ctx context.Context, minWatchers int) (map[string]int, error)
}

// TripPlanRepo provides planner-result persistence.
type TripPlanRepo interface {
	Insert(ctx context.Context, plan *domain.TripPlan) error
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.TripPlan, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// ConversationRepo provides the append-only chat log.
type ConversationRepo interface {
	Append(ctx context.Context, conv *domain.Conversation) error
	RecentByUser(ctx context.Context, userID string, limit int) ([]domain.Conversation, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// PreferenceRepo provides user-profile persistence.
type PreferenceRepo interface {
	Get(ctx context.Context, userID string) (*domain.UserPreference, error)
	Put(ctx context.Context, pref *domain.UserPreference) error
}

// Store aggregates all repositories behind one handle.
type Store struct {
	Deals         DealRepo
	PriceHistory  PriceHistoryRepo
	Watches       WatchRepo
	TripPlans     TripPlanRepo
	Conversations ConversationRepo
	Preferences   PreferenceRepo
}
