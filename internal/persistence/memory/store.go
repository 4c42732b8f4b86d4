// Package memory provides in-process implementations of the persistence
// interfaces, used by local runs and tests where Postgres is unavailable.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dealradar/dealradar/internal/domain"
	"github.com/dealradar/dealradar/internal/persistence"
)

// NewStore builds a fully in-memory persistence.Store.
func NewStore() *persistence.Store {
	return &persistence.Store{
		Deals:         NewDealRepo(),
		PriceHistory:  NewPriceHistoryRepo(),
		Watches:       NewWatchRepo(),
		TripPlans:     NewTripPlanRepo(),
		Conversations: NewConversationRepo(),
		Preferences:   NewPreferenceRepo(),
	}
}

// DealRepo is an in-memory persistence.DealRepo. The price-history half of
// UpsertWithHistory lands in an attached PriceHistoryRepo when one is set
// via WithHistory.
type DealRepo struct {
	mu      sync.RWMutex
	nextID  int64
	byID    map[string]*domain.Deal
	history *PriceHistoryRepo
}

// NewDealRepo creates an empty in-memory deal repository.
func NewDealRepo() *DealRepo {
	return &DealRepo{byID: make(map[string]*domain.Deal)}
}

// WithHistory attaches a history repo so UpsertWithHistory records points.
func (r *DealRepo) WithHistory(h *PriceHistoryRepo) *DealRepo {
	r.history = h
	return r
}

func (r *DealRepo) Get(_ context.Context, dealID string) (*domain.Deal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	deal, ok := r.byID[dealID]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	copied := *deal
	return &copied, nil
}

func (r *DealRepo) List(_ context.Context, filter persistence.DealFilter) ([]domain.Deal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var deals []domain.Deal
	for _, deal := range r.byID {
		if !deal.Active {
			continue
		}
		if filter.Type != "" && deal.Type != filter.Type {
			continue
		}
		if filter.MinScore > 0 && deal.Score < filter.MinScore {
			continue
		}
		if filter.Origin != "" && !strings.EqualFold(deal.Metadata.Origin, filter.Origin) {
			continue
		}
		if filter.Destination != "" && !strings.EqualFold(deal.Metadata.Destination, filter.Destination) {
			continue
		}
		deals = append(deals, *deal)
	}
	sortByScore(deals)
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(deals) > limit {
		deals = deals[:limit]
	}
	return deals, nil
}

func (r *DealRepo) ListActiveByType(_ context.Context, dealType domain.DealType) ([]domain.Deal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var deals []domain.Deal
	for _, deal := range r.byID {
		if deal.Active && deal.Type == dealType {
			deals = append(deals, *deal)
		}
	}
	sortByScore(deals)
	return deals, nil
}

func (r *DealRepo) CreatedSince(_ context.Context, cutoff time.Time, limit int) ([]domain.Deal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var deals []domain.Deal
	for _, deal := range r.byID {
		if deal.Active && !deal.CreatedAt.Before(cutoff) {
			deals = append(deals, *deal)
		}
	}
	sort.Slice(deals, func(i, j int) bool {
		return deals[i].CreatedAt.After(deals[j].CreatedAt)
	})
	if limit <= 0 {
		limit = 50
	}
	if len(deals) > limit {
		deals = deals[:limit]
	}
	return deals, nil
}

func (r *DealRepo) UpsertWithHistory(ctx context.Context, deal *domain.Deal, point *domain.PriceHistoryPoint) (persistence.UpsertResult, error) {
	r.mu.Lock()

	var result persistence.UpsertResult
	now := time.Now().UTC()
	existing, ok := r.byID[deal.DealID]
	if !ok {
		result.Created = true
		r.nextID++
		copied := *deal
		copied.ID = r.nextID
		copied.CreatedAt = now
		copied.UpdatedAt = now
		copied.Active = true
		r.byID[deal.DealID] = &copied
		deal.ID = copied.ID
		deal.CreatedAt = copied.CreatedAt
	} else {
		result.OldPrice = existing.Price
		result.PriceChanged = existing.Price != deal.Price
		copied := *deal
		copied.ID = existing.ID
		copied.CreatedAt = existing.CreatedAt
		copied.UpdatedAt = now
		copied.Active = existing.Active
		r.byID[deal.DealID] = &copied
	}
	r.mu.Unlock()

	if r.history != nil {
		if err := r.history.Append(ctx, point); err != nil {
			return result, err
		}
	}
	return result, nil
}

func sortByScore(deals []domain.Deal) {
	sort.Slice(deals, func(i, j int) bool {
		if deals[i].Score != deals[j].Score {
			return deals[i].Score > deals[j].Score
		}
		return deals[i].UpdatedAt.After(deals[j].UpdatedAt)
	})
}

// PriceHistoryRepo is an in-memory persistence.PriceHistoryRepo.
type PriceHistoryRepo struct {
	mu     sync.RWMutex
	nextID int64
	byDeal map[string][]domain.PriceHistoryPoint
}

// NewPriceHistoryRepo creates an empty in-memory price-history repository.
func NewPriceHistoryRepo() *PriceHistoryRepo {
	return &PriceHistoryRepo{byDeal: make(map[string][]domain.PriceHistoryPoint)}
}

func (r *PriceHistoryRepo) Append(_ context.Context, point *domain.PriceHistoryPoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	copied := *point
	copied.ID = r.nextID
	if copied.RecordedAt.IsZero() {
		copied.RecordedAt = time.Now().UTC()
	}
	r.byDeal[point.DealID] = append(r.byDeal[point.DealID], copied)
	return nil
}

func (r *PriceHistoryRepo) ListSince(_ context.Context, dealID string, cutoff time.Time) ([]domain.PriceHistoryPoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var points []domain.PriceHistoryPoint
	for _, p := range r.byDeal[dealID] {
		if !p.RecordedAt.Before(cutoff) {
			points = append(points, p)
		}
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].RecordedAt.After(points[j].RecordedAt)
	})
	return points, nil
}

func (r *PriceHistoryRepo) AverageSince(ctx context.Context, dealID string, cutoff time.Time) (float64, int, error) {
	points, err := r.ListSince(ctx, dealID, cutoff)
	if err != nil || len(points) == 0 {
		return 0, 0, err
	}
	var sum float64
	for _, p := range points {
		sum += p.Price
	}
	return sum / float64(len(points)), len(points), nil
}

// WatchRepo is an in-memory persistence.WatchRepo.
type WatchRepo struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[string]*domain.PriceWatch
}

// NewWatchRepo creates an empty in-memory watch repository.
func NewWatchRepo() *WatchRepo {
	return &WatchRepo{byID: make(map[string]*domain.PriceWatch)}
}

func (r *WatchRepo) Create(_ context.Context, watch *domain.PriceWatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[watch.WatchID]; exists {
		return persistence.ErrDuplicate
	}
	r.nextID++
	watch.ID = r.nextID
	watch.Active = true
	if watch.CreatedAt.IsZero() {
		watch.CreatedAt = time.Now().UTC()
	}
	copied := *watch
	r.byID[watch.WatchID] = &copied
	return nil
}

func (r *WatchRepo) Get(_ context.Context, watchID string) (*domain.PriceWatch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	watch, ok := r.byID[watchID]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	copied := *watch
	return &copied, nil
}

func (r *WatchRepo) ListByUser(_ context.Context, userID string) ([]domain.PriceWatch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var watches []domain.PriceWatch
	for _, w := range r.byID {
		if w.Active && w.UserID == userID {
			watches = append(watches, *w)
		}
	}
	sort.Slice(watches, func(i, j int) bool {
		return watches[i].CreatedAt.After(watches[j].CreatedAt)
	})
	return watches, nil
}

func (r *WatchRepo) ListActive(_ context.Context) ([]domain.PriceWatch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var watches []domain.PriceWatch
	for _, w := range r.byID {
		if w.Active {
			watches = append(watches, *w)
		}
	}
	sort.Slice(watches, func(i, j int) bool {
		return watches[i].CreatedAt.Before(watches[j].CreatedAt)
	})
	return watches, nil
}

func (r *WatchRepo) SetNotified(_ context.Context, watchID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	watch, ok := r.byID[watchID]
	if !ok {
		return persistence.ErrNotFound
	}
	notified := at
	watch.LastNotified = &notified
	return nil
}

func (r *WatchRepo) Deactivate(_ context.Context, watchID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	watch, ok := r.byID[watchID]
	if !ok {
		return persistence.ErrNotFound
	}
	watch.Active = false
	return nil
}

func (r *WatchRepo) CountActiveByDeal(_ context.Context, minWatchers int) (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int)
	for _, w := range r.byID {
		if w.Active {
			counts[w.DealID]++
		}
	}
	for dealID, n := range counts {
		if n < minWatchers {
			delete(counts, dealID)
		}
	}
	return counts, nil
}

// TripPlanRepo is an in-memory persistence.TripPlanRepo.
type TripPlanRepo struct {
	mu     sync.RWMutex
	nextID int64
	plans  []domain.TripPlan
}

// NewTripPlanRepo creates an empty in-memory trip-plan repository.
func NewTripPlanRepo() *TripPlanRepo {
	return &TripPlanRepo{}
}

func (r *TripPlanRepo) Insert(_ context.Context, plan *domain.TripPlan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	plan.ID = r.nextID
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now().UTC()
	}
	r.plans = append(r.plans, *plan)
	return nil
}

func (r *TripPlanRepo) ListByUser(_ context.Context, userID string, limit int) ([]domain.TripPlan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var plans []domain.TripPlan
	for _, p := range r.plans {
		if p.UserID == userID {
			plans = append(plans, p)
		}
	}
	sort.Slice(plans, func(i, j int) bool {
		return plans[i].CreatedAt.After(plans[j].CreatedAt)
	})
	if limit <= 0 {
		limit = 20
	}
	if len(plans) > limit {
		plans = plans[:limit]
	}
	return plans, nil
}

func (r *TripPlanRepo) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.plans[:0]
	var deleted int64
	for _, p := range r.plans {
		if p.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, p)
	}
	r.plans = kept
	return deleted, nil
}

// ConversationRepo is an in-memory persistence.ConversationRepo.
type ConversationRepo struct {
	mu     sync.RWMutex
	nextID int64
	convs  []domain.Conversation
}

// NewConversationRepo creates an empty in-memory conversation repository.
func NewConversationRepo() *ConversationRepo {
	return &ConversationRepo{}
}

func (r *ConversationRepo) Append(_ context.Context, conv *domain.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	conv.ID = r.nextID
	if conv.UserID == "" {
		conv.UserID = "anonymous"
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}
	r.convs = append(r.convs, *conv)
	return nil
}

func (r *ConversationRepo) RecentByUser(_ context.Context, userID string, limit int) ([]domain.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var convs []domain.Conversation
	for _, c := range r.convs {
		if c.UserID == userID {
			convs = append(convs, c)
		}
	}
	sort.Slice(convs, func(i, j int) bool {
		return convs[i].CreatedAt.After(convs[j].CreatedAt)
	})
	if limit <= 0 {
		limit = 5
	}
	if len(convs) > limit {
		convs = convs[:limit]
	}
	return convs, nil
}

func (r *ConversationRepo) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.convs[:0]
	var deleted int64
	for _, c := range r.convs {
		if c.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, c)
	}
	r.convs = kept
	return deleted, nil
}

// PreferenceRepo is an in-memory persistence.PreferenceRepo.
type PreferenceRepo struct {
	mu     sync.RWMutex
	nextID int64
	byUser map[string]*domain.UserPreference
}

// NewPreferenceRepo creates an empty in-memory preference repository.
func NewPreferenceRepo() *PreferenceRepo {
	return &PreferenceRepo{byUser: make(map[string]*domain.UserPreference)}
}

func (r *PreferenceRepo) Get(_ context.Context, userID string) (*domain.UserPreference, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pref, ok := r.byUser[userID]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	copied := *pref
	return &copied, nil
}

func (r *PreferenceRepo) Put(_ context.Context, pref *domain.UserPreference) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := r.byUser[pref.UserID]; ok {
		pref.ID = existing.ID
		pref.CreatedAt = existing.CreatedAt
	} else {
		r.nextID++
		pref.ID = r.nextID
		pref.CreatedAt = now
	}
	pref.UpdatedAt = now
	copied := *pref
	r.byUser[pref.UserID] = &copied
	return nil
}
