package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealradar/dealradar/internal/domain"
	"github.com/dealradar/dealradar/internal/persistence"
	"github.com/dealradar/dealradar/internal/persistence/memory"
	"github.com/dealradar/dealradar/internal/pipeline"
	"github.com/dealradar/dealradar/internal/stream"
	"github.com/dealradar/dealradar/internal/telemetry"
	"github.com/dealradar/dealradar/internal/ws"
)

type fakeHub struct {
	mu        sync.Mutex
	sessions  int
	toUser    map[string][]ws.Frame
	broadcast []ws.Frame
}

func newFakeHub(sessions int) *fakeHub {
	return &fakeHub{sessions: sessions, toUser: make(map[string][]ws.Frame)}
}

func (h *fakeHub) SendToUser(userID string, frame ws.Frame) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.toUser[userID] = append(h.toUser[userID], frame)
	return 1
}

func (h *fakeHub) Broadcast(frame ws.Frame, _ ...string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcast = append(h.broadcast, frame)
	return h.sessions
}

func (h *fakeHub) SessionCount() int { return h.sessions }

func (h *fakeHub) userFrames(userID string) []ws.Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.toUser[userID]
}

func (h *fakeHub) broadcastCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.broadcast)
}

func ptrFloat(v float64) *float64 { return &v }
func ptrInt(v int) *int           { return &v }

func seedDeal(t *testing.T, deals persistence.DealRepo, deal *domain.Deal) {
	t.Helper()
	_, err := deals.UpsertWithHistory(context.Background(), deal, &domain.PriceHistoryPoint{
		DealID: deal.DealID, Price: deal.Price, RecordedAt: time.Now(),
	})
	require.NoError(t, err)
}

func newWatchMonitor(store *persistence.Store, hub Notifier, now time.Time) *WatchMonitor {
	m := NewWatchMonitor(store.Watches, store.Deals, hub, nil,
		30*time.Second, 0, zerolog.Nop(), telemetry.New())
	m.now = func() time.Time { return now }
	return m
}

func TestWatchTriggerAndThrottle(t *testing.T) {
	store := memory.NewStore()
	hub := newFakeHub(1)
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	seedDeal(t, store.Deals, &domain.Deal{
		DealID: "flight_f1", Type: domain.DealTypeFlight, Title: "SFO to MIA",
		Price: 260, Active: true,
	})
	require.NoError(t, store.Watches.Create(ctx, &domain.PriceWatch{
		WatchID: "w1", UserID: "u1", DealID: "flight_f1",
		PriceThreshold: ptrFloat(280), Active: true,
	}))

	m := newWatchMonitor(store, hub, now)
	require.NoError(t, m.Scan(ctx))

	frames := hub.userFrames("u1")
	require.Len(t, frames, 1, "price below threshold triggers one alert")
	assert.Equal(t, "price_alert", frames[0].Type)

	// second scan inside the re-alert window stays silent
	m.now = func() time.Time { return now.Add(10 * time.Second) }
	require.NoError(t, m.Scan(ctx))
	assert.Len(t, hub.userFrames("u1"), 1)

	// past the window the alert repeats
	m.now = func() time.Time { return now.Add(40 * time.Second) }
	require.NoError(t, m.Scan(ctx))
	assert.Len(t, hub.userFrames("u1"), 2)
}

func TestWatchNotTriggeredAboveThreshold(t *testing.T) {
	store := memory.NewStore()
	hub := newFakeHub(1)
	ctx := context.Background()

	seedDeal(t, store.Deals, &domain.Deal{
		DealID: "flight_f1", Type: domain.DealTypeFlight, Price: 300, Active: true,
	})
	require.NoError(t, store.Watches.Create(ctx, &domain.PriceWatch{
		WatchID: "w1", UserID: "u1", DealID: "flight_f1",
		PriceThreshold: ptrFloat(280), Active: true,
	}))

	m := newWatchMonitor(store, hub, time.Now())
	require.NoError(t, m.Scan(ctx))
	assert.Empty(t, hub.userFrames("u1"))
}

func TestWatchInventoryThreshold(t *testing.T) {
	store := memory.NewStore()
	hub := newFakeHub(1)
	ctx := context.Background()

	seedDeal(t, store.Deals, &domain.Deal{
		DealID: "hotel_h1", Type: domain.DealTypeHotel, Price: 180, Active: true,
		Metadata: domain.Metadata{Inventory: 2},
	})
	require.NoError(t, store.Watches.Create(ctx, &domain.PriceWatch{
		WatchID: "w1", UserID: "u1", DealID: "hotel_h1",
		InventoryThreshold: ptrInt(3), Active: true,
	}))

	m := newWatchMonitor(store, hub, time.Now())
	require.NoError(t, m.Scan(ctx))

	frames := hub.userFrames("u1")
	require.Len(t, frames, 1)
	data := frames[0].Data.(map[string]any)
	assert.Contains(t, data["reasons"].([]string)[0], "only 2 left")
}

func TestWatchInventoryAgainstPipelineOutput(t *testing.T) {
	store := memory.NewStore()
	hub := newFakeHub(1)
	ctx := context.Background()

	bus := stream.NewMemoryBus(stream.DefaultRetryPolicy())
	require.NoError(t, bus.Start(ctx))
	defer bus.Stop(ctx)
	require.NoError(t, bus.CreateTopic(ctx, stream.TopicConfig{Name: domain.TopicEvents}))
	persister := pipeline.NewPersister(bus, store.Deals, zerolog.Nop(), telemetry.New())

	require.NoError(t, persister.Persist(ctx, &domain.DealRecord{
		DealID: "flight_f1", Type: domain.DealTypeFlight, Title: "SFO to MIA",
		Price: 300, AvailableInventory: 50,
	}))
	require.NoError(t, store.Watches.Create(ctx, &domain.PriceWatch{
		WatchID: "w1", UserID: "u1", DealID: "flight_f1",
		InventoryThreshold: ptrInt(5), Active: true,
	}))

	m := newWatchMonitor(store, hub, time.Now())
	require.NoError(t, m.Scan(ctx))
	assert.Empty(t, hub.userFrames("u1"), "50 units available, threshold 5")

	require.NoError(t, persister.Persist(ctx, &domain.DealRecord{
		DealID: "flight_f1", Type: domain.DealTypeFlight, Title: "SFO to MIA",
		Price: 300, AvailableInventory: 2,
	}))
	require.NoError(t, m.Scan(ctx))

	frames := hub.userFrames("u1")
	require.Len(t, frames, 1)
	data := frames[0].Data.(map[string]any)
	assert.Contains(t, data["reasons"].([]string)[0], "only 2 left")
}

func TestWatchUnknownInventoryDoesNotTrigger(t *testing.T) {
	store := memory.NewStore()
	hub := newFakeHub(1)
	ctx := context.Background()

	// seeded outside the pipeline, so no availability data at all
	seedDeal(t, store.Deals, &domain.Deal{
		DealID: "hotel_h1", Type: domain.DealTypeHotel, Price: 180, Active: true,
	})
	require.NoError(t, store.Watches.Create(ctx, &domain.PriceWatch{
		WatchID: "w1", UserID: "u1", DealID: "hotel_h1",
		InventoryThreshold: ptrInt(5), Active: true,
	}))

	m := newWatchMonitor(store, hub, time.Now())
	require.NoError(t, m.Scan(ctx))
	assert.Empty(t, hub.userFrames("u1"))
}

func TestWatchOnMissingDealDeactivates(t *testing.T) {
	store := memory.NewStore()
	hub := newFakeHub(1)
	ctx := context.Background()

	require.NoError(t, store.Watches.Create(ctx, &domain.PriceWatch{
		WatchID: "w1", UserID: "u1", DealID: "flight_gone",
		PriceThreshold: ptrFloat(280), Active: true,
	}))

	m := newWatchMonitor(store, hub, time.Now())
	require.NoError(t, m.Scan(ctx))

	active, err := store.Watches.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
	assert.Empty(t, hub.userFrames("u1"))
}

func newHotDealMonitor(store *persistence.Store, hub Notifier, now time.Time) *HotDealMonitor {
	m := NewHotDealMonitor(store.Deals, store.Watches, hub,
		time.Minute, 30, 200, zerolog.Nop(), telemetry.New())
	m.now = func() time.Time { return now }
	return m
}

func TestHotDealBroadcastOnceViaSeenSet(t *testing.T) {
	store := memory.NewStore()
	hub := newFakeHub(2)
	ctx := context.Background()
	now := time.Now()

	seedDeal(t, store.Deals, &domain.Deal{
		DealID: "flight_hot", Type: domain.DealTypeFlight,
		Price: 300, OriginalPrice: 500, Active: true,
	})

	m := newHotDealMonitor(store, hub, now)
	require.NoError(t, m.Scan(ctx))
	assert.Equal(t, 1, hub.broadcastCount(), "40% savings qualifies as hot")

	require.NoError(t, m.Scan(ctx))
	assert.Equal(t, 1, hub.broadcastCount(), "seen set suppresses the rebroadcast")
}

func TestHotDealDollarDiscountCriterion(t *testing.T) {
	store := memory.NewStore()
	hub := newFakeHub(1)
	now := time.Now()

	// 25% savings is below the percentage bar but $250 clears the dollar bar
	seedDeal(t, store.Deals, &domain.Deal{
		DealID: "flight_big", Type: domain.DealTypeFlight,
		Price: 750, OriginalPrice: 1000, Active: true,
	})
	m := newHotDealMonitor(store, hub, now)
	require.NoError(t, m.Scan(context.Background()))
	assert.Equal(t, 1, hub.broadcastCount())
}

func TestHotDealScanSkippedWithoutSessions(t *testing.T) {
	store := memory.NewStore()
	hub := newFakeHub(0)
	now := time.Now()

	seedDeal(t, store.Deals, &domain.Deal{
		DealID: "flight_hot", Type: domain.DealTypeFlight,
		Price: 300, OriginalPrice: 500, Active: true,
	})
	m := newHotDealMonitor(store, hub, now)
	require.NoError(t, m.Scan(context.Background()))
	assert.Zero(t, hub.broadcastCount())
}

func TestHotDealIgnoresModestDiscounts(t *testing.T) {
	store := memory.NewStore()
	hub := newFakeHub(1)
	now := time.Now()

	seedDeal(t, store.Deals, &domain.Deal{
		DealID: "flight_meh", Type: domain.DealTypeFlight,
		Price: 450, OriginalPrice: 500, Active: true,
	})
	m := newHotDealMonitor(store, hub, now)
	require.NoError(t, m.Scan(context.Background()))
	assert.Zero(t, hub.broadcastCount())
}

func TestTrendingScanEveryFifthTick(t *testing.T) {
	store := memory.NewStore()
	hub := newFakeHub(1)
	ctx := context.Background()
	now := time.Now()

	seedDeal(t, store.Deals, &domain.Deal{
		DealID: "hotel_pop", Type: domain.DealTypeHotel, Price: 150, Active: true,
	})
	for _, user := range []string{"u1", "u2", "u3"} {
		require.NoError(t, store.Watches.Create(ctx, &domain.PriceWatch{
			WatchID: "w_" + user, UserID: user, DealID: "hotel_pop", PriceThreshold: ptrFloat(100), Active: true,
		}))
	}

	m := newHotDealMonitor(store, hub, now)
	for i := 0; i < 4; i++ {
		require.NoError(t, m.Scan(ctx))
	}
	assert.Zero(t, hub.broadcastCount(), "trending only runs on the fifth tick")

	require.NoError(t, m.Scan(ctx))
	require.Equal(t, 1, hub.broadcastCount())
	data := hub.broadcast[0].Data.(map[string]any)
	assert.Equal(t, "trending", data["alert_type"])
	assert.Contains(t, data["reason"], "3 people")
}

func TestSeenSetEvictsOldest(t *testing.T) {
	s := newSeenSet(2)
	assert.True(t, s.add("a"))
	assert.True(t, s.add("b"))
	assert.False(t, s.add("a"))
	assert.True(t, s.add("c"), "capacity reached, a evicted")
	assert.True(t, s.add("a"), "a was evicted and can re-enter")
}
