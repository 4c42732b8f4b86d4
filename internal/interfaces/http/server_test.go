package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealradar/dealradar/internal/cache"
	"github.com/dealradar/dealradar/internal/domain"
	"github.com/dealradar/dealradar/internal/explain"
	"github.com/dealradar/dealradar/internal/intent"
	"github.com/dealradar/dealradar/internal/llm"
	"github.com/dealradar/dealradar/internal/persistence"
	"github.com/dealradar/dealradar/internal/persistence/memory"
	"github.com/dealradar/dealradar/internal/planner"
	"github.com/dealradar/dealradar/internal/stream"
	"github.com/dealradar/dealradar/internal/telemetry"
	"github.com/dealradar/dealradar/internal/ws"
)

type fakeModel struct {
	response string
	err      error
}

func (f *fakeModel) Generate(_ context.Context, _ string, _ llm.Options) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

type testEnv struct {
	server *Server
	store  *persistence.Store
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()

	store := memory.NewStore()
	c := cache.NewMemoryCache()
	t.Cleanup(func() { c.Close() })
	metrics := telemetry.New()
	log := zerolog.Nop()
	model := &fakeModel{err: llm.ErrUnavailable}

	bus := stream.NewMemoryBus(stream.DefaultRetryPolicy())
	require.NoError(t, bus.Start(context.Background()))
	t.Cleanup(func() { _ = bus.Stop(context.Background()) })

	analyzer := explain.NewPriceAnalyzer(store.PriceHistory)
	server := NewServer("127.0.0.1:0", Deps{
		Store:   store,
		Cache:   c,
		Planner: planner.New(store.Deals, store.TripPlans, c, 0, log, metrics),
		Parser:  intent.NewParser(model, store.Conversations, c, log, metrics),
		Engine:  explain.NewEngine(analyzer, model, c, 0, 0, log, metrics),
		Policy:  explain.NewPolicyAnswerer(model, c),
		Hub:     ws.NewHub(30*time.Second, log, metrics),
		Bus:     bus,
		Log:     log,
		Metrics: metrics,
	})
	return &testEnv{server: server, store: store}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) seedDeal(t *testing.T, deal *domain.Deal) {
	t.Helper()
	_, err := e.store.Deals.UpsertWithHistory(context.Background(), deal, &domain.PriceHistoryPoint{
		DealID: deal.DealID, Price: deal.Price, RecordedAt: time.Now(),
	})
	require.NoError(t, err)
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	env := newTestServer(t)
	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestDealGet(t *testing.T) {
	env := newTestServer(t)
	env.seedDeal(t, &domain.Deal{
		DealID: "flight_f1", Type: domain.DealTypeFlight,
		Title: "SFO to MIA - Delta", Price: 280,
	})

	rec := env.do(t, http.MethodGet, "/deals/flight_f1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	deal := decodeBody[domain.Deal](t, rec)
	assert.Equal(t, "SFO to MIA - Delta", deal.Title)

	rec = env.do(t, http.MethodGet, "/deals/flight_missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "deal not found")
}

func TestDealSearchFiltersAndCaches(t *testing.T) {
	env := newTestServer(t)
	env.seedDeal(t, &domain.Deal{
		DealID: "flight_f1", Type: domain.DealTypeFlight, Price: 280, Score: 70,
		Metadata: domain.Metadata{Origin: "SFO", Destination: "MIA"},
	})
	env.seedDeal(t, &domain.Deal{
		DealID: "hotel_h1", Type: domain.DealTypeHotel, Price: 150, Score: 60,
	})

	rec := env.do(t, http.MethodGet, "/deals?type=flight&origin=SFO", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, 1.0, body["count"])

	// same filter again: served from cache even after the store changes
	env.seedDeal(t, &domain.Deal{
		DealID: "flight_f2", Type: domain.DealTypeFlight, Price: 300, Score: 50,
		Metadata: domain.Metadata{Origin: "SFO", Destination: "BOS"},
	})
	rec = env.do(t, http.MethodGet, "/deals?type=flight&origin=SFO", nil)
	body = decodeBody[map[string]any](t, rec)
	assert.Equal(t, 1.0, body["count"])
}

func TestDealExplain(t *testing.T) {
	env := newTestServer(t)
	env.seedDeal(t, &domain.Deal{
		DealID: "hotel_h1", Type: domain.DealTypeHotel, Price: 160,
		OriginalPrice: 200, DiscountPercent: 20, Score: 82,
	})

	rec := env.do(t, http.MethodGet, "/deals/hotel_h1/explain", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]string](t, rec)
	assert.Contains(t, body["explanation"], "Hot Deal")
}

func TestWatchLifecycle(t *testing.T) {
	env := newTestServer(t)
	env.seedDeal(t, &domain.Deal{DealID: "flight_f1", Type: domain.DealTypeFlight, Price: 280})

	threshold := 250.0
	rec := env.do(t, http.MethodPost, "/watch/create", map[string]any{
		"user_id": "u1", "deal_id": "flight_f1", "price_threshold": threshold,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeBody[domain.PriceWatch](t, rec)
	assert.NotEmpty(t, created.WatchID)

	rec = env.do(t, http.MethodGet, "/watch/list?user_id=u1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), created.WatchID)

	rec = env.do(t, http.MethodDelete, "/watch/"+created.WatchID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/watch/list?user_id=u1", nil)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, 0.0, body["count"])
}

func TestWatchCreateValidation(t *testing.T) {
	env := newTestServer(t)
	env.seedDeal(t, &domain.Deal{DealID: "flight_f1", Type: domain.DealTypeFlight, Price: 280})

	rec := env.do(t, http.MethodPost, "/watch/create", map[string]any{
		"user_id": "u1", "deal_id": "flight_f1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "a threshold is required")

	rec = env.do(t, http.MethodPost, "/watch/create", map[string]any{
		"user_id": "u1", "deal_id": "flight_nope", "price_threshold": 100,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code, "watch on unknown deal")

	rec = env.do(t, http.MethodDelete, "/watch/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTripPlanEndpoint(t *testing.T) {
	env := newTestServer(t)
	env.seedDeal(t, &domain.Deal{
		DealID: "flight_f1", Type: domain.DealTypeFlight, Price: 300, Score: 70,
		Metadata: domain.Metadata{Destination: "MIA"},
	})
	env.seedDeal(t, &domain.Deal{
		DealID: "hotel_h1", Type: domain.DealTypeHotel, Price: 150, Score: 60,
		Metadata: domain.Metadata{City: "Miami"},
	})

	rec := env.do(t, http.MethodPost, "/trip/plan", map[string]any{
		"user_id": "u1", "destination": "MIA", "budget": 2000,
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.GreaterOrEqual(t, body["count"], 1.0)

	rec = env.do(t, http.MethodPost, "/trip/plan", map[string]any{
		"user_id": "u1", "destination": "NRT",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code, "no bundles for the destination")

	// no destination: bundle across the whole inventory
	rec = env.do(t, http.MethodPost, "/trip/plan", map[string]any{"user_id": "u1"})
	assert.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody[map[string]any](t, rec)
	assert.GreaterOrEqual(t, body["count"], 1.0)
}

func TestChatFallbackSearch(t *testing.T) {
	env := newTestServer(t)
	env.seedDeal(t, &domain.Deal{
		DealID: "flight_f1", Type: domain.DealTypeFlight, Price: 280, Score: 70,
		Metadata: domain.Metadata{Destination: "DXB"},
	})

	rec := env.do(t, http.MethodPost, "/chat", map[string]any{
		"user_id": "u1", "message": "cheap flights to dubai",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[chatResponse](t, rec)
	assert.Equal(t, intent.IntentSearchFlights, resp.Intent)
	assert.Equal(t, "fallback", resp.Source)
	assert.Equal(t, "DXB", resp.Entities.Destination)
	require.Len(t, resp.Deals, 1)
	assert.Equal(t, "flight_f1", resp.Deals[0].DealID)
}

func TestChatRefinementNarrowsSearch(t *testing.T) {
	env := newTestServer(t)
	env.seedDeal(t, &domain.Deal{
		DealID: "flight_f1", Type: domain.DealTypeFlight, Price: 380, Score: 70,
		Metadata: domain.Metadata{Origin: "BOS", Destination: "MIA"},
	})
	env.seedDeal(t, &domain.Deal{
		DealID: "flight_f2", Type: domain.DealTypeFlight, Price: 250, Score: 65,
		Metadata: domain.Metadata{Origin: "BOS", Destination: "MIA"},
	})

	rec := env.do(t, http.MethodPost, "/chat", map[string]any{
		"user_id": "u1", "message": "flights from boston to miami under $400",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	first := decodeBody[chatResponse](t, rec)
	require.Len(t, first.Deals, 2)

	rec = env.do(t, http.MethodPost, "/chat", map[string]any{
		"user_id": "u1", "message": "cheaper, under $300",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	second := decodeBody[chatResponse](t, rec)
	assert.Equal(t, intent.IntentRefine, second.Intent)
	assert.Equal(t, "MIA", second.Entities.Destination, "route carried over from the previous turn")
	assert.Equal(t, "BOS", second.Entities.Origin)
	assert.Equal(t, 300.0, second.Entities.Budget)
	require.Len(t, second.Deals, 1)
	assert.Equal(t, "flight_f2", second.Deals[0].DealID)
}

func TestChatTrackCreatesWatch(t *testing.T) {
	env := newTestServer(t)
	env.seedDeal(t, &domain.Deal{
		DealID: "flight_f1", Type: domain.DealTypeFlight, Title: "BOS to MIA - JetBlue",
		Price: 250, Score: 70,
		Metadata: domain.Metadata{Destination: "MIA"},
	})

	rec := env.do(t, http.MethodPost, "/chat", map[string]any{
		"user_id": "u1", "message": "watch flights to miami",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[chatResponse](t, rec)
	assert.Equal(t, intent.IntentTrack, resp.Intent)
	assert.Contains(t, resp.Answer, "BOS to MIA - JetBlue")

	watches, err := env.store.Watches.ListByUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, watches, 1)
	assert.Equal(t, "flight_f1", watches[0].DealID)
	require.NotNil(t, watches[0].PriceThreshold)
	assert.Equal(t, 250.0, *watches[0].PriceThreshold)
}

func TestChatUpdatesPreferences(t *testing.T) {
	env := newTestServer(t)
	rec := env.do(t, http.MethodPost, "/chat", map[string]any{
		"user_id": "u1", "message": "flights from boston to miami under $400",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	pref, err := env.store.Preferences.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 400.0, pref.Preferences.BudgetMax)
	assert.Contains(t, pref.Preferences.FavoriteDestinations, "MIA")
	assert.Contains(t, pref.Preferences.FrequentRoutes, "BOS-MIA")
	assert.Equal(t, 1, pref.SearchCount)
}

func TestPolicyEndpoint(t *testing.T) {
	env := newTestServer(t)
	rec := env.do(t, http.MethodPost, "/policy", map[string]any{
		"question": "what are delta baggage fees",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]string](t, rec)
	assert.Contains(t, body["answer"], "Delta")

	rec = env.do(t, http.MethodPost, "/policy", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPreferencesEndpoint(t *testing.T) {
	env := newTestServer(t)

	rec := env.do(t, http.MethodGet, "/preferences/u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/preferences/u1", map[string]any{
		"budget_max": 1500, "direct_flights_only": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/preferences/u1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	pref := decodeBody[domain.UserPreference](t, rec)
	assert.Equal(t, 1500.0, pref.Preferences.BudgetMax)
	assert.True(t, pref.Preferences.DirectFlightsOnly)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/deals", nil)
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
