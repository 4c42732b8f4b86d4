package explain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealradar/dealradar/internal/cache"
	"github.com/dealradar/dealradar/internal/domain"
	"github.com/dealradar/dealradar/internal/llm"
	"github.com/dealradar/dealradar/internal/persistence/memory"
	"github.com/dealradar/dealradar/internal/telemetry"
)

type fakeModel struct {
	response string
	err      error
	calls    int
}

func (f *fakeModel) Generate(_ context.Context, _ string, _ llm.Options) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func seedHistory(t *testing.T, repo *memory.PriceHistoryRepo, dealID string, now time.Time, pricesByDayAgo map[int]float64) {
	t.Helper()
	for daysAgo, price := range pricesByDayAgo {
		err := repo.Append(context.Background(), &domain.PriceHistoryPoint{
			DealID:     dealID,
			Price:      price,
			RecordedAt: now.Add(-time.Duration(daysAgo) * 24 * time.Hour),
		})
		require.NoError(t, err)
	}
}

func newAnalyzer(history *memory.PriceHistoryRepo, now time.Time) *PriceAnalyzer {
	a := NewPriceAnalyzer(history)
	a.now = func() time.Time { return now }
	return a
}

func TestAnalyzeTrendNoHistory(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	a := newAnalyzer(memory.NewPriceHistoryRepo(), now)

	trend, err := a.AnalyzeTrend(context.Background(), "flight_x", 300)
	require.NoError(t, err)
	assert.Equal(t, TrendUnknown, trend.Trend)
	assert.Equal(t, "New deal - no historical data available", trend.Recommendation)
	assert.Nil(t, trend.Avg30d)
}

func TestAnalyzeTrendFalling(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	history := memory.NewPriceHistoryRepo()
	// 30-day average 400, recent week observed too so the 7d bucket exists.
	seedHistory(t, history, "flight_x", now, map[int]float64{
		2: 360, 5: 380, 12: 410, 20: 420, 28: 430,
	})
	a := newAnalyzer(history, now)

	trend, err := a.AnalyzeTrend(context.Background(), "flight_x", 350)
	require.NoError(t, err)
	assert.Equal(t, TrendFalling, trend.Trend)
	assert.Less(t, trend.TrendPercent, -5.0)
}

func TestAnalyzeTrendRising(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	history := memory.NewPriceHistoryRepo()
	seedHistory(t, history, "flight_x", now, map[int]float64{
		2: 440, 5: 420, 12: 400, 20: 390, 28: 380,
	})
	a := newAnalyzer(history, now)

	trend, err := a.AnalyzeTrend(context.Background(), "flight_x", 460)
	require.NoError(t, err)
	assert.Equal(t, TrendRising, trend.Trend)
	assert.Greater(t, trend.TrendPercent, 5.0)
}

func TestAnalyzeTrendVolatile(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	history := memory.NewPriceHistoryRepo()
	// Ten points inside 30 days swinging far beyond 15% of the average,
	// current price within the ±5% band of the average.
	seedHistory(t, history, "hotel_x", now, map[int]float64{
		1: 100, 3: 300, 6: 100, 9: 300, 12: 100,
		15: 300, 18: 100, 21: 300, 24: 100, 27: 300,
	})
	a := newAnalyzer(history, now)

	trend, err := a.AnalyzeTrend(context.Background(), "hotel_x", 200)
	require.NoError(t, err)
	assert.Equal(t, TrendVolatile, trend.Trend)
}

func TestAnalyzeTrendStableWithoutWeekBucket(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	history := memory.NewPriceHistoryRepo()
	// No observations in the last 7 days: the trend band needs both averages.
	seedHistory(t, history, "flight_x", now, map[int]float64{10: 400, 20: 400})
	a := newAnalyzer(history, now)

	trend, err := a.AnalyzeTrend(context.Background(), "flight_x", 300)
	require.NoError(t, err)
	assert.Equal(t, TrendStable, trend.Trend)
	assert.Nil(t, trend.Avg7d)
}

func TestRecommendationLadder(t *testing.T) {
	min60, max60 := 200.0, 400.0
	avg := 300.0
	base := func(trend string) *PriceTrend {
		return &PriceTrend{Avg30d: &avg, Min60d: &min60, Max60d: &max60, Trend: trend}
	}

	cases := []struct {
		name    string
		current float64
		trend   string
		want    string
	}{
		{"lowest in 60 days", 205, TrendStable, "Excellent price! Book now - lowest in 60 days"},
		{"well below average", 250, TrendStable, "Great price! Book soon - well below average"},
		{"falling and cheap", 290, TrendFalling, "Good price and falling - consider waiting a few days"},
		{"below average", 290, TrendStable, "Fair price - below average"},
		{"rising and high", 360, TrendRising, "Price rising - book now to avoid increases"},
		{"high", 390, TrendStable, "High price - consider waiting for a better deal"},
		{"midrange", 320, TrendStable, "Average price - monitor for better deals"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, recommend(tc.current, base(tc.trend)))
		})
	}
}

func TestExplainDealTemplateFallback(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	history := memory.NewPriceHistoryRepo()
	a := newAnalyzer(history, now)
	c := cache.NewMemoryCache()
	t.Cleanup(func() { c.Close() })
	model := &fakeModel{err: errors.New("model down")}
	e := NewEngine(a, model, c, 0, 0, zerolog.Nop(), telemetry.New())

	deal := &domain.Deal{
		DealID:          "hotel_h1",
		Type:            domain.DealTypeHotel,
		Title:           "Grand Plaza",
		Price:           160,
		OriginalPrice:   200,
		DiscountPercent: 20,
		Score:           82,
		Tags:            []string{"breakfast-included", "refundable"},
		Metadata:        domain.Metadata{Rating: 4.6},
	}
	out, err := e.ExplainDeal(context.Background(), deal)
	require.NoError(t, err)

	assert.Contains(t, out, "Hot Deal")
	assert.Contains(t, out, "Save $40 (20% off)")
	assert.Contains(t, out, "New deal - no historical data available")
	assert.Contains(t, out, "Breakfast included")
	assert.Contains(t, out, "Free cancellation")
}

func TestExplainDealCachesPerPrice(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	a := newAnalyzer(memory.NewPriceHistoryRepo(), now)
	c := cache.NewMemoryCache()
	t.Cleanup(func() { c.Close() })
	model := &fakeModel{response: "A bargain worth grabbing."}
	e := NewEngine(a, model, c, 0, 0, zerolog.Nop(), telemetry.New())

	deal := &domain.Deal{DealID: "flight_f1", Type: domain.DealTypeFlight, Price: 250}
	first, err := e.ExplainDeal(context.Background(), deal)
	require.NoError(t, err)
	second, err := e.ExplainDeal(context.Background(), deal)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, model.calls)

	// A new price is a new cache entry.
	deal.Price = 199
	_, err = e.ExplainDeal(context.Background(), deal)
	require.NoError(t, err)
	assert.Equal(t, 2, model.calls)
}

func TestExplainBundle(t *testing.T) {
	plan := &domain.TripPlan{
		FitScore:  84,
		TotalCost: 1050,
		Itinerary: domain.Itinerary{
			Flight: domain.BundleLeg{Price: 300},
			Hotel:  domain.BundleLeg{Price: 150},
		},
	}
	out := ExplainBundle(plan)
	assert.Contains(t, out, "Excellent match")
	assert.Contains(t, out, "$1050")
	assert.Contains(t, out, "Hotel $150/night")
}

func TestPolicyAirlineSpecificWinsOverGeneral(t *testing.T) {
	answer := lookupPolicy("What are Delta's baggage fees?")
	assert.Contains(t, answer, "Delta: first checked bag $30")

	answer = lookupPolicy("Can I cancel a Spirit flight?")
	assert.Contains(t, answer, "$90 cancellation fee")
}

func TestPolicyGeneralMatching(t *testing.T) {
	cases := []struct {
		question string
		want     string
	}{
		{"how much are baggage fees", policyBaggageFees},
		{"what size carry-on can I bring", policyCarryOn},
		{"checked luggage rules", policyChecked},
		{"can I cancel my hotel booking", policyHotelCancellation},
		{"can I cancel my flight", policyFlightCancellation},
		{"are there change fees", policyChangeFees},
		{"can I change my hotel dates", policyHotelChanges},
		{"how do refunds work", policyRefunds},
		{"is the 24 hour free cancellation real", policy24Hour},
	}
	for _, tc := range cases {
		t.Run(tc.question, func(t *testing.T) {
			assert.Equal(t, tc.want, lookupPolicy(tc.question))
		})
	}
}

func TestPolicyModelFallbackAndCaching(t *testing.T) {
	c := cache.NewMemoryCache()
	t.Cleanup(func() { c.Close() })
	model := &fakeModel{response: "Visas depend on your nationality and destination."}
	p := NewPolicyAnswerer(model, c)
	ctx := context.Background()

	answer, err := p.Answer(ctx, "do I need a visa for japan")
	require.NoError(t, err)
	assert.Equal(t, model.response, answer)

	_, err = p.Answer(ctx, "do I need a visa for japan")
	require.NoError(t, err)
	assert.Equal(t, 1, model.calls, "second ask served from cache")
}

func TestPolicyModelDownGracefulAnswer(t *testing.T) {
	c := cache.NewMemoryCache()
	t.Cleanup(func() { c.Close() })
	p := NewPolicyAnswerer(&fakeModel{err: llm.ErrUnavailable}, c)

	answer, err := p.Answer(context.Background(), "what is the meaning of travel")
	require.NoError(t, err)
	assert.Contains(t, answer, "unable to answer")
}
