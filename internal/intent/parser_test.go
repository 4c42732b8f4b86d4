package intent

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealradar/dealradar/internal/cache"
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

func newTestParser(t *testing.T, model llm.Client) (*Parser, *memory.ConversationRepo) {
	t.Helper()
	convs := memory.NewConversationRepo()
	c := cache.NewMemoryCache()
	t.Cleanup(func() { c.Close() })
	return NewParser(model, convs, c, zerolog.Nop(), telemetry.New()), convs
}

func TestParseModelPath(t *testing.T) {
	model := &fakeModel{response: `{"intent": "search_flights",
		"entities": {"origin": "SFO", "destination": "MIA", "budget": 500},
		"confidence": 0.95}`}
	p, convs := newTestParser(t, model)

	result, err := p.Parse(context.Background(), "u1", "flights from san francisco to miami under $500")
	require.NoError(t, err)

	assert.Equal(t, IntentSearchFlights, result.Intent)
	assert.Equal(t, "SFO", result.Entities.Origin)
	assert.Equal(t, "MIA", result.Entities.Destination)
	assert.Equal(t, 500.0, result.Entities.Budget)
	assert.Equal(t, "model", result.Source)

	history, err := convs.RecentByUser(context.Background(), "u1", 5)
	require.NoError(t, err)
	require.Len(t, history, 1, "every parse writes a conversation row")
	assert.Equal(t, IntentSearchFlights, history[0].Intent)
}

func TestParseRejectsHallucinatedDestination(t *testing.T) {
	// The model extracts "FLIGHTS" as a destination; validation rejects it
	// and the fallback resolves dubai to DXB.
	model := &fakeModel{response: `{"intent": "search_flights",
		"entities": {"destination": "FLIGHTS"}, "confidence": 0.9}`}
	p, _ := newTestParser(t, model)

	result, err := p.Parse(context.Background(), "u1", "cheap flights to dubai")
	require.NoError(t, err)

	assert.Equal(t, "fallback", result.Source)
	assert.Equal(t, IntentSearchFlights, result.Intent)
	assert.Equal(t, "DXB", result.Entities.Destination)
}

func TestParseRejectsDestinationAbsentFromMessage(t *testing.T) {
	model := &fakeModel{response: `{"intent": "search_flights",
		"entities": {"destination": "MIA"}, "confidence": 0.9}`}
	p, _ := newTestParser(t, model)

	result, err := p.Parse(context.Background(), "u1", "cheap flights to dubai")
	require.NoError(t, err)
	assert.Equal(t, "fallback", result.Source)
	assert.Equal(t, "DXB", result.Entities.Destination)
}

func TestParseFallsBackWhenModelDown(t *testing.T) {
	model := &fakeModel{err: llm.ErrUnavailable}
	p, _ := newTestParser(t, model)

	result, err := p.Parse(context.Background(), "u1", "hotel in tokyo for 2 people under $300")
	require.NoError(t, err)

	assert.Equal(t, "fallback", result.Source)
	assert.Equal(t, IntentSearchHotels, result.Intent)
	assert.Equal(t, "NRT", result.Entities.Destination)
	assert.Equal(t, 300.0, result.Entities.Budget)
	assert.Equal(t, 2, result.Entities.PartySize)
}

func TestParseCachesResults(t *testing.T) {
	model := &fakeModel{response: `{"intent": "search",
		"entities": {"destination": "MIA"}, "confidence": 0.9}`}
	p, _ := newTestParser(t, model)
	ctx := context.Background()

	first, err := p.Parse(ctx, "u1", "take me to miami")
	require.NoError(t, err)
	assert.Equal(t, "model", first.Source)

	second, err := p.Parse(ctx, "u2", "take me to miami")
	require.NoError(t, err)
	assert.Equal(t, "cache", second.Source)
	assert.Equal(t, 1, model.calls, "cache hit skips the model entirely")
}

func TestFallbackExtraction(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name    string
		message string
		intent  string
		check   func(t *testing.T, e Entities)
	}{
		{
			name:    "from-to with dates budget party",
			message: "san jose to LA on december 23rd to 25th for 1000 dollars for 1 person",
			intent:  IntentGeneralInquiry,
			check: func(t *testing.T, e Entities) {
				assert.Equal(t, "SJC", e.Origin)
				assert.Equal(t, "LAX", e.Destination)
				assert.Equal(t, "2026-12-23", e.StartDate)
				assert.Equal(t, "2026-12-25", e.EndDate)
				assert.Equal(t, 1000.0, e.Budget)
				assert.Equal(t, 1, e.PartySize)
			},
		},
		{
			name:    "cheap flights to city",
			message: "cheap flights to dubai",
			intent:  IntentSearchFlights,
			check: func(t *testing.T, e Entities) {
				assert.Empty(t, e.Origin)
				assert.Equal(t, "DXB", e.Destination)
			},
		},
		{
			name:    "plan trip with budget",
			message: "plan a vacation to tokyo with a budget of $3000",
			intent:  IntentPlanTrip,
			check: func(t *testing.T, e Entities) {
				assert.Equal(t, "NRT", e.Destination)
				assert.Equal(t, 3000.0, e.Budget)
			},
		},
		{
			name:    "deals keyword",
			message: "any deals this weekend",
			intent:  IntentFindDeals,
			check:   func(t *testing.T, e Entities) {},
		},
		{
			name:    "track keyword wins over flight keyword",
			message: "watch flights to miami",
			intent:  IntentTrack,
			check: func(t *testing.T, e Entities) {
				assert.Equal(t, "MIA", e.Destination)
			},
		},
		{
			name:    "cheaper is a refinement, not a deal search",
			message: "cheaper, under $300",
			intent:  IntentRefine,
			check: func(t *testing.T, e Entities) {
				assert.Equal(t, 300.0, e.Budget)
			},
		},
		{
			name:    "no travel words",
			message: "hello there",
			intent:  IntentGeneralInquiry,
			check: func(t *testing.T, e Entities) {
				assert.Empty(t, e.Destination)
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := Fallback(tc.message, now)
			assert.Equal(t, tc.intent, result.Intent)
			tc.check(t, result.Entities)
		})
	}
}

func TestFallbackDateRollsToNextYear(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	result := Fallback("flight to miami on march 5th", now)
	assert.Equal(t, "2027-03-05", result.Entities.StartDate)
}

func TestRefine(t *testing.T) {
	previous := Entities{Destination: "MIA", Budget: 1000}

	cheaper := Refine(previous, "make it cheaper")
	assert.Equal(t, 800.0, cheaper.Budget)
	assert.Equal(t, "MIA", cheaper.Destination)

	explicit := Refine(previous, "cheaper, under $600")
	assert.Equal(t, 600.0, explicit.Budget)

	direct := Refine(previous, "direct flights only")
	assert.True(t, direct.DirectOnly)
	assert.Equal(t, 1000.0, direct.Budget, "unmentioned slots are preserved")

	morning := Refine(previous, "morning departures please")
	assert.Equal(t, "morning", morning.TimePreference)

	retarget := Refine(previous, "actually go to boston")
	assert.Equal(t, "BOS", retarget.Destination)
}

func TestEntityMapRoundTrip(t *testing.T) {
	e := Entities{
		Origin: "BOS", Destination: "MIA",
		StartDate: "2026-09-01", EndDate: "2026-09-05",
		Budget: 400, PartySize: 2, Preferences: []string{"pet-friendly", "near-transit"},
	}
	assert.Equal(t, e, EntitiesFromMap(entityMap(&e)))

	assert.Equal(t, Entities{}, EntitiesFromMap(nil), "empty history row yields empty entities")
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		result Result
	}{
		{"unknown intent", Result{Intent: "teleport"}},
		{"stopword place", Result{Intent: IntentSearch, Entities: Entities{Destination: "FLIGHTS"}}},
		{"long place", Result{Intent: IntentSearch, Entities: Entities{Origin: "somewhere over the rainbow"}}},
		{"unknown alias", Result{Intent: IntentSearch, Entities: Entities{Destination: "gotham"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.NotEmpty(t, validate(&tc.result, "take me to gotham"))
		})
	}

	ok := Result{Intent: IntentSearch, Entities: Entities{Destination: "DXB"}}
	assert.Empty(t, validate(&ok, "cheap flights to dubai"))
}

func TestParseErrModelGarbage(t *testing.T) {
	model := &fakeModel{response: "I think you want a flight somewhere?"}
	p, _ := newTestParser(t, model)

	result, err := p.Parse(context.Background(), "u1", "flight to paris")
	require.NoError(t, err)
	assert.Equal(t, "fallback", result.Source)
	assert.Equal(t, "CDG", result.Entities.Destination)
}
