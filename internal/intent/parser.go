package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dealradar/dealradar/internal/cache"
	"github.com/dealradar/dealradar/internal/domain"
	"github.com/dealradar/dealradar/internal/geo"
	"github.com/dealradar/dealradar/internal/llm"
	"github.com/dealradar/dealradar/internal/telemetry"
)

const historyTurns = 5

// validIntents is the closed set the model may return.
var validIntents = map[string]bool{
	IntentSearch: true, IntentSearchFlights: true, IntentSearchHotels: true,
	IntentPlanTrip: true, IntentFindDeals: true, IntentQuestion: true,
	IntentRefine: true, IntentTrack: true,
}

// stopwords are query tokens the model sometimes hallucinates into place
// slots. Any extracted location matching one is grounds for rejection.
var stopwords = map[string]bool{
	"FIND": true, "FLIGHT": true, "FLIGHTS": true, "FROM": true, "PLAN": true,
	"TRIP": true, "SHOW": true, "SEARCH": true, "CHEAP": true, "HOTEL": true,
	"HOTELS": true, "VACATION": true, "BOOK": true, "DEAL": true, "DEALS": true,
}

// Parser resolves free text into a Result.
type Parser struct {
	model   llm.Client
	convs   conversationStore
	cache   cache.Cache
	log     zerolog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

// conversationStore is the slice of persistence the parser needs.
type conversationStore interface {
	Append(ctx context.Context, conv *domain.Conversation) error
	RecentByUser(ctx context.Context, userID string, limit int) ([]domain.Conversation, error)
}

// NewParser creates the intent parser.
func NewParser(model llm.Client, convs conversationStore, c cache.Cache, log zerolog.Logger, metrics *telemetry.Metrics) *Parser {
	return &Parser{
		model:   model,
		convs:   convs,
		cache:   c,
		log:     log.With().Str("component", "intent").Logger(),
		metrics: metrics,
		now:     time.Now,
	}
}

// Parse resolves one message. Identical messages are served from cache; the
// model path is validated and anything suspect falls back to the regex
// extractor. Every parse appends a conversation row.
func (p *Parser) Parse(ctx context.Context, userID, message string) (*Result, error) {
	key := cache.Key("intent", message)
	if cached, err := p.cache.Get(ctx, key); err == nil {
		var result Result
		if err := json.Unmarshal(cached, &result); err == nil {
			result.Source = "cache"
			p.metrics.CacheHits.WithLabelValues("intent").Inc()
			p.metrics.IntentParses.WithLabelValues("cache").Inc()
			return &result, nil
		}
	}
	p.metrics.CacheMisses.WithLabelValues("intent").Inc()

	result := p.parseUncached(ctx, userID, message)
	p.metrics.IntentParses.WithLabelValues(result.Source).Inc()

	if payload, err := json.Marshal(result); err == nil {
		if err := p.cache.Set(ctx, key, payload, cache.TTLIntent); err != nil {
			p.log.Warn().Err(err).Msg("failed to cache intent result")
		}
	}

	conv := &domain.Conversation{
		UserID:   userID,
		Message:  message,
		Intent:   result.Intent,
		Entities: entityMap(&result.Entities),
	}
	if err := p.convs.Append(ctx, conv); err != nil {
		p.log.Warn().Err(err).Str("user_id", userID).Msg("failed to record conversation")
	}
	return result, nil
}

func (p *Parser) parseUncached(ctx context.Context, userID, message string) *Result {
	primary, err := p.callModel(ctx, userID, message)
	if err != nil {
		p.log.Debug().Err(err).Msg("model parse failed, using fallback")
		return Fallback(message, p.now())
	}
	if reason := validate(primary, message); reason != "" {
		p.log.Debug().Str("reason", reason).Msg("model parse rejected, using fallback")
		return Fallback(message, p.now())
	}
	primary.Source = "model"
	return primary
}

func (p *Parser) callModel(ctx context.Context, userID, message string) (*Result, error) {
	var history strings.Builder
	if recent, err := p.convs.RecentByUser(ctx, userID, historyTurns); err == nil {
		for i := len(recent) - 1; i >= 0; i-- {
			fmt.Fprintf(&history, "user: %s\n", recent[i].Message)
		}
	}

	raw, err := p.model.Generate(ctx, parsePrompt(history.String(), message), llm.Options{
		Temperature: 0.3,
		MaxTokens:   500,
	})
	if err != nil {
		return nil, err
	}
	payload, err := llm.ExtractJSON(raw)
	if err != nil {
		return nil, err
	}
	var result Result
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("model returned unparseable intent: %w", err)
	}
	return &result, nil
}

// validate returns a rejection reason, or empty when the model result is
// trustworthy.
func validate(r *Result, message string) string {
	if !validIntents[r.Intent] {
		return "unknown intent"
	}
	for _, place := range []string{r.Entities.Origin, r.Entities.Destination} {
		if place == "" {
			continue
		}
		if len(place) > 20 {
			return "place too long"
		}
		if stopwords[strings.ToUpper(place)] {
			return "place is a stopword"
		}
		if len(place) != 3 && !geo.KnownCity(place) {
			return "place is not a code or known alias"
		}
	}
	if dest := r.Entities.Destination; dest != "" && !geo.CityNameAppearsIn(message, dest) {
		return "destination not present in message"
	}
	return ""
}

func parsePrompt(history, message string) string {
	var b strings.Builder
	b.WriteString(`You are a travel intent parser. Return ONLY valid JSON, no other text.

Extract travel information and convert cities to airport codes.
JSON shape: {"intent": "...", "entities": {"origin": "...", "destination": "...",
"start_date": "YYYY-MM-DD", "end_date": "YYYY-MM-DD", "budget": 0,
"party_size": 0, "preferences": []}, "confidence": 0.0}

Rules:
- intent must be one of: search, search_flights, search_hotels, plan_trip, find_deals, question, refine, track
- origin/destination must be 3-letter airport codes, never city names or other words
- "flights to X" means X is the DESTINATION; "from X to Y" means X origin, Y destination
- ignore words like "plan", "trip", "find", "cheap", "show"; they are never locations
- omit entities that are not in the query
`)
	if history != "" {
		b.WriteString("\nRecent conversation:\n")
		b.WriteString(history)
	}
	b.WriteString("\nQuery: ")
	b.WriteString(message)
	b.WriteString("\n\nRespond with valid JSON only.")
	return b.String()
}

func entityMap(e *Entities) map[string]string {
	m := make(map[string]string)
	if e.Origin != "" {
		m["origin"] = e.Origin
	}
	if e.Destination != "" {
		m["destination"] = e.Destination
	}
	if e.StartDate != "" {
		m["start_date"] = e.StartDate
	}
	if e.EndDate != "" {
		m["end_date"] = e.EndDate
	}
	if e.Budget > 0 {
		m["budget"] = fmt.Sprintf("%.0f", e.Budget)
	}
	if e.PartySize > 0 {
		m["party_size"] = fmt.Sprintf("%d", e.PartySize)
	}
	if len(e.Preferences) > 0 {
		m["preferences"] = strings.Join(e.Preferences, ",")
	}
	return m
}

// EntitiesFromMap rebuilds Entities from a stored conversation row; the
// inverse of the map written by Parse.
func EntitiesFromMap(m map[string]string) Entities {
	e := Entities{
		Origin:      m["origin"],
		Destination: m["destination"],
		StartDate:   m["start_date"],
		EndDate:     m["end_date"],
	}
	if v := m["budget"]; v != "" {
		e.Budget, _ = strconv.ParseFloat(v, 64)
	}
	if v := m["party_size"]; v != "" {
		e.PartySize, _ = strconv.Atoi(v)
	}
	if v := m["preferences"]; v != "" {
		e.Preferences = strings.Split(v, ",")
	}
	return e
}
