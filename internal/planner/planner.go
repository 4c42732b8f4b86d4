// Package planner composes flight+hotel bundles and ranks them by how well
// they fit the user's budget and preferences.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dealradar/dealradar/internal/cache"
	"github.com/dealradar/dealradar/internal/domain"
	"github.com/dealradar/dealradar/internal/geo"
	"github.com/dealradar/dealradar/internal/persistence"
	"github.com/dealradar/dealradar/internal/telemetry"
)

const (
	maxFlightsPerPlan     = 10
	maxHotelsPerPlan      = 5
	defaultRecommendations = 3
)

// convenienceTags are the hotel tags the convenience sub-score rewards.
var convenienceTags = []string{"near-transit", "downtown", "airport-shuttle"}

// Request describes one trip-planning query.
type Request struct {
	UserID      string   `json:"user_id"`
	Origin      string   `json:"origin,omitempty"`
	Destination string   `json:"destination,omitempty"`
	Budget      float64  `json:"budget,omitempty"`
	PartySize   int      `json:"party_size,omitempty"`
	Preferences []string `json:"preferences,omitempty"`
	StartDate   string   `json:"start_date,omitempty"`
	EndDate     string   `json:"end_date,omitempty"`
	MaxResults  int      `json:"max_results,omitempty"`
}

// Planner builds ranked trip bundles from the active deal inventory.
type Planner struct {
	deals      persistence.DealRepo
	plans      persistence.TripPlanRepo
	cache      cache.Cache
	maxResults int
	log        zerolog.Logger
	metrics    *telemetry.Metrics
}

// New creates a trip planner. maxResults caps how many bundles a request
// returns when it does not ask for a count itself (defaults to 3 when zero).
func New(deals persistence.DealRepo, plans persistence.TripPlanRepo, c cache.Cache, maxResults int, log zerolog.Logger, metrics *telemetry.Metrics) *Planner {
	if maxResults <= 0 {
		maxResults = defaultRecommendations
	}
	return &Planner{
		deals:      deals,
		plans:      plans,
		cache:      c,
		maxResults: maxResults,
		log:        log.With().Str("component", "planner").Logger(),
		metrics:    metrics,
	}
}

// Plan returns the top bundles for the request, best fit first. Results are
// cached per (destination, budget, party size, preferences); cached plans
// are served without touching the store.
func (p *Planner) Plan(ctx context.Context, req *Request) ([]domain.TripPlan, error) {
	key := p.cacheKey(req)
	if cached, err := p.cache.Get(ctx, key); err == nil {
		var plans []domain.TripPlan
		if err := json.Unmarshal(cached, &plans); err == nil {
			p.metrics.CacheHits.WithLabelValues("trip").Inc()
			return plans, nil
		}
	}
	p.metrics.CacheMisses.WithLabelValues("trip").Inc()

	plans, err := p.compose(ctx, req)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(plans); err == nil {
		if err := p.cache.Set(ctx, key, payload, cache.TTLTrip); err != nil {
			p.log.Warn().Err(err).Msg("failed to cache trip plans")
		}
	}
	return plans, nil
}

func (p *Planner) compose(ctx context.Context, req *Request) ([]domain.TripPlan, error) {
	flights, err := p.deals.ListActiveByType(ctx, domain.DealTypeFlight)
	if err != nil {
		return nil, fmt.Errorf("failed to load flights: %w", err)
	}
	hotels, err := p.deals.ListActiveByType(ctx, domain.DealTypeHotel)
	if err != nil {
		return nil, fmt.Errorf("failed to load hotels: %w", err)
	}

	if req.Destination != "" {
		codes := geo.ExpandAirports(req.Destination)
		city := geo.CityFor(req.Destination)
		flights = filterFlights(flights, codes)
		hotels = filterHotels(hotels, city)
	}
	if len(flights) > maxFlightsPerPlan {
		flights = flights[:maxFlightsPerPlan]
	}
	if len(hotels) > maxHotelsPerPlan {
		hotels = hotels[:maxHotelsPerPlan]
	}

	partySize := req.PartySize
	if partySize <= 0 {
		partySize = 1
	}
	nights := nightsBetween(req.StartDate, req.EndDate)

	bundles := make([]domain.TripPlan, 0, len(flights)*len(hotels))
	for _, flight := range flights {
		for _, hotel := range hotels {
			itinerary := domain.Itinerary{
				Flight: domain.BundleLeg{
					DealID: flight.DealID, Title: flight.Title,
					Price: flight.Price, Tags: flight.Tags,
				},
				Hotel: domain.BundleLeg{
					DealID: hotel.DealID, Title: hotel.Title,
					Price: hotel.Price, Tags: hotel.Tags,
				},
				TotalCost: flight.Price*float64(partySize) + hotel.Price*float64(nights),
				PartySize: partySize,
				Nights:    nights,
			}
			bundles = append(bundles, domain.TripPlan{
				PlanID:    uuid.NewString(),
				UserID:    userOrAnonymous(req.UserID),
				Query:     querySnapshot(req),
				Itinerary: itinerary,
				FitScore:  FitScore(&itinerary, req),
				TotalCost: itinerary.TotalCost,
			})
		}
	}

	sort.SliceStable(bundles, func(i, j int) bool {
		return bundles[i].FitScore > bundles[j].FitScore
	})
	limit := req.MaxResults
	if limit <= 0 {
		limit = p.maxResults
	}
	if len(bundles) > limit {
		bundles = bundles[:limit]
	}

	for i := range bundles {
		if err := p.plans.Insert(ctx, &bundles[i]); err != nil {
			p.log.Warn().Err(err).Str("plan_id", bundles[i].PlanID).Msg("failed to persist trip plan")
		}
	}
	return bundles, nil
}

// FitScore rates a bundle 0-100 against the request: budget sub-score up to
// 40, preference overlap up to 35, hotel convenience up to 25.
func FitScore(it *domain.Itinerary, req *Request) float64 {
	var score float64

	switch {
	case req.Budget > 0:
		switch {
		case it.TotalCost <= 0.8*req.Budget:
			score += 40
		case it.TotalCost <= req.Budget:
			score += 30
		case it.TotalCost <= 1.1*req.Budget:
			score += 15
		}
	default:
		score += 20
	}

	if len(req.Preferences) > 0 {
		features := make(map[string]bool, len(it.Flight.Tags)+len(it.Hotel.Tags))
		for _, t := range it.Flight.Tags {
			features[t] = true
		}
		for _, t := range it.Hotel.Tags {
			features[t] = true
		}
		var matched int
		for _, pref := range req.Preferences {
			if features[pref] {
				matched++
			}
		}
		score += float64(matched) / float64(len(req.Preferences)) * 35
	} else {
		score += 17
	}

	hotelTags := make(map[string]bool, len(it.Hotel.Tags))
	for _, t := range it.Hotel.Tags {
		hotelTags[t] = true
	}
	var convenience float64
	for _, tag := range convenienceTags {
		if hotelTags[tag] {
			convenience += 8
		}
	}
	if convenience > 25 {
		convenience = 25
	}
	score += convenience

	if score > 100 {
		return 100
	}
	return score
}

func filterFlights(flights []domain.Deal, codes []string) []domain.Deal {
	allowed := make(map[string]bool, len(codes))
	for _, c := range codes {
		allowed[strings.ToUpper(c)] = true
	}
	out := flights[:0]
	for _, f := range flights {
		if allowed[strings.ToUpper(f.Metadata.Destination)] {
			out = append(out, f)
		}
	}
	return out
}

func filterHotels(hotels []domain.Deal, city string) []domain.Deal {
	if city == "" {
		return hotels
	}
	out := hotels[:0]
	for _, h := range hotels {
		if strings.Contains(strings.ToUpper(h.Metadata.City), city) {
			out = append(out, h)
		}
	}
	return out
}

// nightsBetween derives the stay length from the date range; absent or
// invalid dates mean one night.
func nightsBetween(start, end string) int {
	if start == "" || end == "" {
		return 1
	}
	s, err := time.Parse("2006-01-02", start)
	if err != nil {
		return 1
	}
	e, err := time.Parse("2006-01-02", end)
	if err != nil {
		return 1
	}
	nights := int(e.Sub(s).Hours() / 24)
	if nights < 1 {
		return 1
	}
	return nights
}

func userOrAnonymous(userID string) string {
	if userID == "" {
		return "anonymous"
	}
	return userID
}

func querySnapshot(req *Request) string {
	snapshot, _ := json.Marshal(req)
	return string(snapshot)
}

func (p *Planner) cacheKey(req *Request) string {
	parts := []string{
		req.Destination,
		req.Origin,
		strconv.FormatFloat(req.Budget, 'f', 2, 64),
		strconv.Itoa(req.PartySize),
		req.StartDate,
		req.EndDate,
	}
	parts = append(parts, req.Preferences...)
	return cache.Key("trip", parts...)
}
