package domain

import (
	"time"
)

// DealType discriminates the two sellable offering kinds.
type DealType string

const (
	DealTypeFlight DealType = "flight"
	DealTypeHotel  DealType = "hotel"
)

// Metadata holds the type-specific attributes of a deal. Flight and hotel
// fields are flattened into one struct; the record's Type decides which half
// is populated.
type Metadata struct {
	// Flight attributes
	Origin          string `json:"origin,omitempty"`
	Destination     string `json:"destination,omitempty"`
	Airline         string `json:"airline,omitempty"`
	Departure       string `json:"departure,omitempty"`
	Arrival         string `json:"arrival,omitempty"`
	CabinClass      string `json:"cabin_class,omitempty"`
	BaggageIncluded bool   `json:"baggage_included,omitempty"`
	FlightCode      string `json:"flight_code,omitempty"`

	// Hotel attributes
	City      string   `json:"city,omitempty"`
	State     string   `json:"state,omitempty"`
	Address   string   `json:"address,omitempty"`
	Rating    float64  `json:"rating,omitempty"`
	Amenities []string `json:"amenities,omitempty"`

	// Monitoring attributes carried through to the stored row
	SavingsPercent float64 `json:"savings_percent,omitempty"`
	Discount       float64 `json:"discount,omitempty"`
	Inventory      int     `json:"inventory,omitempty"`
}

// Deal is the canonical persisted travel offering.
type Deal struct {
	ID              int64      `json:"id" db:"id"`
	DealID          string     `json:"deal_id" db:"deal_id"`
	Type            DealType   `json:"type" db:"type"`
	Title           string     `json:"title" db:"title"`
	Description     string     `json:"description" db:"description"`
	Price           float64    `json:"price" db:"price"`
	OriginalPrice   float64    `json:"original_price" db:"original_price"`
	Avg30dPrice     float64    `json:"avg_30d_price" db:"avg_30d_price"`
	DiscountPercent float64    `json:"discount_percent" db:"discount_percent"`
	Score           float64    `json:"score" db:"score"`
	Tags            []string   `json:"tags" db:"-"`
	Metadata        Metadata   `json:"metadata" db:"-"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
	Active          bool       `json:"active" db:"active"`
}

// HasTag reports whether the deal carries the given tag.
func (d *Deal) HasTag(tag string) bool {
	for _, t := range d.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// PriceHistoryPoint is one append-only price observation for a deal.
type PriceHistoryPoint struct {
	ID                 int64     `json:"id" db:"id"`
	DealID             string    `json:"deal_id" db:"deal_id"`
	Price              float64   `json:"price" db:"price"`
	AvailableInventory *int      `json:"available_inventory,omitempty" db:"available_inventory"`
	RecordedAt         time.Time `json:"recorded_at" db:"recorded_at"`
}

// PriceWatch is a user-registered threshold on a specific deal. At least one
// threshold must be set.
type PriceWatch struct {
	ID                 int64      `json:"id" db:"id"`
	WatchID            string     `json:"watch_id" db:"watch_id"`
	UserID             string     `json:"user_id" db:"user_id"`
	DealID             string     `json:"deal_id" db:"deal_id"`
	PriceThreshold     *float64   `json:"price_threshold,omitempty" db:"price_threshold"`
	InventoryThreshold *int       `json:"inventory_threshold,omitempty" db:"inventory_threshold"`
	Active             bool       `json:"active" db:"active"`
	LastNotified       *time.Time `json:"last_notified,omitempty" db:"last_notified"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
}

// TripPlan is a persisted planner result: one (flight, hotel) bundle.
type TripPlan struct {
	ID        int64     `json:"id" db:"id"`
	PlanID    string    `json:"plan_id" db:"plan_id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Query     string    `json:"query" db:"query"`
	Itinerary Itinerary `json:"itinerary" db:"-"`
	FitScore  float64   `json:"fit_score" db:"fit_score"`
	TotalCost float64   `json:"total_cost" db:"total_cost"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Itinerary references the two deals a bundle is composed of.
type Itinerary struct {
	Flight    BundleLeg `json:"flight"`
	Hotel     BundleLeg `json:"hotel"`
	TotalCost float64   `json:"total_cost"`
	PartySize int       `json:"party_size"`
	Nights    int       `json:"nights"`
}

// BundleLeg is one side of a bundle, denormalized for display.
type BundleLeg struct {
	DealID string   `json:"deal_id"`
	Title  string   `json:"title"`
	Price  float64  `json:"price"`
	Tags   []string `json:"tags"`
}

// Conversation is one chat turn in a user's append-only history.
type Conversation struct {
	ID        int64             `json:"id" db:"id"`
	UserID    string            `json:"user_id" db:"user_id"`
	Message   string            `json:"message" db:"message"`
	Response  string            `json:"response" db:"response"`
	Intent    string            `json:"intent" db:"intent"`
	Entities  map[string]string `json:"entities" db:"-"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
}

// Preferences are the mutable parts of a user profile, updated
// opportunistically by the search path.
type Preferences struct {
	BudgetMax            float64  `json:"budget_max,omitempty"`
	FrequentRoutes       []string `json:"frequent_routes,omitempty"`
	FavoriteDestinations []string `json:"favorite_destinations,omitempty"`
	PreferredAirlines    []string `json:"preferred_airlines,omitempty"`
	DirectFlightsOnly    bool     `json:"direct_flights_only,omitempty"`
	TimePreference       string   `json:"time_preference,omitempty"`
}

// UserPreference is the stored profile row.
type UserPreference struct {
	ID          int64       `json:"id" db:"id"`
	UserID      string      `json:"user_id" db:"user_id"`
	Preferences Preferences `json:"preferences" db:"-"`
	SearchCount int         `json:"search_count" db:"search_count"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
}

const profileListMax = 10

// RememberRoute appends a route to the bounded frequent-routes list.
func (p *Preferences) RememberRoute(route string) {
	p.FrequentRoutes = appendBounded(p.FrequentRoutes, route)
}

// RememberDestination appends a destination to the bounded favorites list.
func (p *Preferences) RememberDestination(dest string) {
	p.FavoriteDestinations = appendBounded(p.FavoriteDestinations, dest)
}

func appendBounded(list []string, v string) []string {
	if v == "" {
		return list
	}
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	list = append(list, v)
	if len(list) > profileListMax {
		list = list[len(list)-profileListMax:]
	}
	return list
}
