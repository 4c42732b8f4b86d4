package domain

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Bus topic names for the deal pipeline.
const (
	TopicRawFeeds   = "raw_feeds"
	TopicNormalized = "normalized"
	TopicScored     = "scored"
	TopicTagged     = "tagged"
	TopicEvents     = "events"
)

// Deal event types emitted on TopicEvents.
const (
	EventNewDeal     = "new_deal"
	EventPriceUpdate = "price_update"
)

// FlexID accepts a JSON string or number; supplier feeds are inconsistent
// about primary key types.
type FlexID string

func (f *FlexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexID(n.String())
	return nil
}

func (f FlexID) String() string { return string(f) }

// StringList accepts a JSON array of strings or a single comma-separated
// string (hotel amenities arrive in both shapes).
type StringList []string

func (s *StringList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*s = nil
		return nil
	}
	if data[0] == '[' {
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*s = list
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == "" {
		*s = nil
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	*s = out
	return nil
}

// RawFeed is the envelope published on raw_feeds. Data is decoded per
// FeedType by the normalizer, the only place free-form supplier input widens
// into canonical records.
type RawFeed struct {
	FeedType  string          `json:"feed_type"`
	Data      json.RawMessage `json:"data"`
	Source    string          `json:"source,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// FlightFeed is the supplier shape of a flight listing. Alternate field
// names carried by some suppliers (base_price, seats_left) are accepted.
type FlightFeed struct {
	ID              FlexID  `json:"id"`
	RouteID         string  `json:"route_id"`
	Origin          string  `json:"origin"`
	Destination     string  `json:"destination"`
	Airline         string  `json:"airline"`
	Departure       string  `json:"departure"`
	Arrival         string  `json:"arrival"`
	Price           float64 `json:"price"`
	OriginalPrice   float64 `json:"original_price"`
	BasePrice       float64 `json:"base_price"`
	AvailableSeats  *int    `json:"available_seats"`
	SeatsLeft       *int    `json:"seats_left"`
	CabinClass      string  `json:"cabin_class"`
	BaggageIncluded bool    `json:"baggage_included"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
}

// HotelFeed is the supplier shape of a hotel listing.
type HotelFeed struct {
	ID             FlexID     `json:"id"`
	HotelID        FlexID     `json:"hotel_id"`
	Name           string     `json:"name"`
	City           string     `json:"city"`
	State          string     `json:"state"`
	Address        string     `json:"address"`
	PricePerNight  float64    `json:"price_per_night"`
	OriginalPrice  float64    `json:"original_price"`
	AvailableRooms *int       `json:"available_rooms"`
	Rating         float64    `json:"rating"`
	StarRating     int        `json:"star_rating"`
	Amenities      StringList `json:"amenities"`
	PetFriendly    bool       `json:"pet_friendly"`
	Refundable     bool       `json:"refundable"`
	NearTransit    bool       `json:"near_transit"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

// DealRecord is the canonical pipeline message from normalized onward. Each
// stage enriches it in place and republishes keyed by DealID.
type DealRecord struct {
	DealID             string     `json:"deal_id"`
	Type               DealType   `json:"type"`
	Title              string     `json:"title"`
	Description        string     `json:"description"`
	Price              float64    `json:"price"`
	OriginalPrice      float64    `json:"original_price"`
	AvailableInventory int        `json:"available_inventory"`
	Avg30dPrice        float64    `json:"avg_30d_price,omitempty"`
	DiscountPercent    float64    `json:"discount_percent"`
	Score              float64    `json:"score"`
	IsDeal             bool       `json:"is_deal,omitempty"`
	Tags               []string   `json:"tags"`
	Metadata           Metadata   `json:"metadata"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	Timestamp          time.Time  `json:"timestamp"`
}

// DealEvent is published on the events topic by the persister.
type DealEvent struct {
	EventType string      `json:"event_type"`
	DealID    string      `json:"deal_id"`
	OldPrice  float64     `json:"old_price,omitempty"`
	NewPrice  float64     `json:"new_price,omitempty"`
	Data      *DealRecord `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// DiscountPercent computes the feed-supplied discount, floored at zero.
func DiscountPercent(price, originalPrice float64) float64 {
	if originalPrice <= 0 {
		return 0
	}
	pct := (originalPrice - price) / originalPrice * 100
	if pct < 0 {
		return 0
	}
	return pct
}

// FormatPrice renders a price for user-facing messages.
func FormatPrice(v float64) string {
	return "$" + strconv.FormatFloat(v, 'f', 2, 64)
}
