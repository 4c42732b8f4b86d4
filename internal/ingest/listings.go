package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/dealradar/dealradar/internal/domain"
)

// ListingsDB reads supplier listings from the external listings database.
type ListingsDB struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewListingsDB wraps a listings connection.
func NewListingsDB(db *sqlx.DB, timeout time.Duration) *ListingsDB {
	return &ListingsDB{db: db, timeout: timeout}
}

type flightListingRow struct {
	RouteID         string  `db:"route_id"`
	Origin          string  `db:"origin"`
	Destination     string  `db:"destination"`
	Airline         string  `db:"airline"`
	Departure       string  `db:"departure"`
	Arrival         string  `db:"arrival"`
	Price           float64 `db:"price"`
	OriginalPrice   float64 `db:"original_price"`
	AvailableSeats  *int    `db:"available_seats"`
	CabinClass      string  `db:"cabin_class"`
	BaggageIncluded bool    `db:"baggage_included"`
}

type hotelListingRow struct {
	HotelID        string   `db:"hotel_id"`
	Name           string   `db:"name"`
	City           string   `db:"city"`
	State          string   `db:"state"`
	Address        string   `db:"address"`
	PricePerNight  float64  `db:"price_per_night"`
	OriginalPrice  *float64 `db:"original_price"`
	AvailableRooms *int     `db:"available_rooms"`
	Rating         float64  `db:"rating"`
	Amenities      string   `db:"amenities"`
	PetFriendly    bool     `db:"pet_friendly"`
	Refundable     bool     `db:"refundable"`
	NearTransit    bool     `db:"near_transit"`
}

func (l *ListingsDB) Flights(ctx context.Context, limit int) ([]domain.FlightFeed, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	var rows []flightListingRow
	err := l.db.SelectContext(ctx, &rows, `
		SELECT route_id, origin, destination, airline, departure, arrival,
		       price, original_price, available_seats, cabin_class, baggage_included
		FROM flights
		ORDER BY updated_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query flight listings: %w", err)
	}

	feeds := make([]domain.FlightFeed, 0, len(rows))
	for _, r := range rows {
		feeds = append(feeds, domain.FlightFeed{
			RouteID:         r.RouteID,
			Origin:          r.Origin,
			Destination:     r.Destination,
			Airline:         r.Airline,
			Departure:       r.Departure,
			Arrival:         r.Arrival,
			Price:           r.Price,
			OriginalPrice:   r.OriginalPrice,
			AvailableSeats:  r.AvailableSeats,
			CabinClass:      r.CabinClass,
			BaggageIncluded: r.BaggageIncluded,
		})
	}
	return feeds, nil
}

func (l *ListingsDB) Hotels(ctx context.Context, limit int) ([]domain.HotelFeed, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	var rows []hotelListingRow
	err := l.db.SelectContext(ctx, &rows, `
		SELECT hotel_id, name, city, state, address, price_per_night,
		       original_price, available_rooms, rating, amenities,
		       pet_friendly, refundable, near_transit
		FROM hotels
		ORDER BY updated_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query hotel listings: %w", err)
	}

	feeds := make([]domain.HotelFeed, 0, len(rows))
	for _, r := range rows {
		feed := domain.HotelFeed{
			HotelID:        domain.FlexID(r.HotelID),
			Name:           r.Name,
			City:           r.City,
			State:          r.State,
			Address:        r.Address,
			PricePerNight:  r.PricePerNight,
			AvailableRooms: r.AvailableRooms,
			Rating:         r.Rating,
			PetFriendly:    r.PetFriendly,
			Refundable:     r.Refundable,
			NearTransit:    r.NearTransit,
		}
		if r.OriginalPrice != nil {
			feed.OriginalPrice = *r.OriginalPrice
		}
		feed.Amenities = splitAmenities(r.Amenities)
		feeds = append(feeds, feed)
	}
	return feeds, nil
}

// splitAmenities parses the comma-separated amenities column.
func splitAmenities(raw string) domain.StringList {
	if raw == "" {
		return nil
	}
	var out domain.StringList
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
