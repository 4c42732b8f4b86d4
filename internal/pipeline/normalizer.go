// Package pipeline implements the four staged consumers that turn raw
// supplier feeds into scored, tagged, persisted deals:
//
//	raw_feeds → Normalizer → normalized → Scorer → scored → Tagger → tagged → Persister
//
// Every stage is a pure transformation plus a republish; the persister is the
// only stage with side effects beyond the bus. Stages fail soft: malformed
// input is logged and dropped so one bad record never wedges a consumer group.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dealradar/dealradar/internal/domain"
	"github.com/dealradar/dealradar/internal/stream"
	"github.com/dealradar/dealradar/internal/telemetry"
)

const (
	defaultFlightInventory = 100
	defaultHotelInventory  = 10
)

// Normalizer consumes raw_feeds and emits canonical DealRecords on
// normalized, keyed by deal_id.
type Normalizer struct {
	bus     stream.Bus
	log     zerolog.Logger
	metrics *telemetry.Metrics
}

// NewNormalizer creates the raw-feed normalizer stage.
func NewNormalizer(bus stream.Bus, log zerolog.Logger, metrics *telemetry.Metrics) *Normalizer {
	return &Normalizer{
		bus:     bus,
		log:     log.With().Str("stage", "normalizer").Logger(),
		metrics: metrics,
	}
}

// Start registers the stage on its input topic.
func (n *Normalizer) Start(ctx context.Context) error {
	return n.bus.Subscribe(ctx, domain.TopicRawFeeds, "normalizer", n.handle)
}

func (n *Normalizer) handle(ctx context.Context, msg *stream.Message) error {
	started := time.Now()
	defer func() {
		n.metrics.PipelineLatency.WithLabelValues("normalizer").Observe(time.Since(started).Seconds())
	}()

	var feed domain.RawFeed
	if err := json.Unmarshal(msg.Payload, &feed); err != nil {
		n.log.Warn().Err(err).Msg("dropping malformed raw feed")
		n.metrics.PipelineDropped.WithLabelValues("normalizer", "malformed").Inc()
		return nil
	}

	record, err := n.Normalize(&feed)
	if err != nil {
		n.log.Warn().Err(err).Str("feed_type", feed.FeedType).Msg("dropping unnormalizable feed")
		n.metrics.PipelineDropped.WithLabelValues("normalizer", "invalid").Inc()
		return nil
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal normalized record: %w", err)
	}
	if err := n.bus.Publish(ctx, domain.TopicNormalized, record.DealID, payload); err != nil {
		return fmt.Errorf("failed to publish normalized record: %w", err)
	}
	n.metrics.PipelineProcessed.WithLabelValues("normalizer").Inc()
	return nil
}

// Normalize converts one raw feed into a canonical record. Exposed for the
// ingester, which pre-normalizes rows it reads directly from the listings DB.
func (n *Normalizer) Normalize(feed *domain.RawFeed) (*domain.DealRecord, error) {
	switch feed.FeedType {
	case "flight":
		var f domain.FlightFeed
		if err := json.Unmarshal(feed.Data, &f); err != nil {
			return nil, fmt.Errorf("bad flight payload: %w", err)
		}
		return normalizeFlight(&f, feed.Timestamp)
	case "hotel":
		var h domain.HotelFeed
		if err := json.Unmarshal(feed.Data, &h); err != nil {
			return nil, fmt.Errorf("bad hotel payload: %w", err)
		}
		return normalizeHotel(&h, feed.Timestamp)
	default:
		return nil, fmt.Errorf("unknown feed_type %q", feed.FeedType)
	}
}

func normalizeFlight(f *domain.FlightFeed, ts time.Time) (*domain.DealRecord, error) {
	key := f.RouteID
	if key == "" {
		key = f.ID.String()
	}
	if key == "" {
		return nil, fmt.Errorf("flight feed has no route_id or id")
	}
	if f.Price <= 0 {
		return nil, fmt.Errorf("flight %s has non-positive price %.2f", key, f.Price)
	}

	original := f.OriginalPrice
	if original == 0 {
		original = f.BasePrice
	}
	if original < f.Price {
		original = f.Price
	}
	inventory := defaultFlightInventory
	if f.AvailableSeats != nil {
		inventory = *f.AvailableSeats
	} else if f.SeatsLeft != nil {
		inventory = *f.SeatsLeft
	}
	cabin := f.CabinClass
	if cabin == "" {
		cabin = "economy"
	}
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	return &domain.DealRecord{
		DealID:             "flight_" + key,
		Type:               domain.DealTypeFlight,
		Title:              fmt.Sprintf("%s to %s - %s", f.Origin, f.Destination, f.Airline),
		Description:        fmt.Sprintf("%s class flight", cabin),
		Price:              f.Price,
		OriginalPrice:      original,
		AvailableInventory: inventory,
		DiscountPercent:    domain.DiscountPercent(f.Price, original),
		Metadata: domain.Metadata{
			Origin:          strings.ToUpper(f.Origin),
			Destination:     strings.ToUpper(f.Destination),
			Airline:         f.Airline,
			Departure:       f.Departure,
			Arrival:         f.Arrival,
			CabinClass:      cabin,
			BaggageIncluded: f.BaggageIncluded,
			FlightCode:      f.RouteID,
		},
		ExpiresAt: f.ExpiresAt,
		Timestamp: ts,
	}, nil
}

func normalizeHotel(h *domain.HotelFeed, ts time.Time) (*domain.DealRecord, error) {
	key := h.HotelID.String()
	if key == "" {
		key = h.ID.String()
	}
	if key == "" {
		return nil, fmt.Errorf("hotel feed has no hotel_id or id")
	}
	if h.PricePerNight <= 0 {
		return nil, fmt.Errorf("hotel %s has non-positive price %.2f", key, h.PricePerNight)
	}

	original := h.OriginalPrice
	if original < h.PricePerNight {
		original = h.PricePerNight
	}
	inventory := defaultHotelInventory
	if h.AvailableRooms != nil {
		inventory = *h.AvailableRooms
	}
	rating := h.Rating
	if rating == 0 && h.StarRating > 0 {
		rating = float64(h.StarRating)
	}
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	var tags []string
	if h.PetFriendly {
		tags = append(tags, "pet-friendly")
	}
	if h.Refundable {
		tags = append(tags, "refundable")
	}
	if h.NearTransit {
		tags = append(tags, "near-transit")
	}

	return &domain.DealRecord{
		DealID:             "hotel_" + key,
		Type:               domain.DealTypeHotel,
		Title:              h.Name,
		Description:        fmt.Sprintf("%.1f star hotel in %s", rating, h.City),
		Price:              h.PricePerNight,
		OriginalPrice:      original,
		AvailableInventory: inventory,
		DiscountPercent:    domain.DiscountPercent(h.PricePerNight, original),
		Tags:               tags,
		Metadata: domain.Metadata{
			City:      h.City,
			State:     h.State,
			Address:   h.Address,
			Rating:    rating,
			Amenities: normalizeAmenities(h.Amenities),
		},
		ExpiresAt: h.ExpiresAt,
		Timestamp: ts,
	}, nil
}

func normalizeAmenities(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, a := range raw {
		a = strings.ToLower(strings.TrimSpace(a))
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}
