package pipeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealradar/dealradar/internal/domain"
	"github.com/dealradar/dealradar/internal/persistence/memory"
	"github.com/dealradar/dealradar/internal/stream"
	"github.com/dealradar/dealradar/internal/telemetry"
)

func intPtr(v int) *int { return &v }

func TestNormalizeFlight(t *testing.T) {
	n := NewNormalizer(nil, zerolog.Nop(), telemetry.New())

	data, _ := json.Marshal(map[string]interface{}{
		"id": "F1", "origin": "lax", "destination": "sfo", "airline": "Delta",
		"price": 200.0, "base_price": 250.0, "seats_left": 8, "cabin_class": "economy",
	})
	record, err := n.Normalize(&domain.RawFeed{FeedType: "flight", Data: data, Timestamp: time.Now()})
	require.NoError(t, err)

	assert.Equal(t, "flight_F1", record.DealID)
	assert.Equal(t, domain.DealTypeFlight, record.Type)
	assert.Equal(t, "LAX to SFO - Delta", record.Title)
	assert.Equal(t, "economy class flight", record.Description)
	assert.Equal(t, 200.0, record.Price)
	assert.Equal(t, 250.0, record.OriginalPrice)
	assert.Equal(t, 8, record.AvailableInventory)
	assert.InDelta(t, 20.0, record.DiscountPercent, 0.001)
	assert.Equal(t, "LAX", record.Metadata.Origin)
	assert.Equal(t, "SFO", record.Metadata.Destination)
}

func TestNormalizeFlightPrefersRouteID(t *testing.T) {
	n := NewNormalizer(nil, zerolog.Nop(), telemetry.New())

	data, _ := json.Marshal(map[string]interface{}{
		"id": 42, "route_id": "DL100", "origin": "JFK", "destination": "LHR",
		"airline": "Delta", "price": 450.0,
	})
	record, err := n.Normalize(&domain.RawFeed{FeedType: "flight", Data: data})
	require.NoError(t, err)

	assert.Equal(t, "flight_DL100", record.DealID)
	// no base price: original falls back to price, discount stays zero
	assert.Equal(t, 450.0, record.OriginalPrice)
	assert.Zero(t, record.DiscountPercent)
	assert.Equal(t, defaultFlightInventory, record.AvailableInventory)
}

func TestNormalizeHotel(t *testing.T) {
	n := NewNormalizer(nil, zerolog.Nop(), telemetry.New())

	data, _ := json.Marshal(map[string]interface{}{
		"hotel_id": "H9", "name": "Grand Plaza", "city": "New York", "state": "NY",
		"price_per_night": 180.0, "original_price": 240.0, "available_rooms": 4,
		"rating": 4.6, "amenities": "Free WiFi, Pool , Breakfast",
		"pet_friendly": true, "refundable": true,
	})
	record, err := n.Normalize(&domain.RawFeed{FeedType: "hotel", Data: data})
	require.NoError(t, err)

	assert.Equal(t, "hotel_H9", record.DealID)
	assert.Equal(t, domain.DealTypeHotel, record.Type)
	assert.Equal(t, "Grand Plaza", record.Title)
	assert.Equal(t, "4.6 star hotel in New York", record.Description)
	assert.Equal(t, 4, record.AvailableInventory)
	assert.Equal(t, []string{"free wifi", "pool", "breakfast"}, record.Metadata.Amenities)
	assert.Contains(t, record.Tags, "pet-friendly")
	assert.Contains(t, record.Tags, "refundable")
}

func TestNormalizeRejectsBadInput(t *testing.T) {
	n := NewNormalizer(nil, zerolog.Nop(), telemetry.New())

	cases := []struct {
		name string
		feed domain.RawFeed
	}{
		{"unknown type", domain.RawFeed{FeedType: "cruise", Data: []byte(`{}`)}},
		{"missing id", domain.RawFeed{FeedType: "flight", Data: []byte(`{"price": 100}`)}},
		{"zero price", domain.RawFeed{FeedType: "flight", Data: []byte(`{"id":"F1","price":0}`)}},
		{"garbage payload", domain.RawFeed{FeedType: "hotel", Data: []byte(`[1,2]`)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := n.Normalize(&tc.feed)
			assert.Error(t, err)
		})
	}
}

func TestScoreDealEmission(t *testing.T) {
	// Scenario from the flight above: 20% discount (30 pts), 8 seats
	// (15 pts), price 200 in the <350 value tier (15 pts).
	history := memory.NewPriceHistoryRepo()
	s := NewScorer(nil, history, 0, 0, zerolog.Nop(), telemetry.New())

	record := &domain.DealRecord{
		DealID: "flight_F1", Type: domain.DealTypeFlight,
		Price: 200, OriginalPrice: 250, DiscountPercent: 20, AvailableInventory: 8,
	}
	require.NoError(t, s.Score(context.Background(), record))

	assert.Equal(t, 60.0, record.Score)
	assert.Equal(t, 200.0, record.Avg30dPrice, "no history falls back to price")
	assert.False(t, record.IsDeal)
}

func TestScoreValueAndRatingSeparation(t *testing.T) {
	// Two hotels at 10% off, rating 4.6: the cheaper one gets the full
	// value bonus and must lead by at least 15 points.
	history := memory.NewPriceHistoryRepo()
	s := NewScorer(nil, history, 0, 0, zerolog.Nop(), telemetry.New())
	ctx := context.Background()

	cheap := &domain.DealRecord{
		DealID: "hotel_A", Type: domain.DealTypeHotel,
		Price: 90, OriginalPrice: 100, DiscountPercent: 10, AvailableInventory: 50,
		Metadata: domain.Metadata{Rating: 4.6},
	}
	pricey := &domain.DealRecord{
		DealID: "hotel_B", Type: domain.DealTypeHotel,
		Price: 210, OriginalPrice: 233.33, DiscountPercent: 10, AvailableInventory: 50,
		Metadata: domain.Metadata{Rating: 4.6},
	}
	require.NoError(t, s.Score(ctx, cheap))
	require.NoError(t, s.Score(ctx, pricey))

	assert.GreaterOrEqual(t, cheap.Score-pricey.Score, 15.0)
}

func TestScoreDealFlagAgainstHistory(t *testing.T) {
	history := memory.NewPriceHistoryRepo()
	ctx := context.Background()
	for _, price := range []float64{290, 300, 310} {
		require.NoError(t, history.Append(ctx, &domain.PriceHistoryPoint{
			DealID: "flight_X", Price: price, RecordedAt: time.Now().Add(-24 * time.Hour),
		}))
	}

	s := NewScorer(nil, history, 0, 0, zerolog.Nop(), telemetry.New())
	record := &domain.DealRecord{
		DealID: "flight_X", Type: domain.DealTypeFlight,
		Price: 250, OriginalPrice: 250, AvailableInventory: 50,
	}
	require.NoError(t, s.Score(ctx, record))

	assert.Equal(t, 300.0, record.Avg30dPrice)
	assert.Zero(t, record.DiscountPercent)
	assert.True(t, record.IsDeal, "250 <= 0.85*300")
}

func TestScoreUrgencyTiers(t *testing.T) {
	s := NewScorer(nil, memory.NewPriceHistoryRepo(), 0, 0, zerolog.Nop(), telemetry.New())
	now := time.Now()
	s.now = func() time.Time { return now }

	cases := []struct {
		hours float64
		want  float64
	}{
		{12, 20}, {36, 15}, {60, 10}, {100, 0}, {-1, 0},
	}
	for _, tc := range cases {
		expires := now.Add(time.Duration(tc.hours * float64(time.Hour)))
		assert.Equal(t, tc.want, urgencyPoints(&expires, now), "expires in %vh", tc.hours)
	}
	assert.Zero(t, urgencyPoints(nil, now))
}

func TestScoreClampsAt100(t *testing.T) {
	expires := time.Now().Add(12 * time.Hour)
	s := NewScorer(nil, memory.NewPriceHistoryRepo(), 0, 0, zerolog.Nop(), telemetry.New())

	record := &domain.DealRecord{
		DealID: "hotel_MAX", Type: domain.DealTypeHotel,
		Price: 80, OriginalPrice: 160, DiscountPercent: 50, AvailableInventory: 2,
		ExpiresAt: &expires,
		Tags:      []string{"refundable", "pet-friendly", "near-transit"},
		Metadata: domain.Metadata{
			Rating:    4.8,
			Amenities: []string{"breakfast-included", "free-wifi", "airport-shuttle"},
		},
	}
	require.NoError(t, s.Score(context.Background(), record))
	assert.Equal(t, 100.0, record.Score)
}

func TestTagDiscountAndInventoryTiers(t *testing.T) {
	cases := []struct {
		name      string
		record    domain.DealRecord
		wantTags  []string
		notWant   []string
	}{
		{
			name:     "hot deal almost sold out",
			record:   domain.DealRecord{Type: domain.DealTypeFlight, Price: 70, OriginalPrice: 100, AvailableInventory: 2},
			wantTags: []string{"hot-deal", "almost-sold-out"},
		},
		{
			name:     "great value limited",
			record:   domain.DealRecord{Type: domain.DealTypeFlight, Price: 80, OriginalPrice: 100, AvailableInventory: 8},
			wantTags: []string{"great-value", "limited-availability"},
			notWant:  []string{"hot-deal", "almost-sold-out"},
		},
		{
			name:     "good deal",
			record:   domain.DealRecord{Type: domain.DealTypeFlight, Price: 85, OriginalPrice: 100, AvailableInventory: 50},
			wantTags: []string{"good-deal"},
		},
		{
			name:    "no discount",
			record:  domain.DealRecord{Type: domain.DealTypeFlight, Price: 100, OriginalPrice: 100, AvailableInventory: 50},
			notWant: []string{"hot-deal", "great-value", "good-deal"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			Tag(&tc.record, 0)
			for _, want := range tc.wantTags {
				assert.Contains(t, tc.record.Tags, want)
			}
			for _, not := range tc.notWant {
				assert.NotContains(t, tc.record.Tags, not)
			}
		})
	}
}

func TestTagFlightAttributes(t *testing.T) {
	record := domain.DealRecord{
		Type: domain.DealTypeFlight, Price: 500, OriginalPrice: 500, AvailableInventory: 50,
		Metadata: domain.Metadata{BaggageIncluded: true, CabinClass: "Business"},
	}
	Tag(&record, 0)
	assert.Contains(t, record.Tags, "baggage-included")
	assert.Contains(t, record.Tags, "premium-cabin")
	assert.NotContains(t, record.Tags, "non-refundable", "hotel-only tag on a flight")
}

func TestTagHotelAttributes(t *testing.T) {
	record := domain.DealRecord{
		Type: domain.DealTypeHotel, Price: 150, OriginalPrice: 150, AvailableInventory: 50,
		Tags: []string{"refundable", "pet-friendly"},
		Metadata: domain.Metadata{
			Rating:    4.7,
			Amenities: []string{"free wifi", "outdoor pool", "airport shuttle", "breakfast buffet"},
		},
	}
	Tag(&record, 0)

	assert.Contains(t, record.Tags, "luxury")
	assert.Contains(t, record.Tags, "refundable")
	assert.NotContains(t, record.Tags, "non-refundable")
	assert.Contains(t, record.Tags, "free-wifi")
	assert.Contains(t, record.Tags, "pool")
	assert.Contains(t, record.Tags, "airport-shuttle")
	assert.Contains(t, record.Tags, "breakfast-included")
}

func TestTagIsFixedPoint(t *testing.T) {
	record := domain.DealRecord{
		Type: domain.DealTypeHotel, Price: 70, OriginalPrice: 100, AvailableInventory: 2,
		Metadata: domain.Metadata{Rating: 4.2, Amenities: []string{"wifi"}},
	}
	Tag(&record, 0)
	first := append([]string(nil), record.Tags...)
	Tag(&record, 0)
	assert.Equal(t, first, record.Tags, "re-tagging must not change the set")
}

func TestPersisterEmitsNewDealThenPriceUpdate(t *testing.T) {
	ctx := context.Background()
	bus := stream.NewMemoryBus(stream.DefaultRetryPolicy())
	require.NoError(t, bus.Start(ctx))
	defer bus.Stop(ctx)
	require.NoError(t, bus.CreateTopic(ctx, stream.TopicConfig{Name: domain.TopicEvents}))

	history := memory.NewPriceHistoryRepo()
	deals := memory.NewDealRepo().WithHistory(history)
	p := NewPersister(bus, deals, zerolog.Nop(), telemetry.New())

	record := &domain.DealRecord{
		DealID: "flight_F1", Type: domain.DealTypeFlight, Title: "LAX to SFO - Delta",
		Price: 200, OriginalPrice: 250, AvailableInventory: 8, Score: 60,
		Tags: []string{"great-value", "limited-availability"},
	}
	require.NoError(t, p.Persist(ctx, record))

	// identical redelivery: no price change, no new event
	require.NoError(t, p.Persist(ctx, record))

	// price drop
	record.Price = 170
	require.NoError(t, p.Persist(ctx, record))

	events := bus.Messages(domain.TopicEvents)
	require.Len(t, events, 2)

	var first, second domain.DealEvent
	require.NoError(t, json.Unmarshal(events[0].Payload, &first))
	require.NoError(t, json.Unmarshal(events[1].Payload, &second))

	assert.Equal(t, domain.EventNewDeal, first.EventType)
	assert.Equal(t, "flight_F1", first.DealID)
	assert.Equal(t, domain.EventPriceUpdate, second.EventType)
	assert.Equal(t, 200.0, second.OldPrice)
	assert.Equal(t, 170.0, second.NewPrice)

	stored, err := deals.Get(ctx, "flight_F1")
	require.NoError(t, err)
	assert.Equal(t, 170.0, stored.Price)
	assert.True(t, stored.Active)

	points, err := history.ListSince(ctx, "flight_F1", time.Time{})
	require.NoError(t, err)
	assert.Len(t, points, 3, "every persist appends a history point")
}

func TestPersistCarriesAvailabilityIntoDeal(t *testing.T) {
	ctx := context.Background()
	bus := stream.NewMemoryBus(stream.DefaultRetryPolicy())
	require.NoError(t, bus.Start(ctx))
	defer bus.Stop(ctx)
	require.NoError(t, bus.CreateTopic(ctx, stream.TopicConfig{Name: domain.TopicEvents}))

	deals := memory.NewDealRepo().WithHistory(memory.NewPriceHistoryRepo())
	p := NewPersister(bus, deals, zerolog.Nop(), telemetry.New())

	record := &domain.DealRecord{
		DealID: "hotel_H9", Type: domain.DealTypeHotel, Title: "Grand Bay",
		Price: 160, OriginalPrice: 200, DiscountPercent: 20, AvailableInventory: 7,
	}
	require.NoError(t, p.Persist(ctx, record))

	stored, err := deals.Get(ctx, "hotel_H9")
	require.NoError(t, err)
	assert.Equal(t, 7, stored.Metadata.Inventory, "record availability lands on the stored row")
	assert.Equal(t, 20.0, stored.Metadata.SavingsPercent)
	assert.Equal(t, 40.0, stored.Metadata.Discount)
}

func TestPipelineEndToEnd(t *testing.T) {
	ctx := context.Background()
	bus := stream.NewMemoryBus(stream.DefaultRetryPolicy())
	require.NoError(t, bus.Start(ctx))
	defer bus.Stop(ctx)
	for _, topic := range []string{
		domain.TopicRawFeeds, domain.TopicNormalized, domain.TopicScored,
		domain.TopicTagged, domain.TopicEvents,
	} {
		require.NoError(t, bus.CreateTopic(ctx, stream.TopicConfig{Name: topic}))
	}

	history := memory.NewPriceHistoryRepo()
	deals := memory.NewDealRepo().WithHistory(history)
	metrics := telemetry.New()

	require.NoError(t, NewNormalizer(bus, zerolog.Nop(), metrics).Start(ctx))
	require.NoError(t, NewScorer(bus, history, 0, 0, zerolog.Nop(), metrics).Start(ctx))
	require.NoError(t, NewTagger(bus, 0, zerolog.Nop(), metrics).Start(ctx))
	require.NoError(t, NewPersister(bus, deals, zerolog.Nop(), metrics).Start(ctx))

	feed, _ := json.Marshal(domain.RawFeed{
		FeedType: "flight",
		Data: json.RawMessage(`{"id":"F1","origin":"LAX","destination":"SFO",
			"airline":"Delta","price":200,"base_price":250,"seats_left":8,
			"cabin_class":"economy"}`),
		Timestamp: time.Now(),
	})
	require.NoError(t, bus.Publish(ctx, domain.TopicRawFeeds, "flight_F1", feed))

	require.Eventually(t, func() bool {
		_, err := deals.Get(ctx, "flight_F1")
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	deal, err := deals.Get(ctx, "flight_F1")
	require.NoError(t, err)
	assert.InDelta(t, 20.0, deal.DiscountPercent, 0.001)
	assert.GreaterOrEqual(t, deal.Score, 30.0)
	assert.Contains(t, deal.Tags, "great-value")
	assert.Contains(t, deal.Tags, "limited-availability")

	require.Eventually(t, func() bool {
		return len(bus.Messages(domain.TopicEvents)) == 1
	}, 5*time.Second, 10*time.Millisecond)

	var event domain.DealEvent
	require.NoError(t, json.Unmarshal(bus.Messages(domain.TopicEvents)[0].Payload, &event))
	assert.Equal(t, domain.EventNewDeal, event.EventType)
}
