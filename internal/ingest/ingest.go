// Package ingest feeds the pipeline: it periodically scans the supplier
// listings store and republishes every row onto the raw feed topic.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dealradar/dealradar/internal/domain"
	"github.com/dealradar/dealradar/internal/stream"
	"github.com/dealradar/dealradar/internal/telemetry"
)

const (
	scanLimit    = 100
	errorBackoff = 60 * time.Second
	// hotelMarkup synthesizes a list price for hotel rows without one.
	hotelMarkup = 1.2
)

// Source reads supplier listings. The production implementation queries the
// listings database; tests inject fixed slices.
type Source interface {
	Flights(ctx context.Context, limit int) ([]domain.FlightFeed, error)
	Hotels(ctx context.Context, limit int) ([]domain.HotelFeed, error)
}

// Ingester runs the periodic listings scan.
type Ingester struct {
	source   Source
	bus      stream.Bus
	interval time.Duration
	log      zerolog.Logger
	metrics  *telemetry.Metrics
	now      func() time.Time
}

// NewIngester wires a feed ingester.
func NewIngester(source Source, bus stream.Bus, interval time.Duration, log zerolog.Logger, metrics *telemetry.Metrics) *Ingester {
	return &Ingester{
		source:   source,
		bus:      bus,
		interval: interval,
		log:      log.With().Str("component", "ingester").Logger(),
		metrics:  metrics,
		now:      time.Now,
	}
}

// Run scans on the configured interval until the context ends. A failed
// scan backs off for a minute instead of hammering a broken source.
func (i *Ingester) Run(ctx context.Context) {
	for {
		wait := i.interval
		if _, err := i.Scan(ctx); err != nil {
			i.log.Error().Err(err).Dur("backoff", errorBackoff).Msg("ingestion scan failed")
			wait = errorBackoff
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// Scan publishes one batch of listings and returns how many rows went out.
func (i *Ingester) Scan(ctx context.Context) (int, error) {
	published := 0

	flights, err := i.source.Flights(ctx, scanLimit)
	if err != nil {
		return published, fmt.Errorf("failed to read flight listings: %w", err)
	}
	for f := range flights {
		flight := flights[f]
		key := flight.RouteID
		if key == "" {
			key = flight.ID.String()
		}
		if err := i.publish(ctx, "flight", key, flight); err != nil {
			return published, err
		}
		published++
	}

	hotels, err := i.source.Hotels(ctx, scanLimit)
	if err != nil {
		return published, fmt.Errorf("failed to read hotel listings: %w", err)
	}
	for h := range hotels {
		hotel := hotels[h]
		if hotel.OriginalPrice <= 0 {
			hotel.OriginalPrice = hotel.PricePerNight * hotelMarkup
		}
		key := hotel.HotelID.String()
		if key == "" {
			key = hotel.ID.String()
		}
		if err := i.publish(ctx, "hotel", key, hotel); err != nil {
			return published, err
		}
		published++
	}

	i.log.Debug().Int("published", published).Msg("ingestion scan complete")
	return published, nil
}

func (i *Ingester) publish(ctx context.Context, feedType, key string, listing any) error {
	data, err := json.Marshal(listing)
	if err != nil {
		return fmt.Errorf("failed to encode %s listing %s: %w", feedType, key, err)
	}
	feed := domain.RawFeed{
		FeedType:  feedType,
		Data:      data,
		Source:    "listings",
		Timestamp: i.now().UTC(),
	}
	payload, err := json.Marshal(feed)
	if err != nil {
		return fmt.Errorf("failed to encode raw feed for %s: %w", key, err)
	}
	if err := i.bus.Publish(ctx, domain.TopicRawFeeds, key, payload); err != nil {
		i.metrics.BusErrors.WithLabelValues(domain.TopicRawFeeds).Inc()
		return fmt.Errorf("failed to publish %s listing %s: %w", feedType, key, err)
	}
	i.metrics.BusPublished.WithLabelValues(domain.TopicRawFeeds).Inc()
	return nil
}
