package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dealradar/dealradar/internal/domain"
	"github.com/dealradar/dealradar/internal/persistence"
	"github.com/dealradar/dealradar/internal/stream"
	"github.com/dealradar/dealradar/internal/telemetry"
)

const historyWindow = 30 * 24 * time.Hour

// scoredAmenities is the feature set the amenity bonus matches against.
var scoredAmenities = []string{
	"refundable", "free-cancellation", "pet-friendly", "near-transit",
	"breakfast-included", "free-wifi", "airport-shuttle", "non-stop",
}

// Scorer consumes normalized records, attaches the 30-day rolling average,
// computes the deal score, and republishes on scored. Records below the
// configured minimum score are dropped.
type Scorer struct {
	bus      stream.Bus
	history  persistence.PriceHistoryRepo
	minScore float64
	dropPct  float64
	log      zerolog.Logger
	metrics  *telemetry.Metrics
	now      func() time.Time
}

// NewScorer creates the scoring stage. minScore of 0 passes everything;
// dropPct is the percentage below the 30-day average that flags a deal
// (defaults to 15 when zero).
func NewScorer(bus stream.Bus, history persistence.PriceHistoryRepo, minScore, dropPct float64, log zerolog.Logger, metrics *telemetry.Metrics) *Scorer {
	if dropPct <= 0 {
		dropPct = 15
	}
	return &Scorer{
		bus:      bus,
		history:  history,
		minScore: minScore,
		dropPct:  dropPct,
		log:      log.With().Str("stage", "scorer").Logger(),
		metrics:  metrics,
		now:      time.Now,
	}
}

// Start registers the stage on its input topic.
func (s *Scorer) Start(ctx context.Context) error {
	return s.bus.Subscribe(ctx, domain.TopicNormalized, "scorer", s.handle)
}

func (s *Scorer) handle(ctx context.Context, msg *stream.Message) error {
	started := time.Now()
	defer func() {
		s.metrics.PipelineLatency.WithLabelValues("scorer").Observe(time.Since(started).Seconds())
	}()

	var record domain.DealRecord
	if err := json.Unmarshal(msg.Payload, &record); err != nil {
		s.log.Warn().Err(err).Msg("dropping malformed normalized record")
		s.metrics.PipelineDropped.WithLabelValues("scorer", "malformed").Inc()
		return nil
	}

	if err := s.Score(ctx, &record); err != nil {
		return err
	}
	if record.Score < s.minScore {
		s.metrics.PipelineDropped.WithLabelValues("scorer", "below_threshold").Inc()
		return nil
	}

	payload, err := json.Marshal(&record)
	if err != nil {
		return fmt.Errorf("failed to marshal scored record: %w", err)
	}
	if err := s.bus.Publish(ctx, domain.TopicScored, record.DealID, payload); err != nil {
		return fmt.Errorf("failed to publish scored record: %w", err)
	}
	s.metrics.PipelineProcessed.WithLabelValues("scorer").Inc()
	return nil
}

// Score fills Avg30dPrice, Score, and IsDeal in place. Deterministic given
// the record and its stored history.
func (s *Scorer) Score(ctx context.Context, record *domain.DealRecord) error {
	cutoff := s.now().Add(-historyWindow)
	avg, count, err := s.history.AverageSince(ctx, record.DealID, cutoff)
	if err != nil {
		return fmt.Errorf("failed to load price history for %s: %w", record.DealID, err)
	}
	if count == 0 {
		avg = record.Price
	}
	record.Avg30dPrice = avg
	record.Score = s.score(record)
	record.IsDeal = avg > 0 && record.Price <= (1-s.dropPct/100)*avg
	return nil
}

func (s *Scorer) score(r *domain.DealRecord) float64 {
	score := discountPoints(r.DiscountPercent) +
		scarcityPoints(r.AvailableInventory) +
		urgencyPoints(r.ExpiresAt, s.now()) +
		amenityPoints(r) +
		valuePoints(r)
	if score > 100 {
		return 100
	}
	return score
}

func discountPoints(pct float64) float64 {
	switch {
	case pct >= 30:
		return 40
	case pct >= 20:
		return 30
	case pct >= 15:
		return 20
	case pct >= 10:
		return 10
	default:
		return 0
	}
}

func scarcityPoints(inventory int) float64 {
	switch {
	case inventory <= 0:
		return 0
	case inventory <= 3:
		return 25
	case inventory <= 5:
		return 20
	case inventory <= 10:
		return 15
	case inventory <= 20:
		return 10
	default:
		return 0
	}
}

func urgencyPoints(expiresAt *time.Time, now time.Time) float64 {
	if expiresAt == nil || expiresAt.Before(now) {
		return 0
	}
	remaining := expiresAt.Sub(now)
	switch {
	case remaining <= 24*time.Hour:
		return 20
	case remaining <= 48*time.Hour:
		return 15
	case remaining <= 72*time.Hour:
		return 10
	default:
		return 0
	}
}

func amenityPoints(r *domain.DealRecord) float64 {
	features := make(map[string]bool, len(r.Tags)+len(r.Metadata.Amenities))
	for _, t := range r.Tags {
		features[strings.ToLower(t)] = true
	}
	for _, a := range r.Metadata.Amenities {
		features[strings.ToLower(strings.ReplaceAll(a, " ", "-"))] = true
	}
	var pts float64
	for _, want := range scoredAmenities {
		if features[want] {
			pts += 3
		}
	}
	if pts > 15 {
		return 15
	}
	return pts
}

func valuePoints(r *domain.DealRecord) float64 {
	switch r.Type {
	case domain.DealTypeHotel:
		var pts float64
		switch {
		case r.Price < 100:
			pts = 20
		case r.Price < 150:
			pts = 15
		case r.Price < 200:
			pts = 10
		case r.Price < 300:
			pts = 5
		}
		switch {
		case r.Metadata.Rating >= 4.5:
			pts += 10
		case r.Metadata.Rating >= 4.0:
			pts += 7
		case r.Metadata.Rating >= 3.5:
			pts += 5
		}
		return pts
	case domain.DealTypeFlight:
		switch {
		case r.Price < 200:
			return 20
		case r.Price < 350:
			return 15
		case r.Price < 500:
			return 10
		case r.Price < 700:
			return 5
		}
	}
	return 0
}
