package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dealradar/dealradar/internal/domain"
	"github.com/dealradar/dealradar/internal/stream"
	"github.com/dealradar/dealradar/internal/telemetry"
)

// amenityTags maps normalized amenity substrings to the tag they produce.
var amenityTags = map[string]string{
	"breakfast": "breakfast-included",
	"wifi":      "free-wifi",
	"pool":      "pool",
	"gym":       "fitness-center",
	"fitness":   "fitness-center",
	"parking":   "parking-available",
	"shuttle":   "airport-shuttle",
}

// Tagger consumes scored records, derives categorical tags, and republishes
// on tagged. Tagging is a pure function of the record.
type Tagger struct {
	bus          stream.Bus
	invThreshold int
	log          zerolog.Logger
	metrics      *telemetry.Metrics
}

// NewTagger creates the tagging stage. invThreshold is the inventory level
// at or below which a record is tagged limited-availability (defaults to 10
// when zero).
func NewTagger(bus stream.Bus, invThreshold int, log zerolog.Logger, metrics *telemetry.Metrics) *Tagger {
	if invThreshold <= 0 {
		invThreshold = 10
	}
	return &Tagger{
		bus:          bus,
		invThreshold: invThreshold,
		log:          log.With().Str("stage", "tagger").Logger(),
		metrics:      metrics,
	}
}

// Start registers the stage on its input topic.
func (t *Tagger) Start(ctx context.Context) error {
	return t.bus.Subscribe(ctx, domain.TopicScored, "tagger", t.handle)
}

func (t *Tagger) handle(ctx context.Context, msg *stream.Message) error {
	started := time.Now()
	defer func() {
		t.metrics.PipelineLatency.WithLabelValues("tagger").Observe(time.Since(started).Seconds())
	}()

	var record domain.DealRecord
	if err := json.Unmarshal(msg.Payload, &record); err != nil {
		t.log.Warn().Err(err).Msg("dropping malformed scored record")
		t.metrics.PipelineDropped.WithLabelValues("tagger", "malformed").Inc()
		return nil
	}

	Tag(&record, t.invThreshold)

	payload, err := json.Marshal(&record)
	if err != nil {
		return fmt.Errorf("failed to marshal tagged record: %w", err)
	}
	if err := t.bus.Publish(ctx, domain.TopicTagged, record.DealID, payload); err != nil {
		return fmt.Errorf("failed to publish tagged record: %w", err)
	}
	t.metrics.PipelineProcessed.WithLabelValues("tagger").Inc()
	return nil
}

// Tag derives the record's tag set and recomputes discount_percent in place.
// Existing tags (seeded by the normalizer) are preserved; duplicates collapse.
// invThreshold caps the limited-availability band (defaults to 10 when zero).
func Tag(r *domain.DealRecord, invThreshold int) {
	if invThreshold <= 0 {
		invThreshold = 10
	}
	r.DiscountPercent = domain.DiscountPercent(r.Price, r.OriginalPrice)

	set := make(map[string]bool, len(r.Tags)+8)
	for _, existing := range r.Tags {
		set[existing] = true
	}

	switch {
	case r.DiscountPercent >= 30:
		set["hot-deal"] = true
	case r.DiscountPercent >= 20:
		set["great-value"] = true
	case r.DiscountPercent >= 15:
		set["good-deal"] = true
	}

	switch {
	case r.AvailableInventory > 0 && r.AvailableInventory <= 3:
		set["almost-sold-out"] = true
	case r.AvailableInventory > 0 && r.AvailableInventory <= invThreshold:
		set["limited-availability"] = true
	}

	switch r.Type {
	case domain.DealTypeFlight:
		if r.Metadata.BaggageIncluded {
			set["baggage-included"] = true
		}
		cabin := strings.ToLower(r.Metadata.CabinClass)
		if strings.Contains(cabin, "business") || strings.Contains(cabin, "first") {
			set["premium-cabin"] = true
		}
	case domain.DealTypeHotel:
		switch {
		case r.Metadata.Rating >= 4.5:
			set["luxury"] = true
		case r.Metadata.Rating >= 4.0:
			set["upscale"] = true
		case r.Metadata.Rating >= 3.0:
			set["comfort"] = true
		}
		if set["refundable"] {
			delete(set, "non-refundable")
		} else {
			set["non-refundable"] = true
		}
		for _, amenity := range r.Metadata.Amenities {
			lowered := strings.ToLower(amenity)
			for needle, tag := range amenityTags {
				if strings.Contains(lowered, needle) {
					set[tag] = true
				}
			}
		}
	}

	tags := make([]string, 0, len(set))
	for tag := range set {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	r.Tags = tags
}
