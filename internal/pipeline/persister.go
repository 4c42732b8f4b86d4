package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dealradar/dealradar/internal/domain"
	"github.com/dealradar/dealradar/internal/persistence"
	"github.com/dealradar/dealradar/internal/stream"
	"github.com/dealradar/dealradar/internal/telemetry"
)

// Persister consumes tagged records, writes them to the store together with
// a price-history point, and emits new_deal / price_update events. The store
// write is one transaction; the event goes out only after commit, so an event
// never describes a write that did not land.
type Persister struct {
	bus     stream.Bus
	deals   persistence.DealRepo
	log     zerolog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

// NewPersister creates the persisting stage.
func NewPersister(bus stream.Bus, deals persistence.DealRepo, log zerolog.Logger, metrics *telemetry.Metrics) *Persister {
	return &Persister{
		bus:     bus,
		deals:   deals,
		log:     log.With().Str("stage", "persister").Logger(),
		metrics: metrics,
		now:     time.Now,
	}
}

// Start registers the stage on its input topic.
func (p *Persister) Start(ctx context.Context) error {
	return p.bus.Subscribe(ctx, domain.TopicTagged, "persister", p.handle)
}

func (p *Persister) handle(ctx context.Context, msg *stream.Message) error {
	started := time.Now()
	defer func() {
		p.metrics.PipelineLatency.WithLabelValues("persister").Observe(time.Since(started).Seconds())
	}()

	var record domain.DealRecord
	if err := json.Unmarshal(msg.Payload, &record); err != nil {
		p.log.Warn().Err(err).Msg("dropping malformed tagged record")
		p.metrics.PipelineDropped.WithLabelValues("persister", "malformed").Inc()
		return nil
	}
	return p.Persist(ctx, &record)
}

// Persist applies one tagged record. Errors propagate so the bus redelivers;
// the transactional upsert makes redelivery safe.
func (p *Persister) Persist(ctx context.Context, record *domain.DealRecord) error {
	deal := recordToDeal(record)
	inventory := record.AvailableInventory
	point := &domain.PriceHistoryPoint{
		DealID:             record.DealID,
		Price:              record.Price,
		AvailableInventory: &inventory,
		RecordedAt:         p.now().UTC(),
	}

	result, err := p.deals.UpsertWithHistory(ctx, deal, point)
	if err != nil {
		return fmt.Errorf("failed to persist %s: %w", record.DealID, err)
	}

	switch {
	case result.Created:
		p.metrics.DealsUpserted.WithLabelValues("insert").Inc()
		p.emit(ctx, &domain.DealEvent{
			EventType: domain.EventNewDeal,
			DealID:    record.DealID,
			NewPrice:  record.Price,
			Data:      record,
			Timestamp: p.now().UTC(),
		})
	case result.PriceChanged:
		p.metrics.DealsUpserted.WithLabelValues("update").Inc()
		p.emit(ctx, &domain.DealEvent{
			EventType: domain.EventPriceUpdate,
			DealID:    record.DealID,
			OldPrice:  result.OldPrice,
			NewPrice:  record.Price,
			Data:      record,
			Timestamp: p.now().UTC(),
		})
	default:
		p.metrics.DealsUpserted.WithLabelValues("update").Inc()
	}
	p.metrics.PipelineProcessed.WithLabelValues("persister").Inc()
	return nil
}

// emit publishes a deal event. The store write already committed, so a
// publish failure is logged rather than failing the handler; redelivery
// would double-write history for an event we may still have sent.
func (p *Persister) emit(ctx context.Context, event *domain.DealEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.log.Error().Err(err).Str("deal_id", event.DealID).Msg("failed to marshal deal event")
		return
	}
	if err := p.bus.Publish(ctx, domain.TopicEvents, event.DealID, payload); err != nil {
		p.log.Error().Err(err).Str("deal_id", event.DealID).Str("event_type", event.EventType).
			Msg("failed to publish deal event")
		p.metrics.BusErrors.WithLabelValues(domain.TopicEvents).Inc()
		return
	}
	p.metrics.EventsEmitted.WithLabelValues(event.EventType).Inc()
}

func recordToDeal(r *domain.DealRecord) *domain.Deal {
	meta := r.Metadata
	meta.Inventory = r.AvailableInventory
	meta.SavingsPercent = r.DiscountPercent
	if r.OriginalPrice > r.Price {
		meta.Discount = r.OriginalPrice - r.Price
	}
	return &domain.Deal{
		DealID:          r.DealID,
		Type:            r.Type,
		Title:           r.Title,
		Description:     r.Description,
		Price:           r.Price,
		OriginalPrice:   r.OriginalPrice,
		Avg30dPrice:     r.Avg30dPrice,
		DiscountPercent: r.DiscountPercent,
		Score:           r.Score,
		Tags:            r.Tags,
		Metadata:        meta,
		ExpiresAt:       r.ExpiresAt,
		Active:          true,
	}
}
