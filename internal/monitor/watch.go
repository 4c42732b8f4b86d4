// Package monitor runs the background scan loops: price-watch alerts,
// hot-deal broadcasts, and the trending scan.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dealradar/dealradar/internal/domain"
	"github.com/dealradar/dealradar/internal/persistence"
	"github.com/dealradar/dealradar/internal/telemetry"
	"github.com/dealradar/dealradar/internal/ws"
)

// Notifier is the hub surface the monitors need.
type Notifier interface {
	SendToUser(userID string, frame ws.Frame) int
	Broadcast(frame ws.Frame, exclude ...string) int
	SessionCount() int
}

// AlertExplainer phrases a triggered price alert; nil disables explanations.
type AlertExplainer interface {
	ExplainPriceAlert(ctx context.Context, deal *domain.Deal, threshold float64) string
}

// WatchMonitor periodically checks active price watches against current
// deal state and alerts their owners.
type WatchMonitor struct {
	watches  persistence.WatchRepo
	deals    persistence.DealRepo
	hub      Notifier
	explain  AlertExplainer
	interval time.Duration
	// realertWindow throttles repeat alerts for the same watch.
	realertWindow time.Duration
	log           zerolog.Logger
	metrics       *telemetry.Metrics
	now           func() time.Time
}

// NewWatchMonitor wires a watch monitor. A zero realertWindow defaults to
// the scan interval.
func NewWatchMonitor(
	watches persistence.WatchRepo,
	deals persistence.DealRepo,
	hub Notifier,
	explain AlertExplainer,
	interval, realertWindow time.Duration,
	log zerolog.Logger,
	metrics *telemetry.Metrics,
) *WatchMonitor {
	if realertWindow <= 0 {
		realertWindow = interval
	}
	return &WatchMonitor{
		watches:       watches,
		deals:         deals,
		hub:           hub,
		explain:       explain,
		interval:      interval,
		realertWindow: realertWindow,
		log:           log.With().Str("component", "watch_monitor").Logger(),
		metrics:       metrics,
		now:           time.Now,
	}
}

// Run drives the scan loop until the context ends.
func (m *WatchMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Scan(ctx); err != nil {
				m.log.Error().Err(err).Msg("watch scan failed")
			}
		}
	}
}

// Scan walks every active watch once. Watches on vanished deals are
// deactivated; triggered watches alert their owner and record the
// notification time for throttling.
func (m *WatchMonitor) Scan(ctx context.Context) error {
	watches, err := m.watches.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active watches: %w", err)
	}
	m.metrics.WatchesScanned.Inc()

	now := m.now()
	for i := range watches {
		watch := &watches[i]
		deal, err := m.deals.Get(ctx, watch.DealID)
		if errors.Is(err, persistence.ErrNotFound) {
			m.log.Info().Str("watch_id", watch.WatchID).Str("deal_id", watch.DealID).
				Msg("deactivating watch on missing deal")
			if err := m.watches.Deactivate(ctx, watch.WatchID); err != nil {
				m.log.Error().Err(err).Str("watch_id", watch.WatchID).Msg("failed to deactivate watch")
			}
			continue
		}
		if err != nil {
			m.log.Error().Err(err).Str("watch_id", watch.WatchID).Msg("failed to load watched deal")
			continue
		}

		reasons := triggerReasons(watch, deal)
		if len(reasons) == 0 {
			continue
		}
		if watch.LastNotified != nil && now.Sub(*watch.LastNotified) < m.realertWindow {
			continue
		}

		m.alert(ctx, watch, deal, reasons, now)
	}
	return nil
}

// triggerReasons evaluates both thresholds; either alone can fire. A deal
// with non-positive inventory has no availability data, so the inventory
// threshold never fires on it.
func triggerReasons(watch *domain.PriceWatch, deal *domain.Deal) []string {
	var reasons []string
	if watch.PriceThreshold != nil && deal.Price < *watch.PriceThreshold {
		reasons = append(reasons, fmt.Sprintf("price %s below threshold %s",
			domain.FormatPrice(deal.Price), domain.FormatPrice(*watch.PriceThreshold)))
	}
	if watch.InventoryThreshold != nil && deal.Metadata.Inventory > 0 &&
		deal.Metadata.Inventory < *watch.InventoryThreshold {
		reasons = append(reasons, fmt.Sprintf("only %d left (threshold %d)",
			deal.Metadata.Inventory, *watch.InventoryThreshold))
	}
	return reasons
}

func (m *WatchMonitor) alert(ctx context.Context, watch *domain.PriceWatch, deal *domain.Deal, reasons []string, now time.Time) {
	data := map[string]any{
		"watch_id": watch.WatchID,
		"deal":     deal,
		"reasons":  reasons,
	}
	if m.explain != nil && watch.PriceThreshold != nil {
		data["message"] = m.explain.ExplainPriceAlert(ctx, deal, *watch.PriceThreshold)
	}

	delivered := m.hub.SendToUser(watch.UserID, ws.Frame{
		Type:      "price_alert",
		Data:      data,
		Timestamp: now,
	})
	m.metrics.AlertsSent.Inc()
	m.log.Info().Str("watch_id", watch.WatchID).Str("user_id", watch.UserID).
		Strs("reasons", reasons).Int("sessions", delivered).Msg("price alert sent")

	if err := m.watches.SetNotified(ctx, watch.WatchID, now); err != nil {
		m.log.Error().Err(err).Str("watch_id", watch.WatchID).Msg("failed to record notification time")
	}
}
