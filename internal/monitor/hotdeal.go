package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dealradar/dealradar/internal/domain"
	"github.com/dealradar/dealradar/internal/persistence"
	"github.com/dealradar/dealradar/internal/telemetry"
	"github.com/dealradar/dealradar/internal/ws"
)

const (
	hotDealLookback  = time.Hour
	hotDealScanLimit = 100
	seenSetCap       = 1000
	trendingEvery    = 5
	trendingMinWatch = 3
)

// HotDealMonitor broadcasts exceptional new deals to every live session,
// and every fifth tick broadcasts deals with enough active watchers as
// trending.
type HotDealMonitor struct {
	deals         persistence.DealRepo
	watches       persistence.WatchRepo
	hub           Notifier
	interval      time.Duration
	minSavingsPct float64
	minDiscount   float64
	seen          *seenSet
	ticks         int
	log           zerolog.Logger
	metrics       *telemetry.Metrics
	now           func() time.Time
}

// NewHotDealMonitor wires the hot-deal scan.
func NewHotDealMonitor(
	deals persistence.DealRepo,
	watches persistence.WatchRepo,
	hub Notifier,
	interval time.Duration,
	minSavingsPct, minDiscount float64,
	log zerolog.Logger,
	metrics *telemetry.Metrics,
) *HotDealMonitor {
	return &HotDealMonitor{
		deals:         deals,
		watches:       watches,
		hub:           hub,
		interval:      interval,
		minSavingsPct: minSavingsPct,
		minDiscount:   minDiscount,
		seen:          newSeenSet(seenSetCap),
		log:           log.With().Str("component", "hotdeal_monitor").Logger(),
		metrics:       metrics,
		now:           time.Now,
	}
}

// Run drives the scan loop until the context ends.
func (m *HotDealMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Scan(ctx); err != nil {
				m.log.Error().Err(err).Msg("hot-deal scan failed")
			}
		}
	}
}

// Scan broadcasts hot deals created in the last hour. With no live sessions
// the scan is skipped entirely; nothing would receive it.
func (m *HotDealMonitor) Scan(ctx context.Context) error {
	m.ticks++
	if m.hub.SessionCount() == 0 {
		return nil
	}

	deals, err := m.deals.CreatedSince(ctx, m.now().Add(-hotDealLookback), hotDealScanLimit)
	if err != nil {
		return fmt.Errorf("failed to scan recent deals: %w", err)
	}

	for i := range deals {
		deal := &deals[i]
		if !m.isHot(deal) || !m.seen.add(deal.DealID) {
			continue
		}
		m.broadcast(deal, "hot_deal", hotReason(deal))
	}

	if m.ticks%trendingEvery == 0 {
		if err := m.scanTrending(ctx); err != nil {
			m.log.Error().Err(err).Msg("trending scan failed")
		}
	}
	return nil
}

func (m *HotDealMonitor) isHot(deal *domain.Deal) bool {
	savings := domain.DiscountPercent(deal.Price, deal.OriginalPrice)
	return savings > m.minSavingsPct || deal.OriginalPrice-deal.Price > m.minDiscount
}

func hotReason(deal *domain.Deal) string {
	savings := domain.DiscountPercent(deal.Price, deal.OriginalPrice)
	return fmt.Sprintf("%.0f%% off - save %s", savings,
		domain.FormatPrice(deal.OriginalPrice-deal.Price))
}

// scanTrending broadcasts deals that enough users are watching.
func (m *HotDealMonitor) scanTrending(ctx context.Context) error {
	counts, err := m.watches.CountActiveByDeal(ctx, trendingMinWatch)
	if err != nil {
		return fmt.Errorf("failed to count watchers: %w", err)
	}

	for dealID, watchers := range counts {
		if !m.seen.add("trending:" + dealID) {
			continue
		}
		deal, err := m.deals.Get(ctx, dealID)
		if err != nil {
			continue
		}
		m.broadcast(deal, "trending", fmt.Sprintf("%d people are watching this deal", watchers))
	}
	return nil
}

func (m *HotDealMonitor) broadcast(deal *domain.Deal, alertType, reason string) {
	delivered := m.hub.Broadcast(ws.Frame{
		Type: "deal_alert",
		Data: map[string]any{
			"alert_type": alertType,
			"deal":       deal,
			"reason":     reason,
		},
		Timestamp: m.now(),
	})
	m.metrics.HotDealsSent.Inc()
	m.log.Info().Str("deal_id", deal.DealID).Str("alert_type", alertType).
		Int("sessions", delivered).Msg("deal alert broadcast")
}

// seenSet is a bounded insertion-order set: when full, the oldest entry is
// evicted so long-running scans do not grow without bound.
type seenSet struct {
	mu    sync.Mutex
	cap   int
	set   map[string]bool
	order []string
}

func newSeenSet(cap int) *seenSet {
	return &seenSet{cap: cap, set: make(map[string]bool, cap)}
}

// add returns false when the key was already present.
func (s *seenSet) add(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set[key] {
		return false
	}
	if len(s.order) >= s.cap {
		delete(s.set, s.order[0])
		s.order = s.order[1:]
	}
	s.set[key] = true
	s.order = append(s.order, key)
	return true
}
