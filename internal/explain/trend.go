// Package explain turns stored price history into trends, booking
// recommendations, and user-facing deal explanations, backed by a policy
// knowledge base for travel Q&A.
package explain

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/dealradar/dealradar/internal/domain"
	"github.com/dealradar/dealradar/internal/persistence"
)

// Trend labels.
const (
	TrendFalling  = "falling"
	TrendRising   = "rising"
	TrendStable   = "stable"
	TrendVolatile = "volatile"
	TrendUnknown  = "unknown"
)

// PriceTrend summarizes 60 days of price observations for one deal.
type PriceTrend struct {
	CurrentPrice   float64  `json:"current"`
	Avg7d          *float64 `json:"avg_7d,omitempty"`
	Avg30d         *float64 `json:"avg_30d,omitempty"`
	Avg60d         *float64 `json:"avg_60d,omitempty"`
	Min60d         *float64 `json:"min_60d,omitempty"`
	Max60d         *float64 `json:"max_60d,omitempty"`
	Trend          string   `json:"trend"`
	TrendPercent   float64  `json:"trend_percentage"`
	Recommendation string   `json:"recommendation"`
}

// PriceAnalyzer computes trends from the price-history repo.
type PriceAnalyzer struct {
	history persistence.PriceHistoryRepo
	now     func() time.Time
}

// NewPriceAnalyzer creates a trend analyzer.
func NewPriceAnalyzer(history persistence.PriceHistoryRepo) *PriceAnalyzer {
	return &PriceAnalyzer{history: history, now: time.Now}
}

// AnalyzeTrend classifies the deal's price movement. With no history the
// trend is unknown; the ±5% band against the 30-day average separates
// falling/rising from stable, and a stdev above 15% of the average marks
// the series volatile.
func (a *PriceAnalyzer) AnalyzeTrend(ctx context.Context, dealID string, currentPrice float64) (*PriceTrend, error) {
	now := a.now()
	points, err := a.history.ListSince(ctx, dealID, now.Add(-60*24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("failed to load price history for %s: %w", dealID, err)
	}
	if len(points) == 0 {
		return &PriceTrend{
			CurrentPrice:   currentPrice,
			Trend:          TrendUnknown,
			Recommendation: "New deal - no historical data available",
		}, nil
	}

	var prices7d, prices30d, prices60d []float64
	for _, p := range points {
		age := now.Sub(p.RecordedAt)
		prices60d = append(prices60d, p.Price)
		if age <= 30*24*time.Hour {
			prices30d = append(prices30d, p.Price)
		}
		if age <= 7*24*time.Hour {
			prices7d = append(prices7d, p.Price)
		}
	}

	trend := &PriceTrend{
		CurrentPrice: currentPrice,
		Avg7d:        meanOf(prices7d),
		Avg30d:       meanOf(prices30d),
		Avg60d:       meanOf(prices60d),
		Min60d:       minOf(prices60d),
		Max60d:       maxOf(prices60d),
		Trend:        TrendStable,
	}

	if trend.Avg7d != nil && trend.Avg30d != nil {
		avg30 := *trend.Avg30d
		trend.TrendPercent = (currentPrice - avg30) / avg30 * 100
		switch {
		case trend.TrendPercent < -5:
			trend.Trend = TrendFalling
		case trend.TrendPercent > 5:
			trend.Trend = TrendRising
		case len(prices30d) >= 10 && stdev(prices30d) > avg30*0.15:
			trend.Trend = TrendVolatile
		}
	}

	trend.Recommendation = recommend(currentPrice, trend)
	return trend, nil
}

// recommend places the current price in the 60-day range and phrases a
// booking suggestion.
func recommend(current float64, t *PriceTrend) string {
	if t.Avg30d == nil || t.Min60d == nil {
		return "Book now - new deal with limited history"
	}
	min60, max60 := *t.Min60d, 0.0
	if t.Max60d != nil {
		max60 = *t.Max60d
	}

	position := 0.5
	if max60 > min60 {
		position = (current - min60) / (max60 - min60)
	}

	switch {
	case current <= min60*1.05:
		return "Excellent price! Book now - lowest in 60 days"
	case position < 0.3 && t.Trend != TrendRising:
		return "Great price! Book soon - well below average"
	case position < 0.5 && t.Trend == TrendFalling:
		return "Good price and falling - consider waiting a few days"
	case position < 0.5:
		return "Fair price - below average"
	case position > 0.7 && t.Trend == TrendRising:
		return "Price rising - book now to avoid increases"
	case position > 0.8:
		return "High price - consider waiting for a better deal"
	default:
		return "Average price - monitor for better deals"
	}
}

// CompareDeals explains which of two deals is the better pick.
func (a *PriceAnalyzer) CompareDeals(ctx context.Context, deal1, deal2 *domain.Deal) (string, error) {
	trend1, err := a.AnalyzeTrend(ctx, deal1.DealID, deal1.Price)
	if err != nil {
		return "", err
	}
	trend2, err := a.AnalyzeTrend(ctx, deal2.DealID, deal2.Price)
	if err != nil {
		return "", err
	}

	var reasons []string
	switch {
	case deal1.Price < deal2.Price:
		savings := deal2.Price - deal1.Price
		reasons = append(reasons, fmt.Sprintf("$%.0f cheaper (%.0f%% less)", savings, savings/deal2.Price*100))
	case deal2.Price < deal1.Price:
		premium := deal1.Price - deal2.Price
		reasons = append(reasons, fmt.Sprintf("$%.0f more expensive (%.0f%% premium)", premium, premium/deal1.Price*100))
	}
	if deal1.Score != deal2.Score {
		reasons = append(reasons, fmt.Sprintf("deal scores %.0f vs %.0f", deal1.Score, deal2.Score))
	}
	if trend1.Trend == TrendFalling && trend2.Trend != TrendFalling {
		reasons = append(reasons, "price is falling (may drop further)")
	} else if trend1.Trend == TrendRising && trend2.Trend != TrendRising {
		reasons = append(reasons, "price is rising (book soon)")
	}

	winner := deal2.Title
	if deal1.Score > deal2.Score || (deal1.Score == deal2.Score && deal1.Price < deal2.Price) {
		winner = deal1.Title
	}
	if len(reasons) == 0 {
		return "Deals are comparable", nil
	}
	out := winner + " is better: " + reasons[0]
	for _, r := range reasons[1:] {
		out += ", " + r
	}
	return out, nil
}

func meanOf(xs []float64) *float64 {
	if len(xs) == 0 {
		return nil
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	m := sum / float64(len(xs))
	return &m
}

func minOf(xs []float64) *float64 {
	if len(xs) == 0 {
		return nil
	}
	m := xs[0]
	for _, x := range xs[1:] {
		if x < m {
			m = x
		}
	}
	return &m
}

func maxOf(xs []float64) *float64 {
	if len(xs) == 0 {
		return nil
	}
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return &m
}

// stdev is the sample standard deviation.
func stdev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mean := *meanOf(xs)
	var sum float64
	for _, x := range xs {
		d := x - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)-1))
}
