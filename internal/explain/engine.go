package explain

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dealradar/dealradar/internal/cache"
	"github.com/dealradar/dealradar/internal/domain"
	"github.com/dealradar/dealradar/internal/llm"
	"github.com/dealradar/dealradar/internal/telemetry"
)

// Engine builds user-facing explanations. The model polishes wording when
// available; every output has a deterministic template fallback.
type Engine struct {
	analyzer   *PriceAnalyzer
	model      llm.Client
	cache      cache.Cache
	maxWords   int
	alertWords int
	log        zerolog.Logger
	metrics    *telemetry.Metrics
}

// NewEngine creates the explanation engine. maxWords bounds deal
// explanations, alertWords bounds watch-alert phrasing; zero values default
// to 25 and 12.
func NewEngine(analyzer *PriceAnalyzer, model llm.Client, c cache.Cache, maxWords, alertWords int, log zerolog.Logger, metrics *telemetry.Metrics) *Engine {
	if maxWords <= 0 {
		maxWords = 25
	}
	if alertWords <= 0 {
		alertWords = 12
	}
	return &Engine{
		analyzer:   analyzer,
		model:      model,
		cache:      c,
		maxWords:   maxWords,
		alertWords: alertWords,
		log:        log.With().Str("component", "explain").Logger(),
		metrics:    metrics,
	}
}

// ExplainDeal produces a short explanation of why a deal is worth a look.
// Cached per deal and price so repeated views are free.
func (e *Engine) ExplainDeal(ctx context.Context, deal *domain.Deal) (string, error) {
	key := cache.Key("explanation", deal.DealID, fmt.Sprintf("%.2f", deal.Price))
	if cached, err := e.cache.Get(ctx, key); err == nil {
		e.metrics.CacheHits.WithLabelValues("explanation").Inc()
		return string(cached), nil
	}
	e.metrics.CacheMisses.WithLabelValues("explanation").Inc()

	trend, err := e.analyzer.AnalyzeTrend(ctx, deal.DealID, deal.Price)
	if err != nil {
		return "", err
	}

	explanation := e.modelExplanation(ctx, deal)
	if explanation == "" {
		explanation = templateExplanation(deal, trend)
	}

	if err := e.cache.Set(ctx, key, []byte(explanation), cache.TTLExplanation); err != nil {
		e.log.Warn().Err(err).Msg("failed to cache explanation")
	}
	return explanation, nil
}

func (e *Engine) modelExplanation(ctx context.Context, deal *domain.Deal) string {
	prompt := fmt.Sprintf(`Generate a concise explanation (max %d words) for why this deal is good.

Deal:
- Type: %s
- Price: $%.2f
- Original: $%.2f
- Discount: %.0f%%
- Tags: %s

Focus on: price value, key amenities. Be specific and compelling.`,
		e.maxWords, deal.Type, deal.Price, deal.OriginalPrice, deal.DiscountPercent,
		strings.Join(deal.Tags, ", "))

	out, err := e.model.Generate(ctx, prompt, llm.Options{Temperature: 0.7, MaxTokens: 100})
	if err != nil {
		e.log.Debug().Err(err).Str("deal_id", deal.DealID).Msg("model explanation unavailable")
		return ""
	}
	return out
}

// templateExplanation is the deterministic fallback: quality tier by score,
// savings, trend, recommendation, and type-specific highlights.
func templateExplanation(deal *domain.Deal, trend *PriceTrend) string {
	var parts []string

	switch {
	case deal.Score >= 90:
		parts = append(parts, "Exceptional Deal")
	case deal.Score >= 80:
		parts = append(parts, "Hot Deal")
	case deal.Score >= 70:
		parts = append(parts, "Good Deal")
	default:
		parts = append(parts, "Standard Offer")
	}

	if deal.DiscountPercent > 0 {
		parts = append(parts, fmt.Sprintf("Save $%.0f (%.0f%% off)",
			deal.OriginalPrice-deal.Price, deal.DiscountPercent))
	}
	if trend.Trend != TrendUnknown {
		parts = append(parts, explainTrend(trend))
	}
	parts = append(parts, trend.Recommendation)

	if highlight := typeHighlights(deal); highlight != "" {
		parts = append(parts, highlight)
	}
	return strings.Join(parts, " | ")
}

func explainTrend(t *PriceTrend) string {
	switch t.Trend {
	case TrendFalling:
		return fmt.Sprintf("Price falling (%.1f%% below recent average)", -t.TrendPercent)
	case TrendRising:
		return fmt.Sprintf("Price rising (%.1f%% above recent average)", t.TrendPercent)
	case TrendVolatile:
		return "Volatile pricing (book when low)"
	default:
		return "Stable pricing"
	}
}

func typeHighlights(deal *domain.Deal) string {
	var features []string
	switch deal.Type {
	case domain.DealTypeFlight:
		if deal.HasTag("baggage-included") {
			features = append(features, "Baggage included")
		}
		if deal.HasTag("premium-cabin") {
			features = append(features, deal.Metadata.CabinClass)
		}
	case domain.DealTypeHotel:
		if deal.Metadata.Rating >= 4.5 {
			features = append(features, fmt.Sprintf("%.1f-star excellent", deal.Metadata.Rating))
		} else if deal.Metadata.Rating >= 4.0 {
			features = append(features, fmt.Sprintf("%.1f-star very good", deal.Metadata.Rating))
		}
		if deal.HasTag("breakfast-included") {
			features = append(features, "Breakfast included")
		}
		if deal.HasTag("refundable") {
			features = append(features, "Free cancellation")
		}
	}
	return strings.Join(features, ", ")
}

// ExplainBundle summarizes a trip plan for presentation.
func ExplainBundle(plan *domain.TripPlan) string {
	var quality string
	switch {
	case plan.FitScore >= 90:
		quality = "Perfect match for your preferences"
	case plan.FitScore >= 80:
		quality = "Excellent match for your needs"
	case plan.FitScore >= 70:
		quality = "Good match for your budget"
	default:
		quality = "Available option within budget"
	}
	return fmt.Sprintf("%s | Total: $%.0f | Flight $%.0f | Hotel $%.0f/night",
		quality, plan.TotalCost, plan.Itinerary.Flight.Price, plan.Itinerary.Hotel.Price)
}

// ExplainPriceAlert phrases a watch-trigger notification. The model rewrites
// the headline when available; the template stands on its own when not.
func (e *Engine) ExplainPriceAlert(ctx context.Context, deal *domain.Deal, threshold float64) string {
	parts := []string{
		fmt.Sprintf("Price Alert! %s now %s ($%.0f below your $%.0f threshold)",
			deal.Title, domain.FormatPrice(deal.Price), threshold-deal.Price, threshold),
	}
	trend, err := e.analyzer.AnalyzeTrend(ctx, deal.DealID, deal.Price)
	if err == nil {
		if trend.Min60d != nil && deal.Price <= *trend.Min60d*1.05 {
			parts = append(parts, "Lowest price in 60 days!")
		}
		switch trend.Trend {
		case TrendFalling:
			parts = append(parts, "Price is falling - may drop more")
		case TrendRising:
			parts = append(parts, "Price rising - book now")
		}
	}
	message := strings.Join(parts, " | ")

	prompt := fmt.Sprintf("Rewrite this price alert as one urgent sentence (max %d words): %s",
		e.alertWords, message)
	if out, err := e.model.Generate(ctx, prompt, llm.Options{Temperature: 0.5, MaxTokens: 60}); err == nil && out != "" {
		return out
	}
	return message
}
