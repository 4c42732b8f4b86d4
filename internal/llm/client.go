// Package llm wraps the external text-model endpoint (an Ollama-compatible
// /api/generate API). All calls run behind a circuit breaker and a rate
// limiter; callers must always have a deterministic fallback, because the
// model being down is an expected condition, not an error path.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/dealradar/dealradar/internal/telemetry"
)

// ErrUnavailable is returned when the breaker is open or the limiter
// rejects the call. Callers switch to their fallback on it.
var ErrUnavailable = errors.New("text model unavailable")

// Options tune one generation call.
type Options struct {
	Temperature float64
	MaxTokens   int
}

// Client is the model caller interface; the HTTP client and test fakes
// implement it.
type Client interface {
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
}

// Config describes the model endpoint. Temperature and MaxTokens are the
// defaults applied when a call passes zero Options.
type Config struct {
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	RatePerSec  float64
	RateBurst   int
}

// HTTPClient talks to an Ollama-compatible server.
type HTTPClient struct {
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	http        *http.Client
	breaker     *gobreaker.CircuitBreaker
	limiter     *rate.Limiter
	log         zerolog.Logger
	metrics     *telemetry.Metrics
}

// NewHTTPClient builds the model client with breaker and limiter wired.
func NewHTTPClient(cfg Config, log zerolog.Logger, metrics *telemetry.Metrics) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	perSec := cfg.RatePerSec
	if perSec <= 0 {
		perSec = 5
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 10
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.7
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 500
	}
	logger := log.With().Str("component", "llm").Logger()
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "text-model",
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			logger.Warn().Str("from", from.String()).Str("to", to.String()).
				Msg("text model breaker state change")
		},
	})
	return &HTTPClient{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		http:        &http.Client{Timeout: timeout},
		breaker:     breaker,
		limiter:     rate.NewLimiter(rate.Limit(perSec), burst),
		log:         logger,
		metrics:     metrics,
	}
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Generate runs one completion. Breaker-open and rate-limit rejections
// surface as ErrUnavailable.
func (c *HTTPClient) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	if !c.limiter.Allow() {
		return "", fmt.Errorf("rate limited: %w", ErrUnavailable)
	}
	if opts.Temperature == 0 {
		opts.Temperature = c.temperature
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = c.maxTokens
	}

	started := time.Now()
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.call(ctx, prompt, opts)
	})
	c.metrics.ModelCallLatency.Observe(time.Since(started).Seconds())

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", fmt.Errorf("breaker open: %w", ErrUnavailable)
		}
		return "", err
	}
	return result.(string), nil
}

func (c *HTTPClient) call(ctx context.Context, prompt string, opts Options) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: false,
		Options: generateOptions{
			Temperature: opts.Temperature,
			NumPredict:  opts.MaxTokens,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("model call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("model returned status %d", resp.StatusCode)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode model response: %w", err)
	}
	return strings.TrimSpace(out.Response), nil
}

// ExtractJSON pulls the first JSON object out of a model response,
// stripping markdown code fences and any surrounding prose.
func ExtractJSON(s string) (string, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	first := strings.Index(s, "{")
	last := strings.LastIndex(s, "}")
	if first == -1 || last == -1 || last < first {
		return "", fmt.Errorf("no JSON object in model response")
	}
	return strings.TrimSpace(s[first : last+1]), nil
}
