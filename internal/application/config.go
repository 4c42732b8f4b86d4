// Package application wires configuration and the service lifecycle.
package application

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration. Every field has an env key and a
// sensible default; an optional YAML file provides a base the environment
// overrides.
type Config struct {
	HTTPHost string `yaml:"http_host"`
	HTTPPort int    `yaml:"http_port"`

	StoreDSN    string `yaml:"store_dsn"`
	ListingsDSN string `yaml:"listings_dsn"`

	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`

	BusBackend         string   `yaml:"bus_backend"`
	KafkaBrokers       []string `yaml:"kafka_brokers"`
	KafkaConsumerGroup string   `yaml:"kafka_consumer_group"`

	LLMBaseURL     string  `yaml:"llm_base_url"`
	LLMModel       string  `yaml:"llm_model"`
	LLMTemperature float64 `yaml:"llm_temperature"`
	LLMMaxTokens   int     `yaml:"llm_max_tokens"`

	DealScoreMin           float64 `yaml:"deal_score_min"`
	DealPriceDropThreshold float64 `yaml:"deal_price_drop_threshold"`
	DealInventoryThreshold int     `yaml:"deal_inventory_threshold"`

	MaxBundleRecommendations int `yaml:"max_bundle_recommendations"`
	ExplanationMaxWords      int `yaml:"explanation_max_words"`
	WatchAlertMaxWords       int `yaml:"watch_alert_max_words"`

	WSHeartbeatInterval   time.Duration `yaml:"ws_heartbeat_interval"`
	FeedIngestionInterval time.Duration `yaml:"feed_ingestion_interval"`
	WatchCheckInterval    time.Duration `yaml:"watch_check_interval"`
	WatchRealertWindow    time.Duration `yaml:"watch_realert_window"`
	HotDealCheckInterval  time.Duration `yaml:"hotdeal_check_interval"`

	HotDealMinSavingsPct float64 `yaml:"hotdeal_min_savings_pct"`
	HotDealMinDiscount   float64 `yaml:"hotdeal_min_discount_usd"`

	RetentionDays int `yaml:"retention_days"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		HTTPHost:                 "0.0.0.0",
		HTTPPort:                 8080,
		RedisAddr:                "",
		BusBackend:               "memory",
		KafkaConsumerGroup:       "dealradar-consumers",
		LLMBaseURL:               "http://localhost:11434",
		LLMModel:                 "llama3.2",
		LLMTemperature:           0.7,
		LLMMaxTokens:             500,
		DealScoreMin:             0,
		DealPriceDropThreshold:   15,
		DealInventoryThreshold:   10,
		MaxBundleRecommendations: 3,
		ExplanationMaxWords:      25,
		WatchAlertMaxWords:       12,
		WSHeartbeatInterval:      30 * time.Second,
		FeedIngestionInterval:    300 * time.Second,
		WatchCheckInterval:       30 * time.Second,
		HotDealCheckInterval:     60 * time.Second,
		HotDealMinSavingsPct:     30,
		HotDealMinDiscount:       200,
		RetentionDays:            30,
	}
}

// Load builds the config: defaults, then the optional YAML file, then the
// environment. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if cfg.WatchRealertWindow <= 0 {
		cfg.WatchRealertWindow = cfg.WatchCheckInterval
	}
	return cfg, cfg.validate()
}

func (c *Config) applyEnv() {
	envString(&c.HTTPHost, "HTTP_HOST")
	envInt(&c.HTTPPort, "HTTP_PORT")
	envString(&c.StoreDSN, "STORE_DSN")
	envString(&c.ListingsDSN, "LISTINGS_DSN")
	envString(&c.RedisAddr, "REDIS_ADDR")
	envInt(&c.RedisDB, "REDIS_DB")
	envString(&c.BusBackend, "BUS_BACKEND")
	envList(&c.KafkaBrokers, "KAFKA_BROKERS")
	envString(&c.KafkaConsumerGroup, "KAFKA_CONSUMER_GROUP")
	envString(&c.LLMBaseURL, "LLM_BASE_URL")
	envString(&c.LLMModel, "LLM_MODEL")
	envFloat(&c.LLMTemperature, "LLM_TEMPERATURE")
	envInt(&c.LLMMaxTokens, "LLM_MAX_TOKENS")
	envFloat(&c.DealScoreMin, "DEAL_SCORE_MIN")
	envFloat(&c.DealPriceDropThreshold, "DEAL_PRICE_DROP_THRESHOLD")
	envInt(&c.DealInventoryThreshold, "DEAL_INVENTORY_THRESHOLD")
	envInt(&c.MaxBundleRecommendations, "MAX_BUNDLE_RECOMMENDATIONS")
	envInt(&c.ExplanationMaxWords, "EXPLANATION_MAX_WORDS")
	envInt(&c.WatchAlertMaxWords, "WATCH_ALERT_MAX_WORDS")
	envDuration(&c.WSHeartbeatInterval, "WS_HEARTBEAT_INTERVAL")
	envDuration(&c.FeedIngestionInterval, "FEED_INGESTION_INTERVAL")
	envDuration(&c.WatchCheckInterval, "WATCH_CHECK_INTERVAL")
	envDuration(&c.WatchRealertWindow, "WATCH_REALERT_WINDOW")
	envDuration(&c.HotDealCheckInterval, "HOTDEAL_CHECK_INTERVAL")
	envFloat(&c.HotDealMinSavingsPct, "HOTDEAL_MIN_SAVINGS_PCT")
	envFloat(&c.HotDealMinDiscount, "HOTDEAL_MIN_DISCOUNT_USD")
	envInt(&c.RetentionDays, "RETENTION_DAYS")
}

func (c *Config) validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http port %d", c.HTTPPort)
	}
	switch c.BusBackend {
	case "memory", "kafka":
	default:
		return fmt.Errorf("unknown bus backend %q", c.BusBackend)
	}
	if c.BusBackend == "kafka" && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("kafka backend requires KAFKA_BROKERS")
	}
	return nil
}

// ListenAddr is the host:port the HTTP server binds.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTPHost, c.HTTPPort)
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func envList(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}
