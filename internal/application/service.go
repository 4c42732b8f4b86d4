package application

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dealradar/dealradar/internal/cache"
	"github.com/dealradar/dealradar/internal/domain"
	"github.com/dealradar/dealradar/internal/explain"
	"github.com/dealradar/dealradar/internal/ingest"
	"github.com/dealradar/dealradar/internal/intent"
	httpapi "github.com/dealradar/dealradar/internal/interfaces/http"
	"github.com/dealradar/dealradar/internal/llm"
	"github.com/dealradar/dealradar/internal/monitor"
	"github.com/dealradar/dealradar/internal/persistence"
	"github.com/dealradar/dealradar/internal/persistence/memory"
	"github.com/dealradar/dealradar/internal/persistence/postgres"
	"github.com/dealradar/dealradar/internal/pipeline"
	"github.com/dealradar/dealradar/internal/planner"
	"github.com/dealradar/dealradar/internal/stream"
	"github.com/dealradar/dealradar/internal/telemetry"
	"github.com/dealradar/dealradar/internal/ws"
)

const cleanupInterval = time.Hour

// Service owns every component and their lifecycle.
type Service struct {
	cfg     Config
	log     zerolog.Logger
	metrics *telemetry.Metrics

	bus    stream.Bus
	store  *persistence.Store
	cache  cache.Cache
	hub    *ws.Hub
	server *httpapi.Server

	normalizer *pipeline.Normalizer
	scorer     *pipeline.Scorer
	tagger     *pipeline.Tagger
	persister  *pipeline.Persister

	watchMon *monitor.WatchMonitor
	hotMon   *monitor.HotDealMonitor
	fanout   *ws.EventFanout
	ingester *ingest.Ingester
}

// New wires the service from config. Backends degrade gracefully: without a
// store DSN the in-memory store serves, without a Redis address the
// in-process cache serves, and the default bus is in-process.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (*Service, error) {
	metrics := telemetry.New()

	bus, err := buildBus(cfg)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	c, err := buildCache(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	model := llm.NewHTTPClient(llm.Config{
		BaseURL:     cfg.LLMBaseURL,
		Model:       cfg.LLMModel,
		Temperature: cfg.LLMTemperature,
		MaxTokens:   cfg.LLMMaxTokens,
	}, log, metrics)

	analyzer := explain.NewPriceAnalyzer(store.PriceHistory)
	engine := explain.NewEngine(analyzer, model, c,
		cfg.ExplanationMaxWords, cfg.WatchAlertMaxWords, log, metrics)
	hub := ws.NewHub(cfg.WSHeartbeatInterval, log, metrics)

	s := &Service{
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		bus:     bus,
		store:   store,
		cache:   c,
		hub:     hub,

		normalizer: pipeline.NewNormalizer(bus, log, metrics),
		scorer: pipeline.NewScorer(bus, store.PriceHistory,
			cfg.DealScoreMin, cfg.DealPriceDropThreshold, log, metrics),
		tagger: pipeline.NewTagger(bus, cfg.DealInventoryThreshold, log, metrics),
		persister:  pipeline.NewPersister(bus, store.Deals, log, metrics),

		watchMon: monitor.NewWatchMonitor(store.Watches, store.Deals, hub, engine,
			cfg.WatchCheckInterval, cfg.WatchRealertWindow, log, metrics),
		hotMon: monitor.NewHotDealMonitor(store.Deals, store.Watches, hub,
			cfg.HotDealCheckInterval, cfg.HotDealMinSavingsPct, cfg.HotDealMinDiscount, log, metrics),
		fanout: ws.NewEventFanout(bus, hub, log),
	}

	if cfg.ListingsDSN != "" {
		listingsDB, err := postgres.Open(ctx, cfg.ListingsDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to listings: %w", err)
		}
		s.ingester = ingest.NewIngester(
			ingest.NewListingsDB(listingsDB, 5*time.Second),
			bus, cfg.FeedIngestionInterval, log, metrics)
	}

	s.server = httpapi.NewServer(cfg.ListenAddr(), httpapi.Deps{
		Store:   store,
		Cache:   c,
		Planner: planner.New(store.Deals, store.TripPlans, c, cfg.MaxBundleRecommendations, log, metrics),
		Parser:  intent.NewParser(model, store.Conversations, c, log, metrics),
		Engine:  engine,
		Policy:  explain.NewPolicyAnswerer(model, c),
		Hub:     hub,
		Bus:     bus,
		Log:     log,
		Metrics: metrics,
	})
	return s, nil
}

func buildBus(cfg Config) (stream.Bus, error) {
	switch cfg.BusBackend {
	case "kafka":
		return stream.NewKafkaBus(stream.KafkaConfig{
			Brokers:  cfg.KafkaBrokers,
			ClientID: cfg.KafkaConsumerGroup,
			Retry:    stream.DefaultRetryPolicy(),
		})
	default:
		return stream.NewMemoryBus(stream.DefaultRetryPolicy()), nil
	}
}

func buildStore(ctx context.Context, cfg Config, log zerolog.Logger) (*persistence.Store, error) {
	if cfg.StoreDSN == "" {
		log.Warn().Msg("no store DSN configured, using in-memory store")
		return memory.NewStore(), nil
	}
	db, err := postgres.Open(ctx, cfg.StoreDSN)
	if err != nil {
		return nil, err
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return nil, err
	}
	return postgres.NewStore(db), nil
}

func buildCache(ctx context.Context, cfg Config, log zerolog.Logger) (cache.Cache, error) {
	if cfg.RedisAddr == "" {
		log.Warn().Msg("no redis address configured, using in-process cache")
		return cache.NewMemoryCache(), nil
	}
	return cache.NewRedisCache(ctx, cfg.RedisAddr, "", cfg.RedisDB, log)
}

// Run starts everything and blocks until the context is canceled or a
// component fails fatally.
func (s *Service) Run(ctx context.Context) error {
	if err := s.bus.Start(ctx); err != nil {
		return fmt.Errorf("failed to start bus: %w", err)
	}
	for _, topic := range []string{
		domain.TopicRawFeeds, domain.TopicNormalized, domain.TopicScored,
		domain.TopicTagged, domain.TopicEvents,
	} {
		if err := s.bus.CreateTopic(ctx, stream.TopicConfig{Name: topic, Partitions: 4}); err != nil {
			return fmt.Errorf("failed to create topic %s: %w", topic, err)
		}
	}

	if err := s.normalizer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start normalizer: %w", err)
	}
	if err := s.scorer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scorer: %w", err)
	}
	if err := s.tagger.Start(ctx); err != nil {
		return fmt.Errorf("failed to start tagger: %w", err)
	}
	if err := s.persister.Start(ctx); err != nil {
		return fmt.Errorf("failed to start persister: %w", err)
	}
	if err := s.fanout.Start(ctx); err != nil {
		return fmt.Errorf("failed to start event fanout: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		s.hub.Run(groupCtx)
		return nil
	})
	group.Go(func() error {
		s.watchMon.Run(groupCtx)
		return nil
	})
	group.Go(func() error {
		s.hotMon.Run(groupCtx)
		return nil
	})
	if s.ingester != nil {
		group.Go(func() error {
			s.ingester.Run(groupCtx)
			return nil
		})
	}
	group.Go(func() error {
		s.retentionLoop(groupCtx)
		return nil
	})
	group.Go(s.server.Start)
	group.Go(func() error {
		<-groupCtx.Done()
		return s.shutdown()
	})

	s.log.Info().Str("addr", s.cfg.ListenAddr()).Str("bus", s.cfg.BusBackend).Msg("service started")
	return group.Wait()
}

// retentionLoop evicts trip plans and conversations past the retention
// window.
func (s *Service) retentionLoop(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().AddDate(0, 0, -s.cfg.RetentionDays)
			if n, err := s.store.TripPlans.DeleteOlderThan(ctx, cutoff); err != nil {
				s.log.Error().Err(err).Msg("trip plan cleanup failed")
			} else if n > 0 {
				s.log.Info().Int64("removed", n).Msg("expired trip plans removed")
			}
			if n, err := s.store.Conversations.DeleteOlderThan(ctx, cutoff); err != nil {
				s.log.Error().Err(err).Msg("conversation cleanup failed")
			} else if n > 0 {
				s.log.Info().Int64("removed", n).Msg("expired conversations removed")
			}
		}
	}
}

func (s *Service) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.log.Error().Err(err).Msg("http shutdown failed")
	}
	if err := s.bus.Stop(shutdownCtx); err != nil {
		s.log.Error().Err(err).Msg("bus stop failed")
	}
	if err := s.cache.Close(); err != nil {
		s.log.Error().Err(err).Msg("cache close failed")
	}
	s.log.Info().Msg("service stopped")
	return nil
}
