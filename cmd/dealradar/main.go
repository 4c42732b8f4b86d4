// Command dealradar runs the travel-deal intelligence service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dealradar/dealradar/internal/application"
	"github.com/dealradar/dealradar/internal/ingest"
	"github.com/dealradar/dealradar/internal/persistence/postgres"
	"github.com/dealradar/dealradar/internal/stream"
	"github.com/dealradar/dealradar/internal/telemetry"
)

var (
	configPath string
	logLevel   string
	logPretty  bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "dealradar",
		Short:         "Real-time travel-deal intelligence service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "optional YAML config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&logPretty, "log-pretty", false, "human-readable log output")

	root.AddCommand(newServeCmd(), newIngestCmd())
	return root
}

func buildLogger() zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var log zerolog.Logger
	if logPretty {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.Level(level).With().Timestamp().Logger()
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the full service: pipeline, monitors, and HTTP surface",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := buildLogger()
			cfg, err := application.Load(configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, err := application.New(ctx, cfg, log)
			if err != nil {
				return err
			}
			return svc.Run(ctx)
		},
	}
}

// newIngestCmd runs one listings scan and exits, for cron-driven setups
// where the ingester does not live inside the service process.
func newIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Run a single listings ingestion scan",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := buildLogger()
			cfg, err := application.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.ListingsDSN == "" {
				return fmt.Errorf("LISTINGS_DSN is required for ingestion")
			}
			if cfg.BusBackend != "kafka" {
				return fmt.Errorf("one-shot ingestion requires the kafka bus backend")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			bus, err := stream.NewKafkaBus(stream.KafkaConfig{
				Brokers:  cfg.KafkaBrokers,
				ClientID: cfg.KafkaConsumerGroup + "-ingest",
				Retry:    stream.DefaultRetryPolicy(),
			})
			if err != nil {
				return err
			}
			if err := bus.Start(ctx); err != nil {
				return err
			}
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = bus.Stop(stopCtx)
			}()

			db, err := postgres.Open(ctx, cfg.ListingsDSN)
			if err != nil {
				return fmt.Errorf("failed to connect to listings: %w", err)
			}
			defer db.Close()

			ing := ingest.NewIngester(
				ingest.NewListingsDB(db, 5*time.Second),
				bus, cfg.FeedIngestionInterval, log, telemetry.New())
			published, err := ing.Scan(ctx)
			if err != nil {
				return err
			}
			log.Info().Int("published", published).Msg("ingestion scan complete")
			return nil
		},
	}
}
