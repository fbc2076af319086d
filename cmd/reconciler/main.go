// Standalone reconciliation worker. Runs the maintenance passes and the
// outbox dispatcher without serving the public API, for deployments that
// scale the API and the background work independently.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"example.com/challenge/internal/config"
	"example.com/challenge/internal/domain"
	"example.com/challenge/internal/outbox"
	persistence "example.com/challenge/internal/persistence/postgres"
	"example.com/challenge/internal/scheduler"
)

func main() {
	cfg := config.Load()
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "challenge-reconciler").Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	activities := persistence.NewActivities(pool)
	certifications := persistence.NewCertifications(pool)
	challenges := persistence.NewChallenges(pool)

	producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
	defer producer.Close()

	dispatcher := outbox.NewDispatcher(pool, producer, logger.With().Str("component", "outbox").Logger(), cfg.OutboxPollInterval, cfg.OutboxBatchSize)
	go dispatcher.Start(ctx)

	reconciler := scheduler.New(challenges, activities, certifications, domain.DefaultRegistry(),
		cfg.ReconcileInterval, cfg.ReconcileBatchSize,
		scheduler.WithLogger(logger.With().Str("component", "reconciler").Logger()))
	go reconciler.Start(ctx)

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}
	go func() {
		logger.Info().Str("address", cfg.MetricsAddress).Msg("reconciler metrics listening")
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()

	logger.Info().Dur("interval", cfg.ReconcileInterval).Int("batch_size", cfg.ReconcileBatchSize).Msg("reconciler started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info().Msg("reconciler received shutdown signal")
	cancel()

	reconciler.Wait()
	dispatcher.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics server shutdown error")
	}
}
