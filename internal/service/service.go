package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	redis "github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pricewatch/internal/config"
	"pricewatch/internal/dispatch"
	"pricewatch/internal/evaluator"
	"pricewatch/internal/lock"
	"pricewatch/internal/logger"
	"pricewatch/internal/middleware"
	"pricewatch/internal/notify"
	"pricewatch/internal/pricecache"
	"pricewatch/internal/quotes"
	"pricewatch/internal/store"
)

// Service wires the evaluator to its collaborators and runs the ops
// HTTP surface alongside it.
type Service struct {
	cfg        *config.Config
	redis      *redis.Client
	db         *sqlx.DB
	alerts     *store.Postgres
	publisher  *notify.KafkaPublisher
	pool       *dispatch.Pool
	eval       *evaluator.Evaluator
	httpServer *http.Server
	wg         sync.WaitGroup
}

// New constructs a Service with the given config.
func New(cfg *config.Config) *Service {
	return &Service{cfg: cfg}
}

// Run starts background goroutines and blocks until context cancelled.
func (s *Service) Run(ctx context.Context) error {
	log := logger.WithComponent("service")
	log.Info().Msg("service starting")

	if err := s.init(); err != nil {
		return err
	}

	s.pool.Start()
	s.initHTTPServer()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Info().Str("addr", s.cfg.HTTPAddr).Msg("starting HTTP server")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.reportStats(ctx)
	}()

	evalDone := make(chan struct{})
	go func() {
		defer close(evalDone)
		if err := s.eval.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("evaluator exited")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	// Let the in-flight pass observe cancellation and release the lock.
	select {
	case <-evalDone:
	case <-time.After(10 * time.Second):
		log.Warn().Msg("evaluator shutdown timeout")
	}

	return s.shutdown()
}

// RunOnce initializes dependencies, executes a single evaluation pass,
// and tears everything down. Used by the `once` command.
func (s *Service) RunOnce(ctx context.Context) error {
	log := logger.WithComponent("service")

	if err := s.init(); err != nil {
		return err
	}

	s.pool.Start()

	err := s.eval.RunOnce(ctx)
	if err != nil {
		log.Error().Err(err).Msg("evaluation pass failed")
	}

	if shutdownErr := s.shutdown(); shutdownErr != nil {
		log.Error().Err(shutdownErr).Msg("shutdown error")
	}
	return err
}

// init connects external collaborators and builds the evaluator.
func (s *Service) init() error {
	log := logger.WithComponent("service")

	s.redis = redis.NewClient(&redis.Options{
		Addr:     s.cfg.Redis.Addr,
		Password: s.cfg.Redis.Password,
		DB:       s.cfg.Redis.DB,
	})
	log.Info().Str("addr", s.cfg.Redis.Addr).Msg("redis client initialized")

	db, err := store.Open(s.cfg.Postgres.DSN, s.cfg.Postgres.MaxOpenConns)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	s.db = db
	s.alerts = store.NewPostgres(db, s.cfg.Evaluator.StoreTimeout.Std())
	log.Info().Msg("alert store initialized")

	publisher, err := notify.NewKafkaPublisher(
		s.cfg.Kafka.Brokers,
		s.cfg.Kafka.Topic,
		s.cfg.Kafka.Producer,
	)
	if err != nil {
		s.db.Close()
		s.redis.Close()
		return fmt.Errorf("failed to initialize publisher: %w", err)
	}
	s.publisher = publisher
	log.Info().
		Strs("brokers", s.cfg.Kafka.Brokers).
		Str("topic", s.cfg.Kafka.Topic).
		Msg("kafka publisher initialized")

	s.pool = dispatch.NewPool(dispatch.Config{
		Publisher:    s.publisher,
		Workers:      s.cfg.Dispatch.Workers,
		QueueSize:    s.cfg.Dispatch.QueueSize,
		BatchSize:    s.cfg.Dispatch.BatchSize,
		BatchTimeout: s.cfg.Dispatch.BatchTimeout.Std(),
	})

	s.eval = evaluator.New(
		evaluator.Config{
			Interval:       s.cfg.Evaluator.Interval.Std(),
			CooldownWindow: s.cfg.Evaluator.CooldownWindow.Std(),
			LockTTL:        s.cfg.Evaluator.LockTTL.Std(),
		},
		lock.NewRedisLock(s.redis),
		s.alerts,
		quotes.NewClient(s.cfg.Quotes.BaseURL, s.cfg.Evaluator.QuoteTimeout.Std()),
		pricecache.NewRedisPrices(s.redis, s.cfg.Evaluator.PriorPriceTTL.Std()),
		s.pool,
	)

	return nil
}

// initHTTPServer builds the ops mux: health, stats, prometheus.
func (s *Service) initHTTPServer() {
	mux := http.NewServeMux()

	mux.Handle("/health", middleware.Chain(
		http.HandlerFunc(s.healthHandler),
		middleware.Recovery,
		middleware.Logging,
	))
	mux.Handle("/stats", middleware.Chain(
		http.HandlerFunc(s.statsHandler),
		middleware.Recovery,
		middleware.Logging,
	))
	mux.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:         s.cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// shutdown performs graceful teardown in dependency order.
func (s *Service) shutdown() error {
	log := logger.WithComponent("service")
	log.Info().Msg("initiating graceful shutdown")

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}
	}

	// Drain queued triggers before closing the transport under them.
	done := make(chan struct{})
	go func() {
		s.pool.Stop()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("dispatch pool stopped gracefully")
	case <-time.After(15 * time.Second):
		log.Warn().Msg("dispatch shutdown timeout - forcing exit")
	}

	if err := s.publisher.Close(); err != nil {
		log.Error().Err(err).Msg("publisher close error")
	}

	if err := s.db.Close(); err != nil {
		log.Error().Err(err).Msg("postgres close error")
	}

	if err := s.redis.Close(); err != nil {
		log.Error().Err(err).Msg("redis close error")
	}

	s.wg.Wait()

	log.Info().Msg("service stopped gracefully")
	return nil
}

// reportStats periodically logs statistics
func (s *Service) reportStats(ctx context.Context) {
	log := logger.WithComponent("service")
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			poolStats := s.pool.Stats()
			pubStats := s.publisher.Stats()

			log.Info().
				Uint64("dispatch_published", poolStats.Published).
				Uint64("dispatch_failed", poolStats.Failed).
				Uint64("dispatch_dropped", poolStats.Dropped).
				Int("dispatch_queued", poolStats.Queued).
				Uint64("notify_sent", pubStats.EventsSent).
				Uint64("notify_failed", pubStats.EventsFailed).
				Msg("stats")
		}
	}
}

// healthHandler checks connectivity to redis, postgres, and kafka.
func (s *Service) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.redis.Ping(ctx).Err(); err != nil {
		http.Error(w, fmt.Sprintf("unhealthy: redis: %v", err), http.StatusServiceUnavailable)
		return
	}
	if err := s.alerts.Ping(ctx); err != nil {
		http.Error(w, fmt.Sprintf("unhealthy: postgres: %v", err), http.StatusServiceUnavailable)
		return
	}
	if err := s.publisher.HealthCheck(ctx); err != nil {
		http.Error(w, fmt.Sprintf("unhealthy: kafka: %v", err), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

// statsHandler returns current statistics
func (s *Service) statsHandler(w http.ResponseWriter, r *http.Request) {
	poolStats := s.pool.Stats()
	pubStats := s.publisher.Stats()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{
		"dispatch": {
			"published": %d,
			"failed": %d,
			"dropped": %d,
			"queued": %d
		},
		"notify": {
			"events_sent": %d,
			"events_failed": %d
		}
	}`,
		poolStats.Published,
		poolStats.Failed,
		poolStats.Dropped,
		poolStats.Queued,
		pubStats.EventsSent,
		pubStats.EventsFailed,
	)
}
