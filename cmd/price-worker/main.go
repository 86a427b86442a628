package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pms/internal/health"
	"github.com/vladislavdragonenkov/pms/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/pms/internal/service/product"
	"github.com/vladislavdragonenkov/pms/internal/storage/postgres"
	"github.com/vladislavdragonenkov/pms/internal/version"
)

const shutdownTimeout = 10 * time.Second

type config struct {
	postgresDSN   string
	kafkaBrokers  []string
	consumerGroup string
	httpAddr      string
	lockTimeout   time.Duration
	logLevel      string
}

func loadConfig() (config, error) {
	cfg := config{
		postgresDSN:   strings.TrimSpace(os.Getenv("PMS_POSTGRES_DSN")),
		consumerGroup: envOrDefault("PMS_CONSUMER_GROUP", "pms-price-worker"),
		httpAddr:      envOrDefault("PMS_HTTP_ADDR", ":8081"),
		lockTimeout:   5 * time.Second,
		logLevel:      envOrDefault("PMS_LOG_LEVEL", "info"),
	}

	if cfg.postgresDSN == "" {
		return cfg, errors.New("PMS_POSTGRES_DSN is required")
	}

	brokers := strings.TrimSpace(os.Getenv("PMS_KAFKA_BROKERS"))
	if brokers == "" {
		return cfg, errors.New("PMS_KAFKA_BROKERS is required")
	}
	for _, broker := range strings.Split(brokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			cfg.kafkaBrokers = append(cfg.kafkaBrokers, broker)
		}
	}

	if raw := strings.TrimSpace(os.Getenv("PMS_LOCK_TIMEOUT")); raw != "" {
		timeout, err := time.ParseDuration(raw)
		if err != nil {
			return cfg, fmt.Errorf("parse PMS_LOCK_TIMEOUT: %w", err)
		}
		if timeout <= 0 {
			return cfg, errors.New("PMS_LOCK_TIMEOUT must be > 0")
		}
		cfg.lockTimeout = timeout
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	log.SetFormatter(&log.JSONFormatter{})
	if level, err := log.ParseLevel(cfg.logLevel); err == nil {
		log.SetLevel(level)
	}
	logger := log.WithField("component", "price-worker")
	logger.WithField("version", version.String()).Info("starting price worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("price worker failed")
	}
	logger.Info("price worker stopped")
}

func run(ctx context.Context, cfg config, logger *log.Entry) error {
	store, err := postgres.OpenWithLockTimeout(ctx, cfg.postgresDSN, cfg.lockTimeout)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	producer, err := kafka.NewProducerWithClientID(cfg.kafkaBrokers, "pms-price-worker")
	if err != nil {
		return fmt.Errorf("create kafka producer: %w", err)
	}
	defer func() {
		if err := producer.Close(); err != nil {
			logger.WithError(err).Error("failed to close kafka producer")
		}
	}()

	products := postgres.NewProductRepository(store)
	bulk := product.NewBulkService(store, products, cfg.lockTimeout, producer, nil)

	handler := newCommandHandler(bulk, producer, logger)
	consumer, err := kafka.NewConsumerWithDLQ(
		cfg.kafkaBrokers, cfg.consumerGroup, []string{kafka.TopicPriceCommands},
		handler.handle, producer, 3,
	)
	if err != nil {
		return fmt.Errorf("create kafka consumer: %w", err)
	}
	if err := consumer.Start(ctx); err != nil {
		return fmt.Errorf("start kafka consumer: %w", err)
	}

	healthHandler := health.NewHandler(version.GetVersion())
	healthHandler.Register("postgres", func() error {
		checkCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return store.Ping(checkCtx)
	})

	mux := http.NewServeMux()
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", health.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              cfg.httpAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.httpAddr).Info("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	if err := consumer.Stop(); err != nil {
		logger.WithError(err).Error("failed to stop kafka consumer")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

// commandHandler применяет команды массового обновления цен из Kafka.
type commandHandler struct {
	bulk     *product.BulkService
	producer *kafka.Producer
	logger   *log.Entry
}

func newCommandHandler(bulk *product.BulkService, producer *kafka.Producer, logger *log.Entry) *commandHandler {
	return &commandHandler{bulk: bulk, producer: producer, logger: logger}
}

func (h *commandHandler) handle(ctx context.Context, message *sarama.ConsumerMessage) error {
	cmd, err := kafka.ParsePriceCommand(message)
	if err != nil {
		// Некорректная команда не станет корректной при retry.
		h.logger.WithError(err).Warn("dropping malformed price command")
		return nil
	}

	h.logger.WithFields(log.Fields{
		"request_id": cmd.RequestID,
		"new_price":  cmd.NewPurchasePrice.String(),
	}).Info("applying bulk price command")

	updated, err := h.bulk.UpdateAllPurchasePrices(ctx, cmd.NewPurchasePrice)
	if err != nil {
		return fmt.Errorf("bulk price command %s: %w", cmd.RequestID, err)
	}

	event := kafka.NewPriceEvent(kafka.EventTypeSweepCompleted, cmd.RequestID, cmd.NewPurchasePrice, map[string]interface{}{
		"rows_updated": updated,
	})
	if err := h.producer.PublishEvent(kafka.TopicPriceEvents, cmd.RequestID, event); err != nil {
		h.logger.WithError(err).Error("failed to publish sweep completed event")
	}
	return nil
}
