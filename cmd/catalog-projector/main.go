package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/restomesh/fulfillment/internal/bus"
	"github.com/restomesh/fulfillment/internal/catalog"
	catalogsqlite "github.com/restomesh/fulfillment/internal/catalog/sqlite"
	"github.com/restomesh/fulfillment/internal/pkg/cache"
	"github.com/restomesh/fulfillment/internal/pkg/telemetry"
	"github.com/restomesh/fulfillment/internal/projector"
	"github.com/restomesh/fulfillment/internal/readapi"
	"github.com/restomesh/fulfillment/internal/tenant"
)

func main() {
	telemetry.InitLogger("catalog-projector")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.SetupTracer(ctx, getEnv("OTEL_SERVICE_NAME", "catalog-projector"))
	if err != nil {
		slog.Error("failed to initialise tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			slog.Error("tracer shutdown error", "error", err)
		}
	}()

	dbPath := getEnv("CATALOG_DB_PATH", "catalog.db")
	sqlStore, err := catalogsqlite.Open(dbPath)
	if err != nil {
		slog.Error("failed to open catalog store", "path", dbPath, "error", err)
		os.Exit(1)
	}
	defer sqlStore.Close()

	redisCache := cache.NewRedisCache(getEnv("REDIS_ADDR", "localhost:6379"), "catalog")
	store := catalog.NewCachedStore(sqlStore, redisCache, getDurationEnv("CACHE_TTL", 30*time.Second))

	brokers := []string{getEnv("KAFKA_BROKER", "localhost:9092")}
	pub := bus.NewKafkaPublisher(brokers)
	defer pub.Close()

	eventsTopic := getEnv("CATALOG_EVENTS_TOPIC", "catalog-events")
	deadLetterTopic := getEnv("DEAD_LETTER_TOPIC", eventsTopic+"-dlq")

	cfg := projector.Config{
		Partitions:     getIntEnv("PROJECTOR_PARTITIONS", 8),
		PrefetchFactor: getIntEnv("PROJECTOR_PREFETCH_FACTOR", 4),
		Scope:          scopeFromEnv(),
	}
	// Retries wrap the per-lane apply, not the dispatcher, so a retrying
	// event only stalls its own lane.
	proj := projector.New(store, cfg, func(next bus.Handler) bus.Handler {
		return bus.WithRetry(next, pub, deadLetterTopic, bus.DefaultRetryPolicy)
	})
	defer proj.Close()

	consumer := bus.NewKafkaConsumer(bus.ConsumerConfig{
		Brokers:  brokers,
		Topic:    eventsTopic,
		GroupID:  getEnv("KAFKA_GROUP_ID", "catalog-projector"),
		Prefetch: cfg.Partitions * cfg.PrefetchFactor,
	})
	defer consumer.Close()

	// Concurrency stays at 1: the projector needs a single dispatching
	// goroutine to keep same-item events in delivery order.
	runner := bus.NewRunner(consumer, proj.HandleMessage, 1)

	httpAddr := ":" + getEnv("PORT", "8081")
	httpServer := &http.Server{
		Addr:    httpAddr,
		Handler: readapi.NewRouter(readapi.NewHandler(nil, store)),
	}
	go func() {
		slog.Info("catalog API running", "addr", httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			stop()
		}
	}()

	slog.Info("catalog projector consuming",
		"topic", eventsTopic, "brokers", brokers, "partitions", cfg.Partitions)

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("consumer stopped", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
}

// scopeFromEnv reads an optional tenant pin. Both variables must be set
// together; a projector without a pin serves every tenant on its topic.
func scopeFromEnv() *tenant.Key {
	restaurantID := os.Getenv("SCOPE_RESTAURANT_ID")
	locationID := os.Getenv("SCOPE_LOCATION_ID")
	if restaurantID == "" && locationID == "" {
		return nil
	}
	key := tenant.Key{RestaurantID: restaurantID, LocationID: locationID}
	if !key.Valid() {
		slog.Error("scope requires both SCOPE_RESTAURANT_ID and SCOPE_LOCATION_ID")
		os.Exit(1)
	}
	return &key
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		slog.Warn("invalid integer env value, using fallback", "key", key, "value", value, "fallback", fallback)
	}
	return fallback
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		slog.Warn("invalid duration env value, using fallback", "key", key, "value", value, "fallback", fallback)
	}
	return fallback
}
