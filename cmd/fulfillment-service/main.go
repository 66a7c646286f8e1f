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
	"github.com/restomesh/fulfillment/internal/pkg/telemetry"
	"github.com/restomesh/fulfillment/internal/readapi"
	"github.com/restomesh/fulfillment/internal/saga"
	sagasqlite "github.com/restomesh/fulfillment/internal/saga/sqlite"
)

func main() {
	telemetry.InitLogger("fulfillment-service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.SetupTracer(ctx, getEnv("OTEL_SERVICE_NAME", "fulfillment-service"))
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

	dbPath := getEnv("SAGA_DB_PATH", "fulfillment.db")
	store, err := sagasqlite.Open(dbPath)
	if err != nil {
		slog.Error("failed to open saga store", "path", dbPath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	brokers := []string{getEnv("KAFKA_BROKER", "localhost:9092")}
	pub := bus.NewKafkaPublisher(brokers)
	defer pub.Close()

	topics := saga.Topics{
		InventoryCommands: getEnv("INVENTORY_COMMANDS_TOPIC", "inventory-commands"),
		PaymentCommands:   getEnv("PAYMENT_COMMANDS_TOPIC", "payment-commands"),
	}
	paymentTimeout := getDurationEnv("PAYMENT_TIMEOUT", 2*time.Minute)

	orchestrator := saga.NewOrchestrator(store, pub, topics, paymentTimeout)
	defer orchestrator.Stop()

	// Timers do not survive a restart, so re-arm one per saga still
	// waiting on a payment before consuming anything new.
	if err := orchestrator.ResumeTimeouts(ctx); err != nil {
		slog.Error("failed to resume payment timeouts", "error", err)
		os.Exit(1)
	}

	eventsTopic := getEnv("ORDER_EVENTS_TOPIC", "order-events")
	consumer := bus.NewKafkaConsumer(bus.ConsumerConfig{
		Brokers: brokers,
		Topic:   eventsTopic,
		GroupID: getEnv("KAFKA_GROUP_ID", "fulfillment-service"),
	})
	defer consumer.Close()

	handler := bus.WithRetry(
		orchestrator.HandleMessage,
		pub,
		getEnv("DEAD_LETTER_TOPIC", eventsTopic+"-dlq"),
		bus.DefaultRetryPolicy,
	)
	runner := bus.NewRunner(consumer, handler, getIntEnv("CONSUMER_CONCURRENCY", 8))

	httpAddr := ":" + getEnv("PORT", "8080")
	httpServer := &http.Server{
		Addr:    httpAddr,
		Handler: readapi.NewRouter(readapi.NewHandler(store, nil)),
	}
	go func() {
		slog.Info("order status API running", "addr", httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			stop()
		}
	}()

	slog.Info("fulfillment service consuming", "topic", eventsTopic, "brokers", brokers)

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("consumer stopped", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
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
