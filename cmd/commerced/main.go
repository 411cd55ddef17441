// commerced wires every bounded context and the checkout saga into one
// process. The transport is selected by configuration: the in-memory buses
// for a single-binary deployment, Kafka for a distributed one.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	cqrs "github.com/commercekit/eventflow"
	kafkabus "github.com/commercekit/eventflow/bus/kafka"
	membus "github.com/commercekit/eventflow/bus/memory"
	"github.com/commercekit/eventflow/cart"
	"github.com/commercekit/eventflow/checkout"
	"github.com/commercekit/eventflow/config"
	"github.com/commercekit/eventflow/inventory"
	"github.com/commercekit/eventflow/logging"
	"github.com/commercekit/eventflow/order"
	"github.com/commercekit/eventflow/otel"
	"github.com/commercekit/eventflow/product"
	memstore "github.com/commercekit/eventflow/store/memory"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.New()
	if err != nil {
		logger.Error("Failed to load config, using defaults", "error", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("commerced exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	cart.RegisterTypes()
	product.RegisterTypes()
	inventory.RegisterTypes()
	order.RegisterTypes()
	checkout.RegisterTypes()

	topology := cqrs.DefaultTopology()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		addr := ":" + cfg.Metrics.Port
		logger.Info("metrics listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	eventBus, commandBus, err := buses(cfg, topology)
	if err != nil {
		return err
	}
	defer eventBus.Close()
	defer commandBus.Close()

	go drainErrors(ctx, logger, "eventbus", eventBus.Errors())
	go drainErrors(ctx, logger, "commandbus", commandBus.Errors())

	snapshots := memstore.NewSnapshotStore()
	defer snapshots.Close()

	sagaStore, idempotency, err := checkoutStorage(cfg)
	if err != nil {
		return err
	}
	defer sagaStore.Close()
	defer idempotency.Close()

	inbox := memstore.NewInbox()
	defer inbox.Close()

	cartHandlers := cart.NewHandlers(cart.NewRepository(snapshots, eventBus), eventBus)
	productHandlers := product.NewHandlers(product.NewRepository(snapshots, eventBus), eventBus, product.NewMemorySKUIndex())
	inventoryHandlers := inventory.NewHandlers(inventory.NewRepository(snapshots, eventBus), eventBus)
	orderHandlers := order.NewHandlers(order.NewRepository(snapshots, eventBus), eventBus, idempotency)
	saga := checkout.NewSaga(sagaStore, commandBus, idempotency, topology, logger)

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	placeOrder := logging.WithCommandLogging(log.WithField("context", "checkout"),
		otel.WithCommandTelemetry(saga.HandlePlaceOrder))

	queues := map[string]cqrs.CommandProcessor{
		topology.CartCommands:           cartHandlers.CommandProcessor(),
		topology.ProductCatalogCommands: productHandlers.CommandProcessor(),
		topology.InventoryCommands:      inventoryHandlers.CommandProcessor(),
		topology.OrderCommands:          orderHandlers.CommandProcessor(),
		topology.CheckoutCommands:       cqrs.NewCommandGroupProcessor(cqrs.OnCommand(placeOrder)),
	}
	for queue, processor := range queues {
		if err := commandBus.Subscribe(ctx, queue, cqrs.WithIdempotency(inbox, queue, processor)); err != nil {
			return fmt.Errorf("subscribe %s: %w", queue, err)
		}
	}

	sagaHandler := logging.WithLoggingMiddleware(logger, otel.WithEventTelemetry(saga.EventProcessor()))
	if err := eventBus.Subscribe(ctx, "checkout-saga", sagaHandler); err != nil {
		return fmt.Errorf("subscribe checkout saga: %w", err)
	}

	logger.Info("commerced started",
		"app", cfg.App.Name,
		"version", cfg.App.Version,
		"transport", cfg.Transport.Kind,
	)

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func buses(cfg *config.Config, topology cqrs.Topology) (cqrs.EventBus, cqrs.CommandBus, error) {
	switch cfg.Transport.Kind {
	case "memory", "":
		return membus.NewEventBus(64), membus.NewCommandBus(64, 8), nil
	case "kafka":
		kcfg := kafkabus.Config{
			Brokers:         cfg.Kafka.Brokers,
			EventsTopic:     cfg.Kafka.EventsTopic,
			DeadLetterTopic: topology.DeadLetter,
			StartOffset:     cfg.Kafka.StartOffset,
		}
		return kafkabus.NewEventBus(kcfg), kafkabus.NewCommandBus(kcfg), nil
	default:
		return nil, nil, fmt.Errorf("unknown transport kind %q", cfg.Transport.Kind)
	}
}

func checkoutStorage(cfg *config.Config) (checkout.InstanceStore, order.IdempotencyIndex, error) {
	if cfg.Redis.Addr == "" {
		return checkout.NewMemoryInstanceStore(), order.NewMemoryIdempotencyIndex(), nil
	}

	retention := time.Duration(cfg.Checkout.RetentionHours) * time.Hour
	sagaClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	indexClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	return checkout.NewRedisInstanceStore(sagaClient, retention),
		order.NewRedisIdempotencyIndex(indexClient, retention), nil
}

func drainErrors(ctx context.Context, logger *slog.Logger, source string, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				return
			}
			logger.Error("async handling error", "source", source, "error", err)
		}
	}
}
