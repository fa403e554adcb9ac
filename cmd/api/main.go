package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/bootstrap"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/config"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/httpx"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/hub"
	kafkax "github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/kafka"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/lifecycle"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/logx"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/mirror"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/notify"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/orders"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/tracing"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logx.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("order api stopped", zap.Error(err))
	}
	logger.Info("order api stopped")
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(ctx, cfg.ServiceName, cfg.OTLPAddr, cfg.Env)
	if err != nil {
		return err
	}
	if tp != nil {
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := tp.Shutdown(sctx); err != nil {
				logger.Warn("tracer shutdown", zap.Error(err))
			}
		}()
	}

	backends, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backends.Close()

	pricing, err := orders.NewPricing(cfg.TaxRate)
	if err != nil {
		return err
	}

	var notifier notify.Dispatcher = notify.Log{Logger: logger.Named("notify")}
	if cfg.NotifyBackend == config.BackendKafka {
		producer := kafkax.NewProducer(cfg.KafkaBrokers(), cfg.NotifyTopic, cfg.ServiceName, logger.Named("kafka"))
		defer func() {
			if err := producer.Close(); err != nil {
				logger.Warn("close producer", zap.Error(err))
			}
		}()
		notifier = notify.NewKafka(producer, logger.Named("notify"))
	}

	syncer := mirror.NewSyncer(backends.Mirror, logger.Named("mirror"))
	opts := []lifecycle.Option{
		lifecycle.WithLogger(logger.Named("lifecycle")),
		lifecycle.WithPricing(pricing),
		lifecycle.WithNumberGenerator(orders.NewNumberGenerator(cfg.InstanceTag)),
	}
	if backends.Redis != nil {
		opts = append(opts, lifecycle.WithIdempotencyCache(lifecycle.NewRedisIdempotency(backends.Redis)))
	}
	manager := lifecycle.New(lifecycle.Deps{
		Store:    backends.Store,
		Ledger:   backends.Ledger,
		Syncer:   syncer,
		Notifier: notifier,
	}, opts...)

	h := hub.New(backends.Mirror, logger.Named("hub"))

	router := httpx.NewRouter(logger.Named("http"))
	(&httpx.OrdersHandler{
		Manager: manager,
		Hub:     h,
		Logger:  logger.Named("http"),
		Timeout: cfg.RequestTimeout,
	}).Register(router)
	srv := httpx.NewServer(cfg.HTTPAddr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.Run(gctx) })
	g.Go(func() error { return syncer.Run(gctx) })

	if brokers := cfg.KafkaBrokers(); len(brokers) > 0 && cfg.PaymentTopic != "" {
		consumer := kafkax.NewConsumer(brokers, cfg.PaymentGroup, cfg.PaymentTopic, cfg.ConsumerWorkers, logger.Named("payments"))
		payments := &lifecycle.PaymentEvents{
			Manager:  manager,
			Redis:    backends.Redis,
			Consumer: cfg.PaymentGroup,
			Logger:   logger.Named("payments"),
		}
		g.Go(func() error {
			logger.Info("payment consumer started",
				zap.String("topic", cfg.PaymentTopic),
				zap.String("group", cfg.PaymentGroup),
				zap.Int("workers", cfg.ConsumerWorkers))
			return consumer.Start(gctx, payments.Handle)
		})
	}

	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	err = g.Wait()

	manager.Wait()
	fctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if left := syncer.Flush(fctx); left > 0 {
		logger.Warn("mirror writes still pending at exit, run mirror-rebuild", zap.Int("pending", left))
	}
	return err
}
