// mirror-rebuild copies canonical orders into the live mirror. Run it after
// a mirror outage or when the api exits with mirror writes still pending.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/bootstrap"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/config"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/logx"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/mirror"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/orders"
	"github.com/AmrNabih-hub/Souk-El-Syarat-sub003/internal/store"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	var (
		customer = flag.String("customer", "", "only orders of this customer")
		vendor   = flag.String("vendor", "", "only orders containing this vendor")
		status   = flag.String("status", "", "only orders in this status")
		since    = flag.Duration("since", 0, "only orders created within this window, e.g. 72h")
	)
	flag.Parse()
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

	f := store.Filter{CustomerID: *customer, VendorID: *vendor, Status: orders.Status(*status)}
	if f.Status != "" && !f.Status.IsValid() {
		logger.Fatal("unknown status", zap.String("status", *status))
	}
	if *since > 0 {
		f.From = time.Now().UTC().Add(-*since)
	}

	if err := run(cfg, logger, f); err != nil {
		logger.Error("rebuild failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *zap.Logger, f store.Filter) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backends.Close()

	start := time.Now()
	n, err := mirror.NewSyncer(backends.Mirror, logger.Named("mirror")).Rebuild(ctx, backends.Store, f)
	if err != nil {
		logger.Warn("rebuild stopped early", zap.Int("written", n))
		return err
	}
	logger.Info("rebuild done", zap.Int("written", n), zap.Duration("took", time.Since(start)))
	return nil
}
