package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"escrow-engine-go/internal/common"
	"escrow-engine-go/internal/config"
	"escrow-engine-go/internal/sweep"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

func main() {
	once := flag.Bool("once", false, "Run a single sweep pass and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	sweeper := sweep.NewSweeper(services.DbService, services.Deposits, services.Notifier,
		services.Mirror, cfg.Sweep.BatchSize, cfg.Policy.FallbackWindow)

	if *once {
		result := sweeper.Run(ctx)
		zap.L().Info("Sweep pass finished",
			zap.Int("processed", result.Processed),
			zap.Int("confirmed", result.Confirmed),
			zap.Int("expired", result.Expired),
			zap.Int("late_paid", result.LatePaid),
			zap.Int("failed", result.Failed))
		return
	}

	metricsServer := startMetricsServer(cfg.Sweep.MetricsAddr)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Sweep.CronSpec, func() {
		sweeper.Run(ctx)
	}); err != nil {
		zap.L().Fatal("Invalid sweep cron spec",
			zap.String("spec", cfg.Sweep.CronSpec),
			zap.Error(err))
	}
	scheduler.Start()

	zap.L().Info("Sweeper started",
		zap.String("cron_spec", cfg.Sweep.CronSpec),
		zap.String("metrics_addr", cfg.Sweep.MetricsAddr))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	zap.L().Info("Shutdown signal received, stopping sweeper...")
	cancel()
	<-scheduler.Stop().Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		zap.L().Warn("Metrics server shutdown failed", zap.Error(err))
	}

	zap.L().Info("Sweeper stopped")
}

func startMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Error("Metrics server failed", zap.Error(err))
		}
	}()

	return server
}
