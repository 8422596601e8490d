package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"cachekit-reliability/internal/monitoring"
	"cachekit-reliability/pkg/config"
	"cachekit-reliability/pkg/logger"
	"cachekit-reliability/pkg/metrics"
	"cachekit-reliability/pkg/reliability"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Println("cachekit-guard v1.0.0")
		return
	}

	manager := config.NewManager(*configPath)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := manager.Start(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	defer manager.Stop()

	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting cachekit-guard",
		zap.String("version", "1.0.0"),
		zap.String("config", *configPath))

	collector := metrics.NewComprehensiveCollector(
		cfg.Monitoring.Prometheus.Namespace,
		cfg.Monitoring.Prometheus.Subsystem)

	registry := reliability.NewRegistry(cfg.Defaults,
		reliability.WithRegistryLogger(log.Logger),
		reliability.WithRegistryCollector(collector))

	timeoutManager, err := reliability.NewAdaptiveTimeoutManager(cfg.TimeoutManager, "locks",
		reliability.WithManagerLogger(log.Logger),
		reliability.WithManagerCollector(collector))
	if err != nil {
		log.Error("failed to create timeout manager", zap.Error(err))
		os.Exit(1)
	}

	for _, guardCfg := range cfg.Guards {
		if _, err := registry.Register(guardCfg); err != nil {
			log.Error("failed to register guard",
				zap.String("namespace", guardCfg.Namespace),
				zap.Error(err))
			os.Exit(1)
		}
	}

	health := monitoring.NewHealthRegistry(0, log.Logger)
	health.Register("guards", func(ctx context.Context) error {
		if !registry.Healthy() {
			return fmt.Errorf("one or more guards are shedding load")
		}
		return nil
	})

	server := monitoring.NewServer(cfg.Server, cfg.Monitoring, log, health,
		func() map[string]interface{} {
			return map[string]interface{}{
				"guards":          registry.Stats(),
				"timeout_manager": timeoutManager.Stats(),
				"metrics":         collector.GetSummary(),
			}
		},
		monitoring.WithRequestMetrics(collector))
	if cfg.Monitoring.Enabled {
		if err := server.Start(ctx); err != nil {
			log.Error("failed to start monitoring server", zap.Error(err))
			os.Exit(1)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Info("received shutdown signal")
		cancel()
	}()

	log.Info("cachekit-guard started",
		zap.Strings("namespaces", registry.Namespaces()))

	<-ctx.Done()

	if cfg.Monitoring.Enabled {
		if err := server.Stop(context.Background()); err != nil {
			log.Warn("monitoring server stop failed", zap.Error(err))
		}
	}
	log.Info("cachekit-guard shutdown complete")
}
