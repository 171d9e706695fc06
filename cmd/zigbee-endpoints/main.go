package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"zigbee-endpoints/internal/coordinator"
	"zigbee-endpoints/internal/discovery"
	"zigbee-endpoints/internal/handlers"
	"zigbee-endpoints/internal/ncp"
	"zigbee-endpoints/internal/store"
	"zigbee-endpoints/internal/web"
	"zigbee-endpoints/internal/zcl"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}
	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg, os.Stdout)
	slog.SetDefault(logger)
	logger.Info("zigbee-endpoints starting", "version", version)

	catalog := zcl.NewStandardCatalog(logger)
	deviceDB, err := coordinator.LoadDeviceDir(cfg.DevicesDir, catalog, logger)
	if err != nil {
		logger.Error("load device definitions", "err", err)
		os.Exit(1)
	}
	logger.Info("ZCL catalog initialized", "clusters", len(catalog.All()), "devices", deviceDB.Len())

	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	backend, err := createNCP(cfg, logger)
	if err != nil {
		logger.Error("create NCP backend", "err", err)
		os.Exit(1)
	}
	defer backend.Close()

	coord, err := coordinator.New(coordinator.Options{
		Backend:  backend,
		Store:    db,
		Catalog:  catalog,
		Registry: handlers.DefaultRegistry(),
		Probe:    discovery.New(nil, logger),
		DeviceDB: deviceDB,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("create coordinator", "err", err)
		os.Exit(1)
	}

	// No-op when built with the no_mqtt tag. Started before the coordinator
	// so restored devices are published as they come up.
	mqtt := initMQTT(coord, cfg, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = coord.Start(ctx)
	cancel()
	if err != nil {
		logger.Error("start coordinator", "err", err)
		mqtt.Stop()
		backend.Close()
		os.Exit(1)
	}

	// No-op when built with the no_automation tag.
	auto, autoWebOpts := initAutomation(coord, cfg, logger)

	webOpts := []web.ServerOption{web.WithVersion(version)}
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	webOpts = append(webOpts, autoWebOpts...)
	webServer := web.NewServer(coord, logger, webOpts...)

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	auto.Stop()
	mqtt.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()
	coord.Stop()

	logger.Info("goodbye")
}

func createNCP(cfg *Config, logger *slog.Logger) (ncp.NCP, error) {
	logger.Info("using remote radio bridge", "broker", cfg.NCP.Broker, "prefix", cfg.NCP.TopicPrefix)
	return ncp.NewRemoteNCP(ncp.RemoteConfig{
		Broker:         cfg.NCP.Broker,
		Username:       cfg.NCP.Username,
		Password:       cfg.NCP.Password,
		TopicPrefix:    cfg.NCP.TopicPrefix,
		RequestTimeout: cfg.NCP.RequestTimeout,
	}, logger.With("component", "ncp"))
}
