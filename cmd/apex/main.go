// Command apex is the entrypoint: load config, build the ingress server,
// and run it with graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/cregis/apex/internal/config"
	"github.com/cregis/apex/internal/ingress"
	"github.com/cregis/apex/internal/logging"
	"github.com/cregis/apex/internal/metrics"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/apex.json", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	validateOnly := flag.Bool("validate", false, "Validate configuration and exit")
	logLevel := flag.String("log-level", "", "Override the configured log level (debug, info, warn, error)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("Apex %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	if *validateOnly {
		if _, err := config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "configuration invalid: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("configuration is valid")
		os.Exit(0)
	}

	level := *logLevel
	if level == "" {
		level = "info"
	}
	log, err := logging.New(logging.Config{Level: level})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	store, err := config.NewStore(*configPath, log)
	if err != nil {
		log.Fatal("failed to load configuration", zap.String("path", *configPath), zap.Error(err))
	}
	cfg := store.Current()
	log.Info("configuration loaded",
		zap.String("path", *configPath),
		zap.Int("channels", len(cfg.Channels)),
		zap.Int("routers", len(cfg.Routers)),
		zap.Int("teams", len(cfg.Teams)),
	)

	m := metrics.New()
	server := ingress.New(store, m, log)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: server.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.ListenAddress))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatal("server error", zap.Error(err))
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	drain := time.Duration(cfg.HotReload.DrainTimeoutMs) * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), drain)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown did not complete in time", zap.Error(err))
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
