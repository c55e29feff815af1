package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lazydev-zone/lazydev/internal/config"
	"github.com/lazydev-zone/lazydev/internal/logging"
	"github.com/lazydev-zone/lazydev/internal/metrics"
	"github.com/lazydev-zone/lazydev/internal/proofd"
)

func main() {
	configPath := flag.String("config", config.DefaultConfigPath(), "Path to config file")
	listenAddr := flag.String("listen", "", "Listen address (overrides proofd.listen_addr)")
	trustProxy := flag.Bool("trust-proxy", false, "Trust X-Forwarded-For when rate limiting")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.Proofd.ListenAddr = *listenAddr
	}
	logging.Configure(os.Stdout, cfg.Log.Level, cfg.Log.Format)

	rec := metrics.New()
	pool, err := proofd.NewPoolManager(cfg.Proofd.AppIDs, cfg.Proofd.AppSecrets, rec)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v (set LAZYDEV_PROOFD_APP_IDS and LAZYDEV_PROOFD_APP_SECRETS)\n", err)
		os.Exit(1)
	}

	server := proofd.NewServer(proofd.Config{
		ListenAddr:   cfg.Proofd.ListenAddr,
		GitHubAPIURL: cfg.Proofd.GitHubAPIURL,
		RateLimit:    cfg.Proofd.RateLimit,
		Burst:        cfg.Proofd.Burst,
		Timeout:      cfg.Proofd.Timeout,
		TrustProxy:   *trustProxy,
	}, pool, proofd.NewHTTPAttestor(cfg.Proofd.AttestorURL, cfg.Proofd.Timeout), rec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if err := server.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting server: %v\n", err)
		os.Exit(1)
	}

	var metricsServer *http.Server
	if addr := cfg.Proofd.MetricsAddr; addr != "" && addr != cfg.Proofd.ListenAddr {
		metricsServer = &http.Server{
			Addr:              addr,
			Handler:           rec.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error("metrics server error", logging.Err(err), logging.Component("proofd"))
			}
		}()
	}

	logging.Info("proof gateway started",
		"listen_addr", server.Addr(),
		"metrics_addr", cfg.Proofd.MetricsAddr,
		"attestor", cfg.Proofd.AttestorURL,
		logging.Component("proofd"))

	<-sigCh
	logging.Info("Shutting down...", logging.Component("proofd"))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Error("Error during shutdown", logging.Err(err), logging.Component("proofd"))
	}
	if metricsServer != nil {
		metricsServer.Shutdown(shutdownCtx)
	}
	logging.Info("Shutdown complete", logging.Component("proofd"))
}
