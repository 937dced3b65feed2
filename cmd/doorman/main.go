package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof" // Register pprof handlers
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/lanternlabs/doorman/internal/alerts"
	"github.com/lanternlabs/doorman/internal/announce"
	"github.com/lanternlabs/doorman/internal/bot"
	"github.com/lanternlabs/doorman/internal/gateway"
	"github.com/lanternlabs/doorman/internal/invites"
	"github.com/lanternlabs/doorman/internal/logger"
	"github.com/lanternlabs/doorman/internal/store"
)

const (
	defaultHTTPAddr    = "0.0.0.0:3000"
	defaultMetricsAddr = "0.0.0.0:0"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	enablePprofFlag := flag.Bool("enable-pprof", false, "enable pprof server")
	httpAddrFlag := flag.String("http-addr", defaultHTTPAddr, "address to listen on for platform webhook events")
	metricsAddrFlag := flag.String("metrics-addr", defaultMetricsAddr, "address to listen on for prometheus metrics")
	flag.Parse()

	// Local development convenience; missing .env is fine.
	_ = godotenv.Load()

	log := logger.New(*verboseFlag)

	cfg, err := bot.LoadFromEnv(*httpAddrFlag, *metricsAddrFlag, *verboseFlag, *enablePprofFlag)
	if err != nil {
		return err
	}

	if cfg.EnablePprof {
		go func() {
			log.Info("starting pprof server", "address", "localhost:6060")
			if err := http.ListenAndServe("localhost:6060", nil); err != nil {
				log.Error("failed to start pprof server", "error", err)
			}
		}()
	}

	if cfg.MetricsAddr != "" {
		go func() {
			listener, err := net.Listen("tcp", cfg.MetricsAddr)
			if err != nil {
				log.Error("failed to start prometheus metrics server listener", "error", err)
				return
			}
			log.Info("prometheus metrics server listening", "address", listener.Addr().String())
			http.Handle("/metrics", promhttp.Handler())
			if err := http.Serve(listener, nil); err != nil {
				log.Error("failed to start prometheus metrics server", "error", err)
			}
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pool, err := store.Connect(ctx, store.Config{URL: cfg.DatabaseURL, Logger: log})
	if err != nil {
		return err
	}
	defer pool.Close()
	inviteStore := store.NewInviteStore(pool)

	client, err := gateway.NewClient(gateway.Config{
		BaseURL: cfg.GatewayBaseURL,
		Token:   cfg.GatewayToken,
		Logger:  log,
	})
	if err != nil {
		return err
	}
	log.Info("platform gateway client initialized", "base_url", cfg.GatewayBaseURL)

	alerter := alerts.New(cfg.SlackOpsToken, cfg.SlackOpsChannel, log)
	announcer := announce.New(log, client)

	service, err := invites.NewService(invites.ServiceConfig{
		Logger:    log,
		Directory: client,
		Identity:  client,
		Store:     inviteStore,
		Granter:   client,
		Announcer: announcer,
		Alerter:   alerter,
	})
	if err != nil {
		return err
	}

	refresher, err := invites.NewRefresher(invites.RefresherConfig{
		Logger:    log,
		Store:     inviteStore,
		Snapshots: service.Snapshots(),
		Alerter:   alerter,
		Interval:  cfg.RefreshInterval,
	})
	if err != nil {
		return err
	}
	go func() {
		if err := refresher.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("snapshot refresher stopped", "error", err)
		}
	}()

	dispatcher := bot.NewDispatcher(log, service)
	dispatcher.Start(ctx)

	server := bot.NewServer(log, cfg.HTTPAddr, cfg.WebhookSecret, dispatcher)

	log.Info("doorman bot running", "http_addr", cfg.HTTPAddr)
	if err := server.Run(ctx); err != nil {
		return err
	}

	log.Info("shutdown complete")
	return nil
}
