package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/lanternlabs/doorman/internal/alerts"
	"github.com/lanternlabs/doorman/internal/announce"
	"github.com/lanternlabs/doorman/internal/gateway"
	"github.com/lanternlabs/doorman/internal/invites"
	"github.com/lanternlabs/doorman/internal/logger"
	"github.com/lanternlabs/doorman/internal/panel"
	"github.com/lanternlabs/doorman/internal/store"
)

const defaultPanelAddr = "0.0.0.0:3100"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	addrFlag := flag.String("addr", defaultPanelAddr, "address to listen on for the admin API")
	metricsAddrFlag := flag.String("metrics-addr", "", "address to listen on for prometheus metrics (empty disables)")
	flag.Parse()

	_ = godotenv.Load()

	log := logger.New(*verboseFlag)

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	authToken := os.Getenv("PANEL_AUTH_TOKEN")
	if authToken == "" {
		return fmt.Errorf("PANEL_AUTH_TOKEN is required")
	}
	gatewayBaseURL := os.Getenv("PLATFORM_API_URL")
	if gatewayBaseURL == "" {
		return fmt.Errorf("PLATFORM_API_URL is required")
	}
	gatewayToken := os.Getenv("PLATFORM_BOT_TOKEN")
	if gatewayToken == "" {
		return fmt.Errorf("PLATFORM_BOT_TOKEN is required")
	}

	if *metricsAddrFlag != "" {
		go func() {
			listener, err := net.Listen("tcp", *metricsAddrFlag)
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

	pool, err := store.Connect(ctx, store.Config{URL: databaseURL, Logger: log})
	if err != nil {
		return err
	}
	defer pool.Close()
	inviteStore := store.NewInviteStore(pool)

	client, err := gateway.NewClient(gateway.Config{
		BaseURL: gatewayBaseURL,
		Token:   gatewayToken,
		Logger:  log,
	})
	if err != nil {
		return err
	}

	// Bonus adjustments re-evaluate reward tiers, so the panel carries
	// the same service the bot does.
	alerter := alerts.New(os.Getenv("SLACK_OPS_TOKEN"), os.Getenv("SLACK_OPS_CHANNEL"), log)
	service, err := invites.NewService(invites.ServiceConfig{
		Logger:    log,
		Directory: client,
		Identity:  client,
		Store:     inviteStore,
		Granter:   client,
		Announcer: announce.New(log, client),
		Alerter:   alerter,
	})
	if err != nil {
		return err
	}

	server, err := panel.NewServer(panel.Config{
		Addr:      *addrFlag,
		AuthToken: authToken,
		Logger:    log,
		Store:     inviteStore,
		Bonuses:   service,
	})
	if err != nil {
		return err
	}

	log.Info("admin panel running", "addr", *addrFlag)
	return server.Run(ctx)
}
