// Command gateway runs the hc-http-gw HTTP→WebSocket gateway: it parses
// configuration, connects lazily to a Conductor's administrative
// WebSocket, and serves the read-only zome-call HTTP surface until
// SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/holochain/hc-http-gw/internal/adminconn"
	"github.com/holochain/hc-http-gw/internal/api"
	"github.com/holochain/hc-http-gw/internal/buildinfo"
	"github.com/holochain/hc-http-gw/internal/conductor/wsconductor"
	"github.com/holochain/hc-http-gw/internal/config"
	"github.com/holochain/hc-http-gw/internal/logging"
	"github.com/holochain/hc-http-gw/internal/pipeline"
	"github.com/holochain/hc-http-gw/internal/pool"
	"github.com/holochain/hc-http-gw/internal/selector"
)

var (
	// Version, Commit, and BuildDate are overridden at link time via -ldflags.
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func init() {
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	var listenAddr string
	var jsonLogs bool
	flag.StringVar(&listenAddr, "listen", "127.0.0.1:8090", "HTTP listen address")
	flag.BoolVar(&jsonLogs, "json-logs", false, "emit structured JSON log lines instead of text")
	flag.Parse()

	logging.Setup(log.InfoLevel, jsonLogs)

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("failed to load .env file")
	}

	log.Infof("hc-http-gw version %s, commit %s, built at %s", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)

	cfg, adminAddr, err := loadConfiguration()
	if err != nil {
		log.WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}

	dialer := wsconductor.Dialer{}
	admin := adminconn.New(adminAddr, dialer, log.WithField("component", "adminconn"))
	p := pool.New(cfg, admin, dialer, log.WithField("component", "pool"))
	sel := selector.New(cfg, admin)
	pl := pipeline.New(cfg, sel, p)

	engine := api.NewEngine(pl)
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErrCh := make(chan error, 1)
	go func() {
		log.Infof("hc-http-gw listening on %s", listenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
			return
		}
		serveErrCh <- nil
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serveErrCh:
		if err != nil {
			log.WithError(err).Error("server failed")
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

// loadConfiguration builds a config.Configuration from HC_GW_* environment
// variables.
func loadConfiguration() (*config.Configuration, string, error) {
	adminURL := os.Getenv("HC_GW_ADMIN_WS_URL")
	adminAddr, err := resolveAdminAddr(adminURL)
	if err != nil {
		return nil, "", fmt.Errorf("resolving HC_GW_ADMIN_WS_URL: %w", err)
	}

	allowedFns := map[string]string{}
	const prefix = "HC_GW_ALLOWED_FNS_"
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		appID := strings.TrimPrefix(key, prefix)
		if appID != "" {
			allowedFns[appID] = value
		}
	}

	cfg, err := config.Parse(
		adminAddr,
		os.Getenv("HC_GW_PAYLOAD_LIMIT_BYTES"),
		os.Getenv("HC_GW_ALLOWED_APP_IDS"),
		allowedFns,
		os.Getenv("HC_GW_MAX_APP_CONNECTIONS"),
		os.Getenv("HC_GW_ZOME_CALL_TIMEOUT_MS"),
	)
	if err != nil {
		return nil, "", err
	}
	return cfg, adminAddr, nil
}

func resolveAdminAddr(rawURL string) (string, error) {
	if strings.TrimSpace(rawURL) == "" {
		return "", errors.New("must not be empty")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing host in %q", rawURL)
	}
	return u.Host, nil
}
