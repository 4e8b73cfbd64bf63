// Command relay is a nearly transparent WebSocket tunnel between the
// telephony bridge and the voice backend (§4.6, module H).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/ghostengineai/glyphonic/internal/app"
	"github.com/ghostengineai/glyphonic/internal/config"
	"github.com/ghostengineai/glyphonic/internal/health"
	"github.com/ghostengineai/glyphonic/internal/observe"
	"github.com/ghostengineai/glyphonic/internal/relay"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "relay: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "relay: %v\n", err)
		}
		return 1
	}

	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	slog.Info("relay starting", "config", *configPath, "listen_addr", cfg.Server.ListenAddr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "relay"})
	if err != nil {
		slog.Error("failed to init telemetry", "err", err)
		return 1
	}
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to init metrics", "err", err)
		return 1
	}

	life := app.New()
	life.AddCloser("telemetry", func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return otelShutdown(shutdownCtx)
	})

	relayCfg := relay.Config{Metrics: metrics}

	var liveDial atomic.Pointer[relay.Dialer]
	initialDial := relay.DialBackend(cfg.Downstream.URL)
	liveDial.Store(&initialDial)

	var liveBackendAddr atomic.Pointer[string]
	initialAddr := backendAddr(cfg.Downstream.URL)
	liveBackendAddr.Store(&initialAddr)

	// watcher polls the config file and, on a change, redials the backend
	// URL — every subsequently accepted /tunnel connection uses the new
	// address without a restart. Tunnels already in flight keep the dialer
	// they started with.
	watcher, err := config.NewWatcher(*configPath, func(_, newCfg *config.Config) {
		newDial := relay.DialBackend(newCfg.Downstream.URL)
		liveDial.Store(&newDial)
		newAddr := backendAddr(newCfg.Downstream.URL)
		liveBackendAddr.Store(&newAddr)
		slog.Info("relay: reloaded backend dial target")
	})
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}
	life.AddCloser("config watcher", func() error {
		watcher.Stop()
		return nil
	})

	mux := http.NewServeMux()
	health.New(
		health.TCPDialChecker("backend", func() string { return *liveBackendAddr.Load() }, 3*time.Second),
	).Register(mux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/tunnel", func(w http.ResponseWriter, r *http.Request) {
		conn, err := relay.AcceptClientConn(w, r)
		if err != nil {
			slog.Error("failed to accept client connection", "err", err)
			return
		}
		sess := relay.NewSession(conn, *liveDial.Load(), relayCfg)
		if err := sess.Run(r.Context()); err != nil {
			slog.Info("relay session ended", "err", err)
		}
	})

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           otelhttp.NewHandler(observe.Middleware(metrics)(mux), "relay-server"),
		ReadHeaderTimeout: 10 * time.Second,
	}
	life.AddCloser("http server", func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	printStartupSummary(cfg)

	go func() {
		var err error
		if cfg.Server.TLS != nil {
			err = srv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "err", err)
		}
	}()

	slog.Info("relay ready — press Ctrl+C to shut down")
	<-ctx.Done()
	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := life.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	return 0
}

// backendAddr extracts the host:port a backend WebSocket URL dials, for use
// by a TCP readiness check independent of the WebSocket handshake.
func backendAddr(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	base := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(observe.NewRedactingHandler(base))
}

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          relay — startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	fmt.Printf("║  Backend URL     : %-19s ║\n", cfg.Downstream.URL)
	fmt.Println("╚═══════════════════════════════════════╝")
}
