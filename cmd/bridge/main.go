// Command bridge terminates carrier media WebSocket connections, opens a
// downstream relay or backend socket for each call, and shuttles audio
// between them (§4.5, module G).
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
	"github.com/ghostengineai/glyphonic/internal/bridge"
	"github.com/ghostengineai/glyphonic/internal/config"
	"github.com/ghostengineai/glyphonic/internal/health"
	"github.com/ghostengineai/glyphonic/internal/observe"
	"github.com/ghostengineai/glyphonic/pkg/protocol"
	"github.com/ghostengineai/glyphonic/pkg/vad"
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
			fmt.Fprintf(os.Stderr, "bridge: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "bridge: %v\n", err)
		}
		return 1
	}

	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	slog.Info("bridge starting", "config", *configPath, "listen_addr", cfg.Server.ListenAddr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "bridge"})
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

	sampleRates := health.NewSampleRates()
	newSessionConfig := func(c *config.Config) sessionConfig {
		return sessionConfig{
			bridge: bridge.Config{
				VAD: vad.Config{
					Threshold:       c.VAD.Threshold,
					CommitSilenceMs: c.VAD.CommitSilenceMs,
					MaxUtteranceMs:  c.VAD.MaxUtteranceMs,
					BargeIn:         c.VAD.BargeIn,
				},
				InputSampleRate:  c.Downstream.InputSampleRate,
				OutputSampleRate: c.Downstream.OutputSampleRate,
				OpenerText:       c.Bridge.OpenerText,
				Metrics:          metrics,
				SampleRates:      sampleRates,
			},
			dial:           bridge.DialDownstream(c.Downstream.URL),
			downstreamAddr: downstreamAddr(c.Downstream.URL),
		}
	}

	var live atomic.Pointer[sessionConfig]
	initial := newSessionConfig(cfg)
	live.Store(&initial)

	// watcher polls the config file and, on a change, rebuilds the VAD
	// tuning, opener text, and downstream dialer — every subsequently
	// accepted /media connection picks up the reload without a restart.
	// Calls already in flight keep the Config/Dialer they started with.
	watcher, err := config.NewWatcher(*configPath, func(_, newCfg *config.Config) {
		updated := newSessionConfig(newCfg)
		live.Store(&updated)
		slog.Info("bridge: reloaded VAD/downstream configuration")
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
		health.TCPDialChecker("downstream", func() string { return live.Load().downstreamAddr }, 3*time.Second),
	).WithSampleRates(sampleRates).Register(mux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("POST /voice", handleVoiceWebhook)
	mux.HandleFunc("/media", func(w http.ResponseWriter, r *http.Request) {
		sc := live.Load()
		handleMediaStream(w, r, sc.dial, sc.bridge)
	})

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           otelhttp.NewHandler(observe.Middleware(metrics)(mux), "bridge-server"),
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

	slog.Info("bridge ready — press Ctrl+C to shut down")
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

// handleVoiceWebhook returns the carrier's TwiML directive to connect the
// call to /media (§6.2).
func handleVoiceWebhook(w http.ResponseWriter, r *http.Request) {
	mediaURL := fmt.Sprintf("wss://%s/media", r.Host)
	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(protocol.TwiMLStreamResponse(mediaURL)))
}

// sessionConfig bundles the per-connection bridge.Config and downstream
// Dialer so both can be swapped atomically on a config reload.
type sessionConfig struct {
	bridge         bridge.Config
	dial           bridge.Dialer
	downstreamAddr string // host:port, for the readiness dial check
}

// downstreamAddr extracts the host:port a downstream WebSocket URL dials,
// for use by a TCP readiness check independent of the WebSocket handshake.
func downstreamAddr(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}

func handleMediaStream(w http.ResponseWriter, r *http.Request, dial bridge.Dialer, cfg bridge.Config) {
	conn, err := bridge.AcceptCarrierConn(w, r)
	if err != nil {
		slog.Error("failed to accept carrier connection", "err", err)
		return
	}
	sess := bridge.NewSession(conn, dial, cfg)
	if err := sess.Run(r.Context()); err != nil {
		slog.Info("bridge session ended", "err", err)
	}
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
	fmt.Println("║          bridge — startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	fmt.Printf("║  Downstream URL  : %-19s ║\n", cfg.Downstream.URL)
	fmt.Printf("║  Input rate      : %-19d ║\n", cfg.Downstream.InputSampleRate)
	fmt.Printf("║  Output rate     : %-19d ║\n", cfg.Downstream.OutputSampleRate)
	fmt.Printf("║  VAD threshold   : %-19.4f ║\n", cfg.VAD.Threshold)
	fmt.Printf("║  Barge-in        : %-19t ║\n", cfg.VAD.BargeIn)
	fmt.Println("╚═══════════════════════════════════════╝")
}
