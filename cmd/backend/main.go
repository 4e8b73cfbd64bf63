// Command backend runs the voice backend session (§4.7, module I): the
// turn state machine that invokes ASR/TTS subprocesses and the
// conversation core, and persists completed turns via an optional
// transcript sink.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/ghostengineai/glyphonic/internal/app"
	"github.com/ghostengineai/glyphonic/internal/backend"
	"github.com/ghostengineai/glyphonic/internal/backend/asrproc"
	"github.com/ghostengineai/glyphonic/internal/backend/conversation"
	"github.com/ghostengineai/glyphonic/internal/backend/ttsproc"
	"github.com/ghostengineai/glyphonic/internal/config"
	"github.com/ghostengineai/glyphonic/internal/health"
	"github.com/ghostengineai/glyphonic/internal/observe"
	"github.com/ghostengineai/glyphonic/internal/resilience"
	"github.com/ghostengineai/glyphonic/internal/transcript"
	"github.com/ghostengineai/glyphonic/internal/transcript/postgres"
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
			fmt.Fprintf(os.Stderr, "backend: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "backend: %v\n", err)
		}
		return 1
	}

	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	slog.Info("backend starting", "config", *configPath, "listen_addr", cfg.Server.ListenAddr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "backend"})
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

	asrRunner := asrproc.New(asrproc.Config{
		BinaryPath: cfg.Providers.ASR.BinaryPath,
		ModelPath:  cfg.Providers.ASR.ModelPath,
		ExtraArgs:  cfg.Providers.ASR.ExtraArgs,
		Timeout:    subprocessTimeout(cfg.Providers.ASR.TimeoutSeconds, 120),
	})
	ttsRunner := ttsproc.New(ttsproc.Config{
		BinaryPath: cfg.Providers.TTS.BinaryPath,
		ModelPath:  cfg.Providers.TTS.ModelPath,
		ConfigPath: cfg.Providers.TTS.ConfigPath,
		ExtraArgs:  cfg.Providers.TTS.ExtraArgs,
		Timeout:    subprocessTimeout(cfg.Providers.TTS.TimeoutSeconds, 120),
	})

	asrBreaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "asr"})
	ttsBreaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "tts"})

	sink, sinkChecker := buildTranscriptSink(ctx, cfg, life)
	sampleRates := health.NewSampleRates()

	var liveDeps atomic.Pointer[backend.Deps]
	liveDeps.Store(&backend.Deps{
		Provider:    conversation.NewReference(),
		ASR:         asrRunner,
		TTS:         ttsRunner,
		Sink:        sink,
		Metrics:     metrics,
		ASRBreaker:  asrBreaker,
		TTSBreaker:  ttsBreaker,
		SampleRates: sampleRates,
	})

	// watcher polls the config file and, on a change, rebuilds the ASR/TTS
	// runners from the new Providers section — every subsequently accepted
	// /session connection picks up the reloaded binary/model paths without
	// a restart. Sessions already in flight keep the runners they started
	// with (§4.7's "never let a turn outlive its subprocess" scoping).
	watcher, err := config.NewWatcher(*configPath, func(_, newCfg *config.Config) {
		reloaded := *liveDeps.Load()
		reloaded.ASR = asrproc.New(asrproc.Config{
			BinaryPath: newCfg.Providers.ASR.BinaryPath,
			ModelPath:  newCfg.Providers.ASR.ModelPath,
			ExtraArgs:  newCfg.Providers.ASR.ExtraArgs,
			Timeout:    subprocessTimeout(newCfg.Providers.ASR.TimeoutSeconds, 120),
		})
		reloaded.TTS = ttsproc.New(ttsproc.Config{
			BinaryPath: newCfg.Providers.TTS.BinaryPath,
			ModelPath:  newCfg.Providers.TTS.ModelPath,
			ConfigPath: newCfg.Providers.TTS.ConfigPath,
			ExtraArgs:  newCfg.Providers.TTS.ExtraArgs,
			Timeout:    subprocessTimeout(newCfg.Providers.TTS.TimeoutSeconds, 120),
		})
		liveDeps.Store(&reloaded)
		slog.Info("backend: reloaded ASR/TTS subprocess configuration")
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
	checkers := []health.Checker{
		health.BinaryChecker("asr_binary", func() string { return watcher.Current().Providers.ASR.BinaryPath }),
		health.BinaryChecker("tts_binary", func() string { return watcher.Current().Providers.TTS.BinaryPath }),
	}
	if cfg.Providers.ASR.ModelPath != "" {
		checkers = append(checkers, health.FileChecker("asr_model", func() string { return watcher.Current().Providers.ASR.ModelPath }))
	}
	if cfg.Providers.TTS.ModelPath != "" {
		checkers = append(checkers, health.FileChecker("tts_model", func() string { return watcher.Current().Providers.TTS.ModelPath }))
	}
	if cfg.Providers.TTS.ConfigPath != "" {
		checkers = append(checkers, health.FileChecker("tts_config", func() string { return watcher.Current().Providers.TTS.ConfigPath }))
	}
	if sinkChecker != nil {
		checkers = append(checkers, *sinkChecker)
	}
	health.New(checkers...).WithSampleRates(sampleRates).Register(mux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		conn, err := backend.AcceptConn(w, r)
		if err != nil {
			slog.Error("failed to accept connection", "err", err)
			return
		}
		sess := backend.NewSession(conn, *liveDeps.Load())
		if err := sess.Run(r.Context()); err != nil {
			slog.Info("backend session ended", "err", err)
		}
	})

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           otelhttp.NewHandler(observe.Middleware(metrics)(mux), "backend-server"),
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

	slog.Info("backend ready — press Ctrl+C to shut down")
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

// buildTranscriptSink returns transcript.Noop{} when persistence is
// disabled, or a connected postgres.Sink registered with life for
// graceful pool close, plus a readiness checker pinging the pool.
func buildTranscriptSink(ctx context.Context, cfg *config.Config, life *app.Lifecycle) (transcript.Sink, *health.Checker) {
	if !cfg.Transcript.Enabled {
		return transcript.Noop{}, nil
	}

	sink, err := postgres.New(ctx, cfg.Transcript.PostgresDSN)
	if err != nil {
		slog.Error("failed to connect transcript sink, falling back to noop", "err", err)
		return transcript.Noop{}, nil
	}
	life.AddCloser("transcript sink", func() error {
		sink.Close()
		return nil
	})
	checker := health.Checker{
		Name:  "transcript",
		Check: sink.Ping,
	}
	return sink, &checker
}

func subprocessTimeout(seconds, fallback int) time.Duration {
	if seconds <= 0 {
		seconds = fallback
	}
	return time.Duration(seconds) * time.Second
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
	fmt.Println("║          backend — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	fmt.Printf("║  ASR binary      : %-19s ║\n", cfg.Providers.ASR.BinaryPath)
	fmt.Printf("║  TTS binary      : %-19s ║\n", cfg.Providers.TTS.BinaryPath)
	fmt.Printf("║  Transcript sink : %-19t ║\n", cfg.Transcript.Enabled)
	fmt.Println("╚═══════════════════════════════════════╝")
}
