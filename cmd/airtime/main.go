// Command airtime is the main entry point for the airtime speaking-time
// server.
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
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/spokelab/airtime/internal/config"
	"github.com/spokelab/airtime/internal/health"
	"github.com/spokelab/airtime/internal/observe"
	"github.com/spokelab/airtime/internal/resilience"
	"github.com/spokelab/airtime/internal/server"
	"github.com/spokelab/airtime/internal/session"
	"github.com/spokelab/airtime/pkg/diarization"
	"github.com/spokelab/airtime/pkg/diarization/pyannote"
)

// version is stamped by the build (-ldflags "-X main.version=...").
var version = "dev"

const (
	defaultListenAddr = ":8080"
	shutdownTimeout   = 15 * time.Second
	webhookPath       = "/api/webhook/diarization"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Environment ────────────────────────────────────────────────────────────
	// A .env file is optional; deployments usually set the environment directly.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "airtime: load .env: %v\n", err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "airtime: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "airtime: %v\n", err)
		}
		return 1
	}

	// The environment wins over the file so API keys stay out of configs.
	if key := os.Getenv("PYANNOTE_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so the config watcher can adjust it while
	// a meeting is running.
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	listenAddr := cfg.Server.ListenAddr
	if listenAddr == "" {
		listenAddr = defaultListenAddr
	}

	slog.Info("airtime starting",
		"version", version,
		"config", *configPath,
		"listen_addr", listenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	if cfg.Provider.APIKey == "" {
		slog.Error("no API key configured — set PYANNOTE_API_KEY or provider.api_key in the config")
		return 1
	}

	// ── Observability ─────────────────────────────────────────────────────────
	shutdownObserve, err := observe.Init(observe.Config{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Diarization provider ──────────────────────────────────────────────────
	provider, err := buildProvider(cfg)
	if err != nil {
		slog.Error("failed to build diarization provider", "err", err)
		return 1
	}

	// ── Session ───────────────────────────────────────────────────────────────
	breaker := resilience.NewBreaker(resilience.BreakerConfig{Name: providerName(cfg)})

	// The broadcast indirection breaks the construction cycle: the session
	// needs the update callback before the server that owns the stream hub
	// exists. Assigned below, before any request can fire an update.
	var broadcast func()
	sess, err := session.New(session.Config{
		Provider:       provider,
		ProviderName:   providerName(cfg),
		MaxBufferBytes: cfg.Session.MaxBufferBytes,
		Breaker:        breaker,
		OnUpdate: func() {
			if broadcast != nil {
				broadcast()
			}
		},
	})
	if err != nil {
		slog.Error("failed to initialise session", "err", err)
		return 1
	}
	defer sess.Close()

	// ── HTTP server ───────────────────────────────────────────────────────────
	// The breaker state is the readiness signal for the provider: open means
	// recent diarization calls have been failing.
	readiness := health.New(
		health.Checker{Name: "provider", Check: func(_ context.Context) error {
			if breaker.State() == resilience.StateOpen {
				return resilience.ErrBreakerOpen
			}
			return nil
		}},
	)

	srv, err := server.New(server.Config{
		Session:  sess,
		Provider: provider,
		Health:   readiness,
	})
	if err != nil {
		slog.Error("failed to initialise server", "err", err)
		return 1
	}
	broadcast = srv.Broadcast

	// ── Config watcher ────────────────────────────────────────────────────────
	// Only the log level is hot-applied; everything else logs what a restart
	// would pick up.
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level updated", "level", d.NewLogLevel)
		}
		if len(d.RestartRequired) > 0 {
			slog.Warn("config changes require a restart", "settings", strings.Join(d.RestartRequired, ", "))
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printStartupSummary(cfg, listenAddr)

	httpSrv := &http.Server{
		Addr:              listenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server ready — press Ctrl+C to shut down")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping…")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := shutdownObserve(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// providerName resolves the configured provider name, defaulting to pyannote.
func providerName(cfg *config.Config) string {
	if cfg.Provider.Name != "" {
		return cfg.Provider.Name
	}
	return "pyannote"
}

// buildProvider constructs the diarization provider named in cfg.
func buildProvider(cfg *config.Config) (diarization.Provider, error) {
	name := providerName(cfg)
	switch name {
	case "pyannote":
		var opts []pyannote.Option
		if cfg.Provider.BaseURL != "" {
			opts = append(opts, pyannote.WithBaseURL(cfg.Provider.BaseURL))
		}
		if d := cfg.Provider.PollInterval.Std(); d > 0 {
			opts = append(opts, pyannote.WithPollInterval(d))
		}
		if cfg.Provider.PollMaxAttempts > 0 {
			opts = append(opts, pyannote.WithMaxPollAttempts(cfg.Provider.PollMaxAttempts))
		}
		if cfg.Server.PublicURL != "" {
			url := strings.TrimSuffix(cfg.Server.PublicURL, "/") + webhookPath
			opts = append(opts, pyannote.WithWebhookURL(url))
			slog.Info("webhook delivery enabled", "url", url)
		}
		return pyannote.New(cfg.Provider.APIKey, opts...)
	default:
		return nil, fmt.Errorf("unknown provider %q; valid providers: %s", name, strings.Join(config.ValidProviderNames, ", "))
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, listenAddr string) {
	fmt.Println("╔════════════════════════════════════════╗")
	fmt.Println("║       airtime — startup summary        ║")
	fmt.Println("╠════════════════════════════════════════╣")
	printRow("Provider", providerName(cfg))
	if cfg.Server.PublicURL != "" {
		printRow("Webhook", "enabled")
	} else {
		printRow("Webhook", "polling only")
	}
	printRow("Listen addr", listenAddr)
	printRow("Log level", string(cfg.Server.LogLevel))
	fmt.Println("╚════════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-15s : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
