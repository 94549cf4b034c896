package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/tonsentry/tonsentry/pkg/api"
	"github.com/tonsentry/tonsentry/pkg/approval"
	"github.com/tonsentry/tonsentry/pkg/auditlog"
	"github.com/tonsentry/tonsentry/pkg/chain"
	"github.com/tonsentry/tonsentry/pkg/config"
	"github.com/tonsentry/tonsentry/pkg/coordinator"
	"github.com/tonsentry/tonsentry/pkg/envelope"
	"github.com/tonsentry/tonsentry/pkg/facilitator"
	"github.com/tonsentry/tonsentry/pkg/notify"
	"github.com/tonsentry/tonsentry/pkg/observability"
	"github.com/tonsentry/tonsentry/pkg/ratelimit"
	"github.com/tonsentry/tonsentry/pkg/state"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run dispatches the CLI; it exists separately from main for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServer(stderr)
	}

	switch args[1] {
	case "serve", "server":
		return runServer(stderr)
	case "health":
		return runHealthCmd(stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "tonsentry — supervised agent payment coordinator")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  tonsentry [serve]   start the coordinator and admin API")
	fmt.Fprintln(w, "  tonsentry health    probe a running coordinator")
	fmt.Fprintln(w, "  tonsentry help      show this help")
}

func runServer(stderr io.Writer) int {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if cfg.ContractAddr == "" || cfg.OwnerID == "" {
		fmt.Fprintln(stderr, "CONTRACT_ADDRESS and OWNER_ID are required")
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openState(cfg)
	if err != nil {
		logger.Error("state store init failed", "backend", cfg.StateBackend, "error", err)
		return 1
	}
	defer closeStore()
	logger.Info("state store ready", "backend", cfg.StateBackend, "path", cfg.StatePath)

	var profile *config.NetworkProfile
	if cfg.ProfilesDir != "" {
		profile, err = config.LoadProfile(cfg.ProfilesDir, cfg.Network)
		if err != nil {
			logger.Error("network profile load failed", "network", cfg.Network, "error", err)
			return 1
		}
		logger.Info("network profile loaded", "network", profile.Code, "name", profile.Name)
	}

	audit := auditlog.New(store.Audit())
	approvals := approval.NewStore(store.Approvals(), audit)

	envStorage := store.Envelopes()
	if cfg.EnvelopeDB != "" {
		db, err := sql.Open("postgres", cfg.EnvelopeDB)
		if err != nil {
			logger.Error("envelope database open failed", "error", err)
			return 1
		}
		defer func() { _ = db.Close() }()
		envStorage = envelope.NewPostgresStorage(db)
		logger.Info("envelope storage on postgres")
	}
	ledger := envelope.NewLedger(envStorage)

	var decider coordinator.Decider
	if cfg.FacilitatorURL != "" {
		fc := facilitator.Config{URL: cfg.FacilitatorURL, Network: cfg.Network}
		if profile != nil {
			fc.Timeout = profile.FacilitatorTimeout()
			fc.RetryAttempts = profile.Facilitator.RetryAttempts
			fc.BackoffMs = profile.Facilitator.BackoffMs
		}
		decider = facilitator.NewClient(fc)
		logger.Info("facilitator enabled", "url", cfg.FacilitatorURL)
	}

	var notifier notify.Notifier
	if cfg.WebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.WebhookURL, 10*time.Second)
		logger.Info("approval webhook enabled", "url", cfg.WebhookURL)
	}

	gateway := chain.NewGatewayClient(cfg.TonEndpoint, 15*time.Second)
	wallet := chain.Wallet{Address: cfg.WalletAddress, Secret: cfg.WalletSecret}

	failOpen := cfg.FailOpen
	pollInterval := time.Duration(cfg.PollSeconds) * time.Second
	recentTxLimit := 0
	conversation := ""
	if profile != nil {
		failOpen = failOpen || profile.Facilitator.FailOpen
		pollInterval = profile.PollInterval()
		recentTxLimit = profile.Polling.RecentTxLimit
		conversation = profile.Notification.Conversation
	}

	coord := coordinator.New(coordinator.Config{
		ContractAddress:     cfg.ContractAddr,
		Owner:               cfg.OwnerID,
		Conversation:        conversation,
		PollInterval:        pollInterval,
		RecentTxLimit:       recentTxLimit,
		FacilitatorFailOpen: failOpen,
	}, gateway, wallet, ledger, approvals, audit, decider, notifier)

	if cfg.RedisURL != "" && profile != nil && profile.Throttled() {
		coord.WithLimiter(ratelimit.NewRedisLimiter(cfg.RedisURL, "", 0, ratelimit.Policy{
			PerMinute: profile.RateLimit.PerMinute,
			Burst:     profile.RateLimit.Burst,
		}))
		logger.Info("submission rate limiting enabled", "per_minute", profile.RateLimit.PerMinute)
	}

	if cfg.OTLPEndpoint != "" {
		obsCfg := observability.DefaultConfig()
		obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
		obsCfg.Enabled = true
		provider, err := observability.New(ctx, obsCfg)
		if err != nil {
			logger.Error("observability init failed", "error", err)
			return 1
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				logger.Error("observability shutdown failed", "error", err)
			}
		}()
		coord.WithMetrics(provider)
	}

	if err := coord.ReconcileStartup(ctx); err != nil {
		logger.Error("startup reconciliation failed", "error", err)
		return 1
	}

	go coord.Run(ctx)

	srv := api.NewServer(coord, ledger, approvals, cfg.OwnerID, cfg.APIToken)
	handler := srv.Routes(api.NewGlobalRateLimiter(20, 40))
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("admin api listening", "port", cfg.Port)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
		return 0
	case err := <-errCh:
		logger.Error("admin api failed", "error", err)
		return 1
	}
}

// openState picks the configured persistence backend. The file backend
// keeps one JSON document per concern under StatePath; the sqlite
// backend keeps them in a single database file.
func openState(cfg *config.Config) (*state.Store, func(), error) {
	switch cfg.StateBackend {
	case "file":
		fs, err := state.NewFileStore(cfg.StatePath)
		if err != nil {
			return nil, nil, err
		}
		return &fs.Store, func() {}, nil
	case "sqlite":
		if err := os.MkdirAll(cfg.StatePath, 0o700); err != nil {
			return nil, nil, err
		}
		ss, err := state.NewSQLiteStore(filepath.Join(cfg.StatePath, "tonsentry.db"))
		if err != nil {
			return nil, nil, err
		}
		return &ss.Store, func() { _ = ss.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown state backend %q", cfg.StateBackend)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func runHealthCmd(out, errOut io.Writer) int {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	resp, err := http.Get("http://localhost:" + port + "/v1/healthz")
	if err != nil {
		fmt.Fprintf(errOut, "Health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(errOut, "Health check failed: status %d\n", resp.StatusCode)
		return 1
	}

	fmt.Fprintln(out, "OK")
	return 0
}
