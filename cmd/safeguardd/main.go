// Command safeguardd is the composition root for the SAFEGUARD approval
// core: it wires the E2/E1 backends, the approval queue, the deferred
// action manager, and the sweeper together, and serves a liveness/
// readiness/metrics surface. The approve/reject/cancel operator API itself
// is a transport-layer collaborator per spec.md's Non-goals (RPC/HTTP/MCP)
// and is not exposed here — callers embed internal/approval and
// internal/deferred directly, the same way the teacher's cmd/mcplexer
// embeds its component managers rather than shelling out to them.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/revittco/safeguard/internal/approval"
	"github.com/revittco/safeguard/internal/config"
	"github.com/revittco/safeguard/internal/deferred"
	"github.com/revittco/safeguard/internal/executor"
	"github.com/revittco/safeguard/internal/keystore"
	"github.com/revittco/safeguard/internal/metrics"
	"github.com/revittco/safeguard/internal/secrets"
	"github.com/revittco/safeguard/internal/store"
	"github.com/revittco/safeguard/internal/store/postgres"
	"github.com/revittco/safeguard/internal/store/sqlite"
	"github.com/revittco/safeguard/internal/sweeper"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "safeguardd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	db, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = db.Close() }()

	enc, err := loadEncryptor(cfg)
	if err != nil {
		return fmt.Errorf("load encryptor: %w", err)
	}

	ks, err := openKeystore(ctx, cfg, enc)
	if err != nil {
		return fmt.Errorf("open keystore: %w", err)
	}
	defer func() { _ = ks.Close() }()

	approvalMgr := approval.NewManager(db, ks, logger)
	deferredMgr := deferred.NewManager(db, logger)
	exec := executor.NewLoggingExecutor(logger)
	sw := sweeper.New(approvalMgr, deferredMgr, exec, time.Duration(cfg.SweeperInterval)*time.Second, logger)

	reg := prometheus.NewRegistry()
	mx := metrics.New(reg)
	approvalMgr.SetMetrics(mx)
	deferredMgr.SetMetrics(mx)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sw.Run(ctx)
	})

	g.Go(func() error {
		return serveHealth(ctx, cfg.HealthAddr, db, ks, reg, logger)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.DBDriver {
	case "postgres":
		return postgres.New(ctx, cfg.DBDSN)
	case "sqlite", "":
		return sqlite.New(ctx, cfg.DBDSN)
	default:
		return nil, fmt.Errorf("unknown db driver %q", cfg.DBDriver)
	}
}

func loadEncryptor(cfg *config.Config) (*secrets.AgeEncryptor, error) {
	if cfg.AgeKeyPath != "" {
		return secrets.NewAgeEncryptor(cfg.AgeKeyPath)
	}
	keyPath := cfg.DBDSN + ".age"
	enc, err := secrets.EnsureKeyFile(keyPath)
	if err != nil {
		slog.Warn("failed to create auto age key file, falling back to ephemeral",
			"path", keyPath, "err", err)
		return secrets.NewEphemeralEncryptor()
	}
	return enc, nil
}

func openKeystore(ctx context.Context, cfg *config.Config, enc *secrets.AgeEncryptor) (*keystore.RedisKeystore, error) {
	return keystore.NewRedisKeystore(ctx, cfg.RedisAddr, enc)
}
