// ABOUTME: The serve command: wires stores, credentials, Redmine, Matrix, and the webhook listener
// ABOUTME: Runs the Matrix sync loop, the HTTP server, and store maintenance under one errgroup

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"

	"github.com/2389/redmine-bridge/internal/config"
	"github.com/2389/redmine-bridge/internal/credentials"
	"github.com/2389/redmine-bridge/internal/dedupe"
	"github.com/2389/redmine-bridge/internal/matrix"
	"github.com/2389/redmine-bridge/internal/metrics"
	"github.com/2389/redmine-bridge/internal/redmine"
	"github.com/2389/redmine-bridge/internal/secrets"
	"github.com/2389/redmine-bridge/internal/session"
	"github.com/2389/redmine-bridge/internal/store"
	"github.com/2389/redmine-bridge/internal/webhook"
)

const (
	// seenTTL outlives any /sync redelivery after a reconnect.
	seenTTL  = 30 * time.Minute
	seenSize = 10000

	purgeInterval = time.Hour
)

// stores holds the fast store and the message ledger. With the sqlite
// backend they are the same database.
type stores struct {
	kv      store.KV
	ledger  *store.SQLiteStore
	closers []io.Closer
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i].Close()
	}
}

func openKV(ctx context.Context, cfg *config.Config) (store.KV, error) {
	switch cfg.Cache.Backend {
	case "redis":
		return store.NewRedisStore(ctx, store.RedisOptions{
			Addr:     cfg.Cache.Redis.Addr,
			Username: cfg.Cache.Redis.Username,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
	default:
		return store.NewSQLiteStore(cfg.Cache.Path)
	}
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	kv, err := openKV(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening %s cache: %w", cfg.Cache.Backend, err)
	}
	s := &stores{kv: kv, closers: []io.Closer{kv}}

	if sq, ok := kv.(*store.SQLiteStore); ok {
		s.ledger = sq
		return s, nil
	}
	ledger, err := store.NewSQLiteStore(filepath.Join(cfg.Matrix.DataDir, "ledger.db"))
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("opening message ledger: %w", err)
	}
	s.ledger = ledger
	s.closers = append(s.closers, ledger)
	return s, nil
}

func printStartup(configPath string, cfg *config.Config) {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	green := color.New(color.FgGreen)
	line := func(label, value string) {
		green.Print("    ▶ ")
		fmt.Printf("%-11s %s\n", label+":", value)
	}
	line("Config", configPath)
	line("Homeserver", cfg.Matrix.Homeserver)
	line("User", cfg.Matrix.UserID)
	line("Redmine", cfg.Redmine.URL)
	line("Cache", cfg.Cache.Backend)
	line("Database", cfg.Database.Driver)
	line("Webhook", cfg.Webhook.Addr+cfg.Webhook.Path)
	if cfg.Matrix.E2EE {
		line("Encryption", "enabled")
	}
	if cfg.Metrics.Enabled {
		line("Metrics", cfg.Metrics.Path)
	}
	fmt.Println()
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)
	printStartup(configPath, cfg)

	var m *metrics.Metrics
	metricsPath := ""
	if cfg.Metrics.Enabled {
		m = metrics.New()
		metricsPath = cfg.Metrics.Path
	}

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	keyring := secrets.NewKeyring(st.kv, logger)
	if _, err := keyring.Ensure(ctx); err != nil {
		return fmt.Errorf("ensuring encryption key: %w", err)
	}

	password, err := keyring.DecryptConfigValue(ctx, cfg.Database.Password)
	if err != nil {
		return fmt.Errorf("decrypting database.password: %w", err)
	}
	backing, err := credentials.OpenBackingStore(ctx, cfg.Database, password, cfg.Redmine.CustomFieldID)
	if err != nil {
		return fmt.Errorf("opening credential database: %w", err)
	}
	defer backing.Close()

	resolver := credentials.NewResolver(st.kv, backing, keyring, cfg.Cache.TokenTTL, logger, m)
	tracker := redmine.NewClient(cfg.Redmine.URL, cfg.Redmine.Timeout, cfg.Redmine.OpenStatusIDs, logger)

	seen := dedupe.New(seenTTL, seenSize)
	defer seen.Close()

	bridge, err := matrix.NewBridge(cfg.Matrix, st.ledger, seen, logger)
	if err != nil {
		return err
	}
	if cfg.Matrix.E2EE {
		cm, err := matrix.SetupCrypto(ctx, bridge, cfg.Matrix, logger)
		if err != nil {
			return fmt.Errorf("setting up encryption: %w", err)
		}
		defer cm.Close()
	}

	engine := session.NewEngine(bridge, tracker, tracker, resolver, session.Options{
		Priorities:      cfg.Redmine.Priorities,
		DefaultPriority: cfg.Redmine.DefaultPriority,
		Metrics:         m,
		Logger:          logger,
	})

	dispatcher := webhook.NewDispatcher(resolver, tracker, bridge, cfg.Redmine.AdminAPIKey, logger, m)
	server := webhook.NewServer(webhook.Config{
		Addr:        cfg.Webhook.Addr,
		Path:        cfg.Webhook.Path,
		SecretToken: cfg.Webhook.SecretToken,
		MetricsPath: metricsPath,
	}, dispatcher, logger, m)

	logger.Info("starting redmine-bridge",
		"config", configPath,
		"homeserver", cfg.Matrix.Homeserver,
		"webhook_addr", cfg.Webhook.Addr,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bridge.Run(gctx, engine) })
	g.Go(func() error { return server.ListenAndServe(gctx) })
	g.Go(func() error { return purgeLoop(gctx, st.ledger, logger) })

	err = g.Wait()
	engine.Wait()
	logger.Info("redmine-bridge stopped")
	return err
}

// purgeLoop drops expired cache rows; SQLite has no native key expiry.
func purgeLoop(ctx context.Context, s *store.SQLiteStore, logger *slog.Logger) error {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.PurgeExpired(ctx)
			if err != nil {
				logger.Warn("failed to purge expired cache entries", "error", err)
				continue
			}
			if n > 0 {
				logger.Debug("purged expired cache entries", "count", n)
			}
		}
	}
}
