package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"bizmatrix/api/internal/ai"
	"bizmatrix/api/internal/app"
	"bizmatrix/api/internal/archive"
	"bizmatrix/api/internal/attachments"
	"bizmatrix/api/internal/config"
	"bizmatrix/api/internal/kv"
	"bizmatrix/api/internal/logger"
	"bizmatrix/api/internal/orchestrator"
	"bizmatrix/api/internal/repo"
	"bizmatrix/api/internal/search"
	"bizmatrix/api/internal/session"
	"bizmatrix/api/internal/store"
)

var (
	cfg config.Config
	log *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "bizmatrix-api",
	Short:         "Business matrix API server",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		built, err := logger.New(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		log = built
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Apply pending migrations and run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage database migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := store.Open(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()
		applied, err := store.ApplyMigrations(cmd.Context(), db, cfg.MigrationsDir)
		if err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
		log.Info("migrations applied", zap.Strings("versions", applied))
		return nil
	},
}

var rollbackSteps int

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := store.Open(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()
		reverted, err := store.RollbackMigrations(cmd.Context(), db, cfg.MigrationsDir, rollbackSteps)
		if err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		log.Info("migrations rolled back", zap.Strings("versions", reverted))
		return nil
	},
}

func init() {
	migrateDownCmd.Flags().IntVar(&rollbackSteps, "steps", 1, "number of migrations to roll back")
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd)
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(ctx context.Context) error {
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	if len(applied) > 0 {
		log.Info("migrations applied", zap.Strings("versions", applied))
	}

	dataStore := store.NewPostgresStore(db)

	kvStore, redisKV, err := openKV(db)
	if err != nil {
		return err
	}
	if redisKV != nil {
		defer redisKV.Close()
	}

	secret := cfg.SecretKey
	if strings.TrimSpace(secret) == "" {
		secret = cfg.JWTSecret
	}
	repos, err := repo.New(kvStore, secret, log)
	if err != nil {
		return fmt.Errorf("repositories: %w", err)
	}

	gemini := ai.NewGemini(ai.GeminiConfig{
		Model:       cfg.GeminiModel,
		FallbackKey: cfg.GeminiAPIKey,
		Timeout:     cfg.AITimeout,
	}, repos.APIKeys, log)
	analyses := orchestrator.NewAnalyses()
	defer analyses.CloseAll()

	deps := app.Deps{
		Config:   cfg,
		Store:    dataStore,
		KV:       kvStore,
		Repos:    repos,
		Exchange: orchestrator.NewExchange(gemini, log),
		Analyses: analyses,
		Log:      log,
	}

	// refresh sessions share the redis client when kv runs on redis
	if redisKV != nil {
		log.Info("using redis for refresh sessions")
		deps.Sessions = session.NewRedisStore(redisKV.Client(), dataStore.GetUserByID)
	} else if strings.TrimSpace(cfg.RedisURL) != "" {
		redisSessions, err := kv.NewRedis(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisSessions.Close()
		log.Info("using redis for refresh sessions")
		deps.Sessions = session.NewRedisStore(redisSessions.Client(), dataStore.GetUserByID)
	}

	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
		defer meili.Close()
	}
	searchService := search.NewService(meili, search.NewFallback(dataStore), log)
	go searchService.ReindexAll(context.Background(), dataStore)
	deps.Search = searchService

	if dir := strings.TrimSpace(cfg.ArchiveDir); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create archive dir: %w", err)
		}
		deps.Archive = archive.New(dir, log)
	}

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		attachCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		attachmentStore, err := attachments.New(attachCtx, attachments.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		}, log)
		cancel()
		if err != nil {
			log.Warn("attachment storage unavailable, uploads are not kept", zap.Error(err))
		} else {
			deps.Attachments = attachmentStore
		}
	}

	service := app.NewService(deps)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, log)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.AITimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("api listening", zap.String("addr", cfg.Addr), zap.String("kv_backend", cfg.KVBackend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", zap.Error(err))
	}
	return nil
}

// openKV picks the key-value backend. The redis handle is returned so its client can be
// shared and closed.
func openKV(db *sql.DB) (kv.Store, *kv.Redis, error) {
	switch cfg.KVBackend {
	case "redis":
		if strings.TrimSpace(cfg.RedisURL) == "" {
			return nil, nil, errors.New("KV_BACKEND=redis requires REDIS_URL")
		}
		redisKV, err := kv.NewRedis(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("redis connection failed: %w", err)
		}
		return redisKV, redisKV, nil
	case "memory":
		log.Warn("using in-memory kv store, working set is lost on restart")
		return kv.NewMemory(), nil, nil
	case "postgres", "":
		return kv.NewPostgres(db), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown KV_BACKEND %q", cfg.KVBackend)
	}
}
