package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"gitea.kood.tech/petrkubec/loveai/backend/ai"
	"gitea.kood.tech/petrkubec/loveai/backend/match"
)

type server struct {
	db        *sql.DB
	engine    *match.Engine
	hub       *Hub
	log       *zap.Logger
	secret    []byte
	tokenTTL  time.Duration
	uploadDir string
	origins   map[string]bool
	now       func() time.Time
}

func newServer(cfg *Config, db *sql.DB, engine *match.Engine, logger *zap.Logger) *server {
	origins := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		origins[o] = true
	}
	return &server{
		db:        db,
		engine:    engine,
		hub:       newHub(logger.Named("chat")),
		log:       logger,
		secret:    []byte(cfg.JWTSecret),
		tokenTTL:  cfg.TokenTTL,
		uploadDir: cfg.UploadDir,
		origins:   origins,
		now:       time.Now,
	}
}

func main() {
	cfg, err := loadConfig("./configs")
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log.Level, cfg.Log.Format)
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("backend stopped", zap.Error(err))
	}
}

func run(cfg *Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := ensureSchema(ctx, db); err != nil {
		return err
	}
	logger.Info("database connection established")

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return fmt.Errorf("create upload dir: %w", err)
	}

	opts := []match.Option{
		match.WithLogger(logger.Named("match")),
		match.WithRecorder(newAILogRecorder(db, logger)),
	}

	if cfg.Redis.Addr != "" {
		rdb := newRedis(cfg.Redis)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, compatibility cache disabled", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		} else {
			opts = append(opts, match.WithCache(match.NewRedisCache(rdb, cfg.Redis.CacheTTL)))
		}
	}

	gen, err := ai.NewGenerator(ctx, cfg.AI.APIKey, cfg.AI.Model)
	switch {
	case err == nil:
		gen.SetTimeout(cfg.AI.Timeout)
		opts = append(opts, match.WithGenerator(gen))
		logger.Info("llm scoring enabled", zap.String("model", gen.Model()))
	case errors.Is(err, ai.ErrNotConfigured):
		logger.Info("no AI key configured, using heuristic scoring")
	default:
		return err
	}

	s := newServer(cfg, db, match.NewEngine(opts...), logger)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.hub.closeAll()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("starting LoveAI backend", zap.String("addr", cfg.HTTPAddr), zap.String("environment", cfg.Environment))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newRedis(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})
}
