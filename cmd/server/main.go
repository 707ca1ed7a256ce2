package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GiorgiUbiria/secure_banking/configs"
	"github.com/GiorgiUbiria/secure_banking/internal/handlers"
	"github.com/GiorgiUbiria/secure_banking/internal/ledger"
	"github.com/GiorgiUbiria/secure_banking/internal/lock"
	"github.com/GiorgiUbiria/secure_banking/internal/logger"
	"github.com/GiorgiUbiria/secure_banking/internal/mirror"
	"github.com/GiorgiUbiria/secure_banking/internal/routes"
	"github.com/GiorgiUbiria/secure_banking/internal/seed"
	"github.com/GiorgiUbiria/secure_banking/internal/store"
	"github.com/GiorgiUbiria/secure_banking/internal/workflow"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	logger.Init(os.Getenv("ENV"))

	configs.LoadConfig()
	cfg := configs.AppConfig
	// config.yaml or ENV decides the final logger.
	logger.Init(cfg.Env)
	defer logger.Log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var closers []io.Closer

	s, closer := openStore(cfg)
	if closer != nil {
		closers = append(closers, closer)
	}

	locker, closer := openLocker(ctx, cfg)
	if closer != nil {
		closers = append(closers, closer)
	}

	m, closeMirror := openMirror(ctx, cfg)

	threshold, err := decimal.NewFromString(cfg.Ledger.CriticalThreshold)
	if err != nil {
		logger.Log.Fatal("invalid ledger.critical_threshold", zap.String("value", cfg.Ledger.CriticalThreshold), zap.Error(err))
	}
	l := ledger.New(s, locker, ledger.Config{
		LockTimeout: cfg.Ledger.LockTimeout,
		Policy: ledger.Policy{
			CriticalThreshold:      threshold,
			CreditRequiresApproval: cfg.Ledger.CreditRequiresApproval,
		},
	})
	engine := workflow.NewEngine(s, l)

	if err := seed.Run(ctx, s, l); err != nil {
		logger.Log.Fatal("seed failed", zap.Error(err))
	}

	dispatcher := mirror.NewDispatcher(s, m, mirror.DispatcherConfig{
		Interval:    cfg.Mirror.Interval,
		BatchSize:   cfg.Mirror.BatchSize,
		MaxAttempts: cfg.Mirror.MaxAttempts,
		BaseDelay:   cfg.Mirror.BaseDelay,
	})
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		dispatcher.Run(ctx)
	}()

	router := routes.NewRoutes(&handlers.Handler{
		Store:    s,
		Ledger:   l,
		Workflow: engine,
		Mirror:   m,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Log.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	logger.Log.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("graceful shutdown failed", zap.Error(err))
	}

	cancel()
	<-dispatched

	if closeMirror != nil {
		if err := closeMirror(shutdownCtx); err != nil {
			logger.Log.Error("mirror close failed", zap.Error(err))
		}
	}
	for _, c := range closers {
		if err := c.Close(); err != nil {
			logger.Log.Error("close failed", zap.Error(err))
		}
	}

	logger.Log.Info("server stopped")
}

func openStore(cfg configs.Config) (store.Store, io.Closer) {
	if cfg.DB.Driver == "memory" {
		logger.Log.Warn("using in-memory store, data is lost on restart")
		return store.NewMemory(), nil
	}

	db, err := store.NewDB(cfg.DB.DSN)
	if err != nil {
		logger.Log.Fatal("database unavailable", zap.Error(err))
	}
	if err := store.DBMigrate(db); err != nil {
		logger.Log.Fatal("migration failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Log.Error("db close skipped, reason:", zap.Error(err))
		return store.NewPostgres(db, cfg.Ledger.LockTimeout), nil
	}
	return store.NewPostgres(db, cfg.Ledger.LockTimeout), sqlDB
}

func openLocker(ctx context.Context, cfg configs.Config) (lock.Locker, io.Closer) {
	if cfg.Lock.Driver != "redis" {
		return lock.NewLocal(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Log.Fatal("redis unavailable", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
	}
	logger.Log.Info("using redis account locks", zap.String("addr", cfg.Redis.Addr))
	return lock.NewRedis(client, 0), client
}

func openMirror(ctx context.Context, cfg configs.Config) (mirror.Mirror, func(context.Context) error) {
	if cfg.Mirror.Driver != "mongo" {
		return mirror.NewMemory(), nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	m, err := mirror.NewMongo(connectCtx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		logger.Log.Fatal("ledger mirror unavailable", zap.Error(err))
	}
	return m, m.Close
}
