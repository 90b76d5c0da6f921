package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"github.com/dekvall/matkrasslig/internal/callsession"
	"github.com/dekvall/matkrasslig/internal/config"
	"github.com/dekvall/matkrasslig/internal/dispatch"
	"github.com/dekvall/matkrasslig/internal/elks"
	"github.com/dekvall/matkrasslig/internal/geo"
	"github.com/dekvall/matkrasslig/internal/ranking"
	"github.com/dekvall/matkrasslig/internal/store"
	"github.com/dekvall/matkrasslig/internal/verification"
	"github.com/dekvall/matkrasslig/internal/webhook"
	"github.com/dekvall/matkrasslig/pkg/logger"
	"github.com/dekvall/matkrasslig/pkg/utils"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Local development convenience; missing file is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	zips, err := geo.Load(cfg.Geo.ZipDataPath)
	if err != nil {
		log.Error("zip table load failed", "path", cfg.Geo.ZipDataPath, "err", err)
		os.Exit(1)
	}
	log.Info("zip table loaded", "codes", zips.Len())

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	registry := store.NewStore(db)
	sessions := callsession.New(rdb)

	elksClient := elks.NewClient(elks.ClientConfig{
		BaseURL:     cfg.Elks.BaseURL,
		APIUsername: cfg.Elks.APIUsername,
		APIPassword: cfg.Elks.APIPassword,
		Number:      cfg.Elks.Number,
	}, log)

	ctrl := dispatch.NewController(
		sessions,
		registry,
		ranking.NewRanker(zips, registry),
		elksClient,
		cfg.App.BaseURL,
		cfg.App.MediaURL,
		log,
	)

	flows := webhook.NewHandlers(registry, sessions, ctrl, zips, cfg.App.BaseURL, cfg.App.MediaURL, log)
	verifier := verification.NewService(
		verification.NewRedisCodes(rdb),
		registry,
		elksClient,
		zips,
		"Telehelp",
		cfg.Geo.VerifyCodeTTL,
		log,
	)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, cfg, flows, verifier, registry, zips, rdb)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
