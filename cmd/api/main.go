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

	"glovendor/internal/audit"
	"glovendor/internal/auth"
	"glovendor/internal/config"
	"glovendor/internal/events"
	"glovendor/internal/httpapi"
	"glovendor/internal/payment"
	"glovendor/pkg/logger"
	"glovendor/pkg/utils"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	if err := utils.RunMigrations(cfg.PostgresURL(), cfg.DB.MigrationsPath); err != nil {
		log.Error("migrations failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	d := deps{cfg: cfg, log: log, db: db, events: events.Noop{}, audit: audit.NewMemoryRepo()}

	if addr := cfg.RedisAddr(); addr != "" && cfg.Payment.InitiateCap > 0 {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: addr})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		// Slots outlive a checkout call by a wide margin; the TTL only reclaims leaks.
		lim, err := utils.NewSlotLimiter(rdb, "glovendor:initiate:", cfg.Payment.InitiateCap, 4*cfg.Payment.GatewayTimeout)
		if err != nil {
			log.Error("initiate limiter init failed", "err", err)
			os.Exit(1)
		}
		d.limiter = lim
	} else {
		log.Info("initiate concurrency cap disabled")
	}

	if len(cfg.Kafka.Brokers) > 0 {
		pub, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.LedgerTopic, log)
		if err != nil {
			log.Error("kafka init failed", "err", err)
			os.Exit(1)
		}
		defer func() {
			if err := pub.Close(); err != nil {
				log.Warn("kafka close failed", "err", err)
			}
		}()
		d.events = pub
	}

	if cfg.Mongo.URI != "" {
		mctx, cancel := context.WithTimeout(rootCtx, cfg.Mongo.Timeout)
		client, err := mongo.Connect(mctx, options.Client().ApplyURI(cfg.Mongo.URI))
		if err == nil {
			err = client.Ping(mctx, nil)
		}
		if err != nil {
			cancel()
			log.Error("mongo init failed", "err", err)
			os.Exit(1)
		}
		repo := audit.NewMongoRepo(log, client.Database(cfg.Mongo.Database))
		if err := repo.EnsureIndexes(mctx); err != nil {
			log.Warn("audit indexes not ensured", "err", err)
		}
		cancel()
		defer func() {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(dctx)
		}()
		d.audit = repo
	} else {
		log.Info("audit events kept in memory")
	}

	a, err := buildApp(d)
	if err != nil {
		log.Error("service wiring failed", "err", err)
		os.Exit(1)
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	httpapi.Register(r, a.handlers, auth.RequireAccessToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	sweepCtx, stopSweep := context.WithCancel(rootCtx)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		payment.NewSweeper(a.payments, cfg.Payment.SweepInterval, log).Run(sweepCtx)
	}()

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
	stopSweep()
	<-sweepDone
	// Queued recharges finish (or refund) before the pool goes away.
	a.dispatcher.Close()
	log.Info("shutdown complete")
}
