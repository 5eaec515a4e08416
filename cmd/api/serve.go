package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"call-monitor/internal/audio"
	"call-monitor/internal/audit"
	"call-monitor/internal/calls"
	"call-monitor/internal/config"
	"call-monitor/internal/database"
	"call-monitor/internal/fanout"
	"call-monitor/internal/httpapi"
	"call-monitor/internal/lease"
	"call-monitor/internal/transcripts"
	"call-monitor/pkg/logger"
	"call-monitor/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/hibiken/asynq"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the call monitor (registry, streams, transcript ingestion, HTTP API)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
}

func runServe(rootCtx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		return fmt.Errorf("postgres init failed: %w", err)
	}
	defer db.Close()

	if err := database.Migrate(cfg.MigrateURL(), log); err != nil {
		return err
	}

	redisCfg := utils.RedisConfig{
		Addr:       cfg.RedisAddr(),
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		ClientName: "call-monitor:" + cfg.App.InstanceID,
	}
	rdb, err := utils.OpenRedis(rootCtx, redisCfg)
	if err != nil {
		return fmt.Errorf("redis init failed: %w", err)
	}
	defer rdb.Close()

	// Lease keepalive gets its own small pool so it never waits behind feed traffic.
	leaseCfg := redisCfg
	leaseCfg.ClientName = "call-monitor-lease:" + cfg.App.InstanceID
	leaseCfg.PoolSize = 2
	leaseRDB, err := utils.OpenRedis(rootCtx, leaseCfg)
	if err != nil {
		return fmt.Errorf("lease redis init failed: %w", err)
	}
	defer leaseRDB.Close()

	auditRepo, err := audit.OpenFileRepo(cfg.Transcripts.AuditLogPath)
	if err != nil {
		return err
	}
	defer auditRepo.Close()
	auditSvc := audit.NewService(auditRepo, cfg.App.InstanceID)

	registry := calls.NewRegistry(calls.NewDirLister(cfg.Watch.Dir), calls.RegistryOptions{
		ActiveThreshold: cfg.Watch.ActiveThreshold,
		CleanupGrace:    cfg.Watch.CleanupGrace,
		Logger:          log,
	})
	opener := audio.NewOpener(registry, audio.OpenerOptions{
		SampleRate:    cfg.Audio.SampleRate,
		ChunkBytes:    cfg.Audio.ChunkBytes,
		LookbackBytes: cfg.Audio.LookbackBytes,
		PollInterval:  cfg.Audio.PollInterval,
		StableTicks:   cfg.Audio.StableTicks,
		MixWait:       cfg.Audio.MixWait,
		Logger:        log,
	})
	hub := fanout.NewHub(log)

	leader := lease.New(lease.NewRedisStore(leaseRDB), lease.Options{
		Key:           cfg.Transcripts.LeaseKey,
		Holder:        cfg.App.InstanceID,
		TTL:           cfg.Transcripts.LeaseTTL,
		RenewInterval: cfg.Transcripts.LeaseRenewInterval,
		Logger:        log,
	})

	repo := transcripts.NewPostgresRepo(db)

	var (
		retrier  transcripts.Retrier
		retrySrv *asynq.Server
	)
	if cfg.Transcripts.PersistRetry {
		ro := redisCfg.Options()
		redisOpt := asynq.RedisClientOpt{
			Addr:         ro.Addr,
			Password:     ro.Password,
			DB:           ro.DB,
			DialTimeout:  ro.DialTimeout,
			ReadTimeout:  ro.ReadTimeout,
			WriteTimeout: ro.WriteTimeout,
		}
		queue := asynq.NewClient(redisOpt)
		defer queue.Close()
		retrier = transcripts.NewAsynqRetrier(queue)

		retrySrv = asynq.NewServer(redisOpt, asynq.Config{Concurrency: 2, LogLevel: asynq.WarnLevel})
		processor := transcripts.NewRetryProcessor(repo, auditSvc, hub, log)
		if err := retrySrv.Start(processor.Handler()); err != nil {
			return fmt.Errorf("persist retry worker failed: %w", err)
		}
	}

	ingestor, err := transcripts.NewIngestor(transcripts.IngestorOptions{
		Leader: leader,
		Dedup:  transcripts.NewDeduper(transcripts.NewRedisClaimStore(rdb), cfg.Transcripts.DedupLocalSize, cfg.Transcripts.DedupTTL, log),
		Repo:   repo,
		Audit:  auditSvc,
		Fanout: hub,
		Retry:  retrier,
		Logger: log,
	})
	if err != nil {
		return err
	}

	h := httpapi.Handlers{
		Calls:       registry,
		Streams:     opener,
		Hub:         hub,
		Transcripts: repo,
		Lease:       leader,
		Upgrader:    websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 4096},
	}
	if !cfg.IsProduction() {
		h.Upgrader.CheckOrigin = func(*http.Request) bool { return true }
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	registerRoutes(r, h, db)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		// Audio streams and websockets are long-lived: no read/write timeout.
		// Request contexts derive from rootCtx so shutdown ends them.
		BaseContext: func(net.Listener) context.Context { return rootCtx },
	}

	g, ctx := errgroup.WithContext(rootCtx)
	g.Go(func() error { return registry.Run(ctx, cfg.Watch.ScanInterval) })
	g.Go(func() error {
		leader.Run(ctx)
		return nil
	})
	g.Go(func() error {
		consumeFeed(ctx, ingestor, transcripts.NewRedisFeed(rdb, cfg.Transcripts.Channel), log)
		return nil
	})
	g.Go(func() error {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "instance_id", cfg.App.InstanceID)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		opener.CloseAll()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("http shutdown failed", "err", err)
		}
		if retrySrv != nil {
			retrySrv.Shutdown()
		}
		if err := leader.Release(shutdownCtx); err != nil && !lease.IsNotHeld(err) {
			log.Warn("lease release failed", "err", err)
		}
		return logger.ShutdownFlush(shutdownCtx, 2*time.Second)
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// consumeFeed keeps the ingestor subscribed until ctx ends, resubscribing
// after feed failures.
func consumeFeed(ctx context.Context, ing *transcripts.Ingestor, feed transcripts.Feed, log *slog.Logger) {
	backoff := time.Second
	for {
		err := ing.Run(ctx, feed)
		if ctx.Err() != nil {
			return
		}
		log.Warn("transcript feed stopped, resubscribing", "err", err, "backoff", backoff.String())
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 30*time.Second)
	}
}
