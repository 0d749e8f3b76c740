package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"toytracker/internal/config"
	"toytracker/internal/crawler"
	"toytracker/internal/ingest"
	"toytracker/internal/pkg/dedup"
	"toytracker/internal/pkg/logger"
	"toytracker/internal/pkg/ratelimit"
	"toytracker/internal/store"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// main 是爬虫的入口函数，执行一次完整抓取后退出。
//
// 它负责：
// 1. 加载配置与价格字体
// 2. 启动浏览器，逐页抓取京东与天猫列表
// 3. 把抓取结果交给入库流程
// 4. 收到中断信号时停止抓取，已抓取的部分照常入库
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	appLogger := logger.NewDefault(cfg.App.LogLevel)
	if err := run(cfg, appLogger); err != nil {
		appLogger.Error("crawler run failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, appLogger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.Database)
	if err != nil {
		return err
	}
	st := store.New(db, cfg.App.Location())
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			appLogger.Warn("redis unavailable, using local rate limit and dedup", slog.String("error", err.Error()))
			rdb = nil
		}
	}
	limiter := ratelimit.New(rdb, appLogger, cfg.App.RateLimitKey, cfg.App.RateLimit, cfg.App.RateBurst)
	deduper := dedup.NewDeduplicator(rdb, time.Duration(cfg.App.DedupWindow)*time.Second)

	if cfg.App.MetricsAddr != "" {
		metricsServer := &http.Server{
			Addr:              cfg.App.MetricsAddr,
			Handler:           promhttp.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			appLogger.Info("crawler metrics server started", slog.String("addr", cfg.App.MetricsAddr))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				appLogger.Error("metrics server stopped with error", slog.String("error", err.Error()))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	decoder := ingest.LoadDecoder(cfg.Crawl.TmallFontPath, appLogger)

	service, err := crawler.NewService(ctx, cfg, appLogger, limiter, deduper)
	if err != nil {
		return err
	}
	defer func() {
		if err := service.Close(); err != nil {
			appLogger.Warn("close browser failed", slog.String("error", err.Error()))
		}
	}()

	reqs := crawler.BuildRequests(cfg.Crawl)
	appLogger.Info("crawl started", slog.Int("pages", len(reqs)))
	collected, _, crawlErr := crawler.Collect(ctx, service, reqs, cfg.Crawl.MaxItemsPerRun, appLogger)
	if crawlErr != nil {
		appLogger.Warn("crawl interrupted, ingesting collected listings", slog.String("error", crawlErr.Error()))
	}

	// 中断后仍把已抓取的记录写入数据库
	ingestCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
	defer cancel()
	ing := ingest.NewFromConfig(cfg, st, appLogger)
	defer func() {
		if err := ing.Close(); err != nil {
			appLogger.Warn("flush notifications failed", slog.String("error", err.Error()))
		}
	}()
	reports, err := ing.IngestAll(ingestCtx, ingest.Batches(cfg.Crawl, collected, decoder))
	for _, r := range reports {
		appLogger.Info("platform ingested",
			slog.String("platform", string(r.Platform)),
			slog.String("day", r.Day),
			slog.Int("created", r.Created),
			slog.Int("appended", r.Appended),
			slog.Int("notified", r.Notified))
	}
	return err
}
