package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"local_review/internal/cache"
	"local_review/internal/clock"
	"local_review/internal/config"
	"local_review/internal/queue"
	"local_review/internal/router"
	"local_review/internal/service"
	"local_review/internal/store"
	rediskey "local_review/pkg/redis"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	boot := zerolog.New(os.Stderr).With().Timestamp().Logger()
	cfg, err := config.Load()
	if err != nil {
		boot.Fatal().Err(err).Msg("load config")
	}
	logger, err := newLogger(os.Stdout, cfg.LogLevel)
	if err != nil {
		boot.Fatal().Err(err).Msg("build logger")
	}
	level := logger.GetLevel()

	// 1. 数据库（自动建表）
	db, err := store.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("open db")
	}

	// 2. Redis
	rdb := rd.NewClient(&rd.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	err = rdb.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("ping redis")
	}

	clk := clock.NewSystem()
	cacheClient := cache.New(rdb, logger, clk, cfg.CacheRebuildWorkers,
		cache.WithLockTTL(cfg.CacheLockTTL),
		cache.WithNullTTL(cfg.CacheNullTTL),
	)

	// 3. 落单队列与单消费者
	orders := queue.NewQueue(cfg.OrderQueueSize)
	worker := queue.NewWorker(orders, store.NewOrderWriter(db), rdb, logger, queue.WithOrderLockTTL(cfg.OrderLockTTL))
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	worker.Start(workerCtx)

	shops := service.NewShopService(store.NewShopRepository(db), cacheClient,
		cache.Policy{Mode: cache.LogicalExpire, Window: cfg.ShopLogicalWindow},
		cfg.CacheShopTTL, logger)
	vouchers := service.NewVoucherService(store.NewVoucherRepository(db), rdb)
	seckill := service.NewSeckillService(rdb, rediskey.NewIDWorker(rdb, clk.Now), orders, clk, logger)

	// 逻辑过期的 key 必须预热，否则视为不存在
	warmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if _, err := shops.PreheatAll(warmCtx); err != nil {
		logger.Warn().Err(err).Msg("preheat shops")
	}
	cancel()

	if level > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	router.Setup(r, router.Deps{
		Shops:         shops,
		Vouchers:      vouchers,
		Seckill:       seckill,
		Redis:         rdb,
		AdminToken:    cfg.AdminToken,
		BuyRateLimit:  cfg.BuyRateLimit,
		BuyRateWindow: cfg.BuyRateWindow,
		Log:           logger,
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info().Msg("shutting down")

	// 先停止接收请求，再排空队列，最后等待缓存重建结束
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	if err := worker.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("order worker stop")
	}
	cacheClient.Close()
	st := worker.Stats()
	logger.Info().Int64("created", st.Created).Int64("dropped", st.Dropped).Msg("order worker stats")

	if err := rdb.Close(); err != nil {
		logger.Error().Err(err).Msg("close redis")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// newLogger 构建根 logger，各组件再追加 component 字段。
func newLogger(w io.Writer, level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), err
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Str("service", "local_review").Logger(), nil
}
