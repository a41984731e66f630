package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
)

// AppConfig 聚合运行时配置，通过环境变量注入，避免硬编码。
type AppConfig struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// DB_DRIVER: sqlite（本地）或 postgres（pgx）
	DBDriver string `env:"DB_DRIVER" envDefault:"sqlite"`
	DBDSN    string `env:"DB_DSN"    envDefault:"local_review.db"`

	RedisAddr     string `env:"REDIS_ADDR"     envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB"       envDefault:"0"`

	// 缓存：重建池大小、重建锁租期、空值 TTL、普通 TTL、店铺逻辑过期窗口
	CacheRebuildWorkers int           `env:"CACHE_REBUILD_WORKERS" envDefault:"10"`
	CacheLockTTL        time.Duration `env:"CACHE_LOCK_TTL"        envDefault:"10s"`
	CacheNullTTL        time.Duration `env:"CACHE_NULL_TTL"        envDefault:"2m"`
	CacheShopTTL        time.Duration `env:"CACHE_SHOP_TTL"        envDefault:"30m"`
	ShopLogicalWindow   time.Duration `env:"SHOP_LOGICAL_WINDOW"   envDefault:"20s"`

	// 秒杀落单队列容量与 worker 用户锁租期
	OrderQueueSize int           `env:"ORDER_QUEUE_SIZE" envDefault:"65536"`
	OrderLockTTL   time.Duration `env:"ORDER_LOCK_TTL"   envDefault:"10s"`

	// 购买接口限流
	BuyRateLimit  int           `env:"BUY_RATE_LIMIT"  envDefault:"1000"`
	BuyRateWindow time.Duration `env:"BUY_RATE_WINDOW" envDefault:"1s"`

	// 创建秒杀券 / 预热接口的简单管理员令牌（demo 级别保护）
	AdminToken string `env:"ADMIN_TOKEN" envDefault:"dev-admin-token"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Load 读取并校验配置，缺失时使用默认值。
func Load() (AppConfig, error) {
	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		return AppConfig{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Validate 校验取值范围。
func (c AppConfig) Validate() error {
	if c.DBDriver != "sqlite" && c.DBDriver != "postgres" {
		return fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", c.DBDriver)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("DB_DSN must not be empty")
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR must not be empty")
	}
	if c.RedisDB < 0 {
		return fmt.Errorf("REDIS_DB must be >= 0")
	}
	if c.CacheRebuildWorkers <= 0 {
		return fmt.Errorf("CACHE_REBUILD_WORKERS must be > 0")
	}
	for name, d := range map[string]time.Duration{
		"CACHE_LOCK_TTL":      c.CacheLockTTL,
		"CACHE_NULL_TTL":      c.CacheNullTTL,
		"CACHE_SHOP_TTL":      c.CacheShopTTL,
		"SHOP_LOGICAL_WINDOW": c.ShopLogicalWindow,
		"ORDER_LOCK_TTL":      c.OrderLockTTL,
		"BUY_RATE_WINDOW":     c.BuyRateWindow,
		"SHUTDOWN_TIMEOUT":    c.ShutdownTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", name)
		}
	}
	if c.BuyRateWindow < time.Second {
		return fmt.Errorf("BUY_RATE_WINDOW must be at least 1s")
	}
	if c.OrderQueueSize <= 0 {
		return fmt.Errorf("ORDER_QUEUE_SIZE must be > 0")
	}
	if c.BuyRateLimit <= 0 {
		return fmt.Errorf("BUY_RATE_LIMIT must be > 0")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	return nil
}
