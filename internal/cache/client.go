// Package cache 是基于 Redis 的旁路缓存：
//   - 空值缓存防穿透（PassThrough）
//   - 逻辑过期 + 异步重建防击穿（LogicalExpire）
//   - 互斥锁重建（Mutex），用于没有预热的数据
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"local_review/internal/clock"
	rediskey "local_review/pkg/redis"

	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// ErrNotFound 缓存与数据源都没有该数据。不是故障，调用方按"不存在"处理。
var ErrNotFound = errors.New("cache: not found")

// nullMarker 空值占位，物理 TTL 很短。
const nullMarker = ""

const (
	defaultLockTTL        = 10 * time.Second
	defaultNullTTL        = 2 * time.Minute
	defaultRebuildWorkers = 10
	defaultRetryInterval  = 50 * time.Millisecond
)

// Client 持有重建用的锁、有界重建池和进程内 singleflight。
type Client struct {
	rdb   rd.Cmdable
	mutex *rediskey.Mutex
	clock clock.Clock
	log   zerolog.Logger

	lockTTL       time.Duration
	nullTTL       time.Duration
	retryInterval time.Duration

	// mu 保证 Close 之后不再投递重建任务。
	mu       sync.RWMutex
	closed   bool
	rebuilds errgroup.Group

	flight singleflight.Group
}

type Option func(*Client)

// WithLockTTL 重建锁租期，也是单次重建的超时上限。
func WithLockTTL(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.lockTTL = d
		}
	}
}

// WithNullTTL 空值占位的物理 TTL。
func WithNullTTL(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.nullTTL = d
		}
	}
}

// WithRetryInterval 互斥重建策略下抢锁失败后的休眠间隔。
func WithRetryInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.retryInterval = d
		}
	}
}

func New(rdb rd.Cmdable, log zerolog.Logger, clk clock.Clock, rebuildWorkers int, opts ...Option) *Client {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if rebuildWorkers <= 0 {
		rebuildWorkers = defaultRebuildWorkers
	}
	c := &Client{
		rdb:           rdb,
		mutex:         rediskey.NewMutex(rdb),
		clock:         clk,
		log:           log.With().Str("component", "cache").Logger(),
		lockTTL:       defaultLockTTL,
		nullTTL:       defaultNullTTL,
		retryInterval: defaultRetryInterval,
	}
	c.rebuilds.SetLimit(rebuildWorkers)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Set 写入普通缓存，带物理 TTL。
func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	if err := c.rdb.Set(ctx, key, b, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// SetWithLogicalExpire 写入带逻辑过期时间的缓存，不设置物理 TTL。
func (c *Client) SetWithLogicalExpire(ctx context.Context, key string, value any, window time.Duration) error {
	b, err := json.Marshal(logicalEntry[any]{Data: value, ExpireTime: c.clock.Now().Add(window)})
	if err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	if err := c.rdb.Set(ctx, key, b, 0).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// Delete 删除缓存，数据更新后调用。
func (c *Client) Delete(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache delete %s: %w", key, err)
	}
	return nil
}

// Close 停止接收新的重建任务，并等待进行中的重建结束。
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	_ = c.rebuilds.Wait()
}

// schedule 尝试把重建投递到有界池；池满或已关闭返回 false。
func (c *Client) schedule(fn func()) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	return c.rebuilds.TryGo(func() error {
		fn()
		return nil
	})
}

func (c *Client) setNull(ctx context.Context, key string) error {
	if err := c.rdb.Set(ctx, key, nullMarker, c.nullTTL).Err(); err != nil {
		return fmt.Errorf("cache set null %s: %w", key, err)
	}
	return nil
}

func (c *Client) unlock(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := c.mutex.Unlock(ctx, key, token); err != nil {
		c.log.Error().Err(err).Str("lock", key).Msg("release rebuild lock")
	}
}
