package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	rediskey "local_review/pkg/redis"

	rd "github.com/redis/go-redis/v9"
)

// Mode 选择读策略。
type Mode int

const (
	PassThrough Mode = iota
	LogicalExpire
	Mutex
)

func (m Mode) String() string {
	switch m {
	case PassThrough:
		return "pass_through"
	case LogicalExpire:
		return "logical_expire"
	case Mutex:
		return "mutex"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Policy 每个调用点自己选择策略。
// PassThrough / Mutex 使用 TTL 作为物理过期；LogicalExpire 使用 Window 作为逻辑过期窗口。
type Policy struct {
	Mode   Mode
	TTL    time.Duration
	Window time.Duration
}

// Loader 从数据源加载，数据不存在时返回 ErrNotFound。
type Loader[T any] func(ctx context.Context) (T, error)

type logicalEntry[T any] struct {
	Data       T         `json:"data"`
	ExpireTime time.Time `json:"expire_time"`
}

// Get 按策略读缓存。
func Get[T any](ctx context.Context, c *Client, key string, load Loader[T], p Policy) (T, error) {
	switch p.Mode {
	case PassThrough:
		return QueryWithPassThrough(ctx, c, key, load, p.TTL)
	case LogicalExpire:
		return QueryWithLogicalExpire(ctx, c, key, load, p.Window)
	case Mutex:
		return QueryWithMutex(ctx, c, key, load, p.TTL)
	default:
		var zero T
		return zero, fmt.Errorf("cache get %s: unknown policy %v", key, p.Mode)
	}
}

// readPlain 读取普通缓存。hit=false 表示键不存在；命中空值占位返回 ErrNotFound。
func readPlain[T any](ctx context.Context, c *Client, key string) (v T, hit bool, err error) {
	s, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return v, false, nil
		}
		return v, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if s == nullMarker {
		return v, true, ErrNotFound
	}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return v, false, fmt.Errorf("cache decode %s: %w", key, err)
	}
	return v, true, nil
}

// loadAndFill 回源并写缓存：不存在写空值，存在写 TTL。
func loadAndFill[T any](ctx context.Context, c *Client, key string, load Loader[T], ttl time.Duration) (T, error) {
	v, err := load(ctx)
	if errors.Is(err, ErrNotFound) {
		if err := c.setNull(ctx, key); err != nil {
			c.log.Error().Err(err).Str("key", key).Msg("write null marker")
		}
		return v, ErrNotFound
	}
	if err != nil {
		return v, fmt.Errorf("cache load %s: %w", key, err)
	}
	if err := c.Set(ctx, key, v, ttl); err != nil {
		// 回源成功即可返回，写缓存失败只记录
		c.log.Error().Err(err).Str("key", key).Msg("fill cache")
	}
	return v, nil
}

// QueryWithPassThrough 缓存空值解决缓存穿透。
// 同一进程内对同一个 key 的并发未命中通过 singleflight 合并为一次回源。
func QueryWithPassThrough[T any](ctx context.Context, c *Client, key string, load Loader[T], ttl time.Duration) (T, error) {
	v, hit, err := readPlain[T](ctx, c, key)
	if hit || err != nil {
		return v, err
	}

	// 共享回源不跟随任一调用方的 ctx，每个调用方只按自己的 ctx 放弃等待
	ch := c.flight.DoChan(key, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.lockTTL)
		defer cancel()
		return loadAndFill(lctx, c, key, load, ttl)
	})
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

// QueryWithLogicalExpire 逻辑过期解决缓存击穿。数据需要提前预热，未命中直接返回 ErrNotFound。
// 过期时只有抢到锁的调用方投递异步重建，所有调用方都立即拿到旧值。
func QueryWithLogicalExpire[T any](ctx context.Context, c *Client, key string, load Loader[T], window time.Duration) (T, error) {
	var zero T
	s, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return zero, ErrNotFound
		}
		return zero, fmt.Errorf("cache get %s: %w", key, err)
	}
	if s == nullMarker {
		return zero, ErrNotFound
	}

	var ent logicalEntry[T]
	if err := json.Unmarshal([]byte(s), &ent); err != nil {
		return zero, fmt.Errorf("cache decode %s: %w", key, err)
	}
	if c.clock.Now().Before(ent.ExpireTime) {
		return ent.Data, nil
	}

	lockKey := rediskey.CacheLockKey(key)
	token, ok, err := c.mutex.TryLock(ctx, lockKey, c.lockTTL)
	if err != nil {
		// 拿锁失败也不影响读：宁可返回旧数据
		c.log.Error().Err(err).Str("key", key).Msg("acquire rebuild lock")
		return ent.Data, nil
	}
	if !ok {
		return ent.Data, nil
	}

	scheduled := c.schedule(func() {
		rebuildLogical(c, key, lockKey, token, load, window)
	})
	if !scheduled {
		c.log.Warn().Str("key", key).Msg("rebuild pool saturated or closed, serving stale")
		c.unlock(lockKey, token)
	}
	return ent.Data, nil
}

// rebuildLogical 在重建池中执行，任何退出路径都会释放锁。
func rebuildLogical[T any](c *Client, key, lockKey, token string, load Loader[T], window time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), c.lockTTL)
	defer cancel()
	defer c.unlock(lockKey, token)
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Str("key", key).Msg("cache rebuild panicked")
		}
	}()

	// double check：拿锁前可能已有其他实例刚重建完
	if s, err := c.rdb.Get(ctx, key).Result(); err == nil && s != nullMarker {
		var ent logicalEntry[T]
		if json.Unmarshal([]byte(s), &ent) == nil && c.clock.Now().Before(ent.ExpireTime) {
			return
		}
	}

	v, err := load(ctx)
	if errors.Is(err, ErrNotFound) {
		if err := c.Delete(ctx, key); err != nil {
			c.log.Error().Err(err).Str("key", key).Msg("drop vanished entry")
		}
		return
	}
	if err != nil {
		c.log.Error().Err(err).Str("key", key).Msg("cache rebuild load")
		return
	}
	if err := c.SetWithLogicalExpire(ctx, key, v, window); err != nil {
		c.log.Error().Err(err).Str("key", key).Msg("cache rebuild write")
		return
	}
	c.log.Debug().Str("key", key).Msg("cache rebuilt")
}

// QueryWithMutex 互斥锁解决缓存击穿：未命中时只有一个调用方回源，其余休眠重试直到 ctx 结束。
func QueryWithMutex[T any](ctx context.Context, c *Client, key string, load Loader[T], ttl time.Duration) (T, error) {
	lockKey := rediskey.CacheLockKey(key)
	for {
		v, hit, err := readPlain[T](ctx, c, key)
		if hit || err != nil {
			return v, err
		}

		token, ok, err := c.mutex.TryLock(ctx, lockKey, c.lockTTL)
		if err != nil {
			return v, err
		}
		if ok {
			return rebuildLocked(ctx, c, key, lockKey, token, load, ttl)
		}

		timer := time.NewTimer(c.retryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return v, ctx.Err()
		case <-timer.C:
		}
	}
}

func rebuildLocked[T any](ctx context.Context, c *Client, key, lockKey, token string, load Loader[T], ttl time.Duration) (T, error) {
	defer c.unlock(lockKey, token)

	// 拿到锁后再查一次，可能已被上一个持有者写好
	v, hit, err := readPlain[T](ctx, c, key)
	if hit || err != nil {
		return v, err
	}
	return loadAndFill(ctx, c, key, load, ttl)
}
