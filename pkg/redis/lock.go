package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
)

// unlockScript 仅当锁值等于持有者 token 时才删除，避免过期后误删他人新锁。
var unlockScript = rd.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Mutex 基于 SET NX PX 的分布式互斥租约。
// TryLock 单次尝试、不阻塞；需要重试的调用方自己实现退避。
type Mutex struct {
	rdb rd.Cmdable
}

func NewMutex(rdb rd.Cmdable) *Mutex {
	return &Mutex{rdb: rdb}
}

// TryLock 抢锁。ok=false 表示锁已被他人持有（正常竞争，不是错误）。
func (m *Mutex) TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error) {
	if ttl <= 0 {
		return "", false, fmt.Errorf("lock %s: ttl must be > 0", key)
	}
	token = newToken()
	ok, err = m.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("lock %s: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Unlock 校验 token 后释放。token 不匹配（锁已过期被他人重新获取）时什么也不做，
// released=false。
func (m *Mutex) Unlock(ctx context.Context, key, token string) (released bool, err error) {
	n, err := unlockScript.Run(ctx, m.rdb, []string{key}, token).Int()
	if err != nil {
		return false, fmt.Errorf("unlock %s: %w", key, err)
	}
	return n == 1, nil
}

func newToken() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}
