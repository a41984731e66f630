package redis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	rd "github.com/redis/go-redis/v9"
)

const (
	// idEpoch 2022-01-01T00:00:00Z，时间戳部分从这里开始计秒。
	idEpoch int64 = 1640995200
	// countBits 低 32 位留给当天自增序列。
	countBits = 32
)

// ErrSequenceOverflow 当天序列超出 32 位，拒绝发号而不是回绕。
var ErrSequenceOverflow = errors.New("id sequence overflow")

// IDWorker 全局唯一 ID：高位秒级时间戳 + 低位 Redis 按天自增序列。
//
//	0 | 31 bit 秒数 | 32 bit 序列号
type IDWorker struct {
	rdb rd.Cmdable
	now func() time.Time
}

func NewIDWorker(rdb rd.Cmdable, now func() time.Time) *IDWorker {
	if now == nil {
		now = time.Now
	}
	return &IDWorker{rdb: rdb, now: now}
}

// NextID 生成 namespace 下的下一个 ID。
func (w *IDWorker) NextID(ctx context.Context, namespace string) (int64, error) {
	now := w.now().UTC()
	ts := now.Unix() - idEpoch
	if ts < 0 {
		return 0, fmt.Errorf("next id %s: clock before epoch", namespace)
	}

	// 按天分 key，序列每天从 1 开始
	key := IDCounterKey(namespace, now.Format("2006:01:02"))
	count, err := w.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("next id %s: %w", namespace, err)
	}
	if count > math.MaxUint32 {
		return 0, fmt.Errorf("next id %s: %w", namespace, ErrSequenceOverflow)
	}
	return ts<<countBits | count, nil
}

// SplitID 拆出 ID 的时间部分和序列部分，排查问题时用。
func SplitID(id int64) (time.Time, int64) {
	ts := id >> countBits
	return time.Unix(ts+idEpoch, 0).UTC(), id & math.MaxUint32
}
