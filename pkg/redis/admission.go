package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// AdmitCode 是秒杀资格脚本的返回码。
type AdmitCode int

const (
	AdmitGranted   AdmitCode = 0 // 获得资格，库存已扣、用户已占位
	AdmitSoldOut   AdmitCode = 1 // 库存不足
	AdmitDuplicate AdmitCode = 2 // 重复下单
	AdmitNotActive AdmitCode = 3 // 不在秒杀时间段内（或未预热）
)

func (c AdmitCode) String() string {
	switch c {
	case AdmitGranted:
		return "granted"
	case AdmitSoldOut:
		return "sold_out"
	case AdmitDuplicate:
		return "duplicate"
	case AdmitNotActive:
		return "not_active"
	default:
		return "unknown(" + strconv.Itoa(int(c)) + ")"
	}
}

// admitScript：时间窗校验 → 一人一单校验 → 库存校验 → 扣库存 + 记录用户，整体原子执行。
// KEYS[1]=库存 KEYS[2]=已购用户集合 KEYS[3]=时间窗 hash
// ARGV[1]=userId ARGV[2]=当前 unix 秒
// 先判重复再判库存：同一用户并发重复请求统一返回 2。
var admitScript = rd.NewScript(`
local begin = redis.call('HGET', KEYS[3], 'begin')
local finish = redis.call('HGET', KEYS[3], 'end')
if (not begin) or (not finish) then
  return 3
end
local now = tonumber(ARGV[2])
if now < tonumber(begin) or now > tonumber(finish) then
  return 3
end
if redis.call('SISMEMBER', KEYS[2], ARGV[1]) == 1 then
  return 2
end
local stock = tonumber(redis.call('GET', KEYS[1]) or '0')
if stock <= 0 then
  return 1
end
redis.call('DECR', KEYS[1])
redis.call('SADD', KEYS[2], ARGV[1])
return 0
`)

// compensateScript 通过 SETNX 保证同一订单号只回补一次：库存 +1，并撤销用户占位。
// 库存键已过期（活动结束）时只撤销占位，不重建没有 TTL 的库存键。
var compensateScript = rd.NewScript(`
if redis.call('SETNX', KEYS[1], '1') == 1 then
  redis.call('EXPIRE', KEYS[1], tonumber(ARGV[2]))
  if redis.call('EXISTS', KEYS[2]) == 1 then
    redis.call('INCR', KEYS[2])
  end
  redis.call('SREM', KEYS[3], ARGV[1])
  return 1
end
return 0
`)

// Admit 在一次 Redis 往返中完成资格判断与扣减。
func Admit(ctx context.Context, rdb rd.Cmdable, voucherID uint, userID int64, now time.Time) (AdmitCode, error) {
	keys := []string{StockKey(voucherID), PurchasedUsersKey(voucherID), SaleWindowKey(voucherID)}
	n, err := admitScript.Run(ctx, rdb, keys, userID, now.Unix()).Int()
	if err != nil {
		return 0, fmt.Errorf("admit voucher %d user %d: %w", voucherID, userID, err)
	}
	return AdmitCode(n), nil
}

// CompensateAdmission 幂等回补，admissionID 标识这次资格（订单号，未发号时用随机 id）：
// - 首次回补返回 true
// - 重复回补返回 false（不会重复加库存）
func CompensateAdmission(ctx context.Context, rdb rd.Cmdable, admissionID string, voucherID uint, userID int64) (bool, error) {
	const guardTTLSeconds = int64((7 * 24 * time.Hour) / time.Second)
	keys := []string{CompensationLockKey(admissionID), StockKey(voucherID), PurchasedUsersKey(voucherID)}
	n, err := compensateScript.Run(ctx, rdb, keys, userID, guardTTLSeconds).Int()
	if err != nil {
		return false, fmt.Errorf("compensate voucher %d user %d: %w", voucherID, userID, err)
	}
	return n == 1, nil
}

// PreloadInventory 将库存与时间窗预热到 Redis，供高并发扣减。
// 已购用户集合保留，重复预热不会放开一人一单；所有键在活动结束一天后过期。
func PreloadInventory(ctx context.Context, rdb rd.Cmdable, voucherID uint, stock int64, begin, end time.Time) error {
	if stock < 0 {
		return fmt.Errorf("preload voucher %d: negative stock %d", voucherID, stock)
	}
	expireAt := end.Add(24 * time.Hour)
	pipe := rdb.TxPipeline()
	pipe.Set(ctx, StockKey(voucherID), stock, 0)
	pipe.HSet(ctx, SaleWindowKey(voucherID), "begin", begin.Unix(), "end", end.Unix())
	pipe.ExpireAt(ctx, StockKey(voucherID), expireAt)
	pipe.ExpireAt(ctx, SaleWindowKey(voucherID), expireAt)
	pipe.ExpireAt(ctx, PurchasedUsersKey(voucherID), expireAt)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("preload voucher %d: %w", voucherID, err)
	}
	return nil
}

// GetStock 查询 Redis 中的实时库存，未预热返回 0。
func GetStock(ctx context.Context, rdb rd.Cmdable, voucherID uint) (int64, error) {
	val, err := rdb.Get(ctx, StockKey(voucherID)).Int64()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return 0, nil
		}
		return 0, err
	}
	return val, nil
}
