package redis

import "fmt"

// ShopCacheKey 店铺详情缓存键（逻辑过期 / 互斥重建共用）。
func ShopCacheKey(shopID uint) string {
	return fmt.Sprintf("cache:shop:%d", shopID)
}

// ShopTypeListKey 店铺类型列表缓存键。
const ShopTypeListKey = "cache:shop-type:list"

// CacheLockKey 缓存重建互斥锁键，与缓存键一一对应。
func CacheLockKey(cacheKey string) string {
	return "lock:" + cacheKey
}

// OrderLockKey 落单 worker 的用户级兜底锁。
func OrderLockKey(userID int64) string {
	return fmt.Sprintf("lock:order:%d", userID)
}

// StockKey 统一约定秒杀券库存键名。
func StockKey(voucherID uint) string {
	return fmt.Sprintf("seckill:stock:%d", voucherID)
}

// SaleWindowKey 秒杀时间窗（hash: begin / end，unix 秒）。
func SaleWindowKey(voucherID uint) string {
	return fmt.Sprintf("seckill:window:%d", voucherID)
}

// PurchasedUsersKey 已获得资格的用户集合，实现一人一单。
func PurchasedUsersKey(voucherID uint) string {
	return fmt.Sprintf("seckill:order:%d", voucherID)
}

// CompensationLockKey 标记某次资格（通常是订单号）是否已做过库存回补。
func CompensationLockKey(admissionID string) string {
	return "seckill:compensated:" + admissionID
}

// OrderStateKey 存储订单异步落库结果（success/failed）。
func OrderStateKey(orderID int64) string {
	return fmt.Sprintf("order:state:%d", orderID)
}

// IDCounterKey 全局 ID 的按天自增计数器。
func IDCounterKey(namespace, day string) string {
	return fmt.Sprintf("icr:%s:%s", namespace, day)
}

// RateLimitKey 购买接口限流键，按用户或 IP。
func RateLimitKey(kind, id string) string {
	return fmt.Sprintf("rate_limit:seckill:%s:%s", kind, id)
}
