package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	rd "github.com/redis/go-redis/v9"
)

const (
	// OrderPending 已获得资格、尚未落库（Redis 中没有状态记录）。
	OrderPending = "pending"
	// OrderSuccess 异步落库成功。
	OrderSuccess = "success"
	// OrderFailed 异步落库失败（已终态，只记录原因供排查）。
	OrderFailed = "failed"
)

// OrderStateTTL 状态记录保留时长。
const OrderStateTTL = 7 * 24 * time.Hour

// OrderState 对应 Redis 内的订单状态结构。
type OrderState struct {
	OrderID int64
	Status  string
	Reason  string
}

// GetOrderState 查询订单落库状态。found=false 表示 worker 还没处理到。
func GetOrderState(ctx context.Context, rdb rd.Cmdable, orderID int64) (OrderState, bool, error) {
	m, err := rdb.HGetAll(ctx, OrderStateKey(orderID)).Result()
	if err != nil {
		return OrderState{}, false, err
	}
	if len(m) == 0 {
		return OrderState{OrderID: orderID, Status: OrderPending}, false, nil
	}

	out := OrderState{
		OrderID: orderID,
		Status:  m["status"],
		Reason:  m["reason"],
	}
	if out.Status == "" {
		out.Status = OrderPending
	}
	return out, true, nil
}

// PutOrderState 更新订单状态，并刷新 key TTL。
func PutOrderState(ctx context.Context, rdb rd.Cmdable, orderID int64, status, reason string) error {
	key := OrderStateKey(orderID)
	pipe := rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"order_id", strconv.FormatInt(orderID, 10),
		"status", status,
		"reason", reason,
	)
	pipe.Expire(ctx, key, OrderStateTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("put order state %d: %w", orderID, err)
	}
	return nil
}
