package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"local_review/internal/clock"
	"local_review/internal/queue"
	rediskey "local_review/pkg/redis"

	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// orderIDNamespace 订单号的 ID 命名空间。
const orderIDNamespace = "order"

// compensateTimeout 回补与请求 ctx 解耦，客户端断开也要完成。
const compensateTimeout = 3 * time.Second

// SeckillService 秒杀下单入口：
// 1. Redis Lua 原子判断时间窗 / 一人一单 / 库存，并扣减
// 2. 发号
// 3. 投递进程内队列，由 worker 异步落库
// 发号或入队失败时幂等回补 Redis 库存与用户占位，错误同步返回给调用方。
type SeckillService struct {
	rdb   rd.Cmdable
	ids   *rediskey.IDWorker
	queue *queue.Queue
	clock clock.Clock
	log   zerolog.Logger
}

func NewSeckillService(rdb rd.Cmdable, ids *rediskey.IDWorker, q *queue.Queue, clk clock.Clock, log zerolog.Logger) *SeckillService {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &SeckillService{
		rdb:   rdb,
		ids:   ids,
		queue: q,
		clock: clk,
		log:   log.With().Str("component", "seckill").Logger(),
	}
}

// AdmitPurchase 返回订单号。订单号返回时尚未落库（乐观受理）。
func (s *SeckillService) AdmitPurchase(ctx context.Context, voucherID uint, userID int64) (int64, error) {
	if voucherID == 0 || userID <= 0 {
		return 0, ErrInvalidInput
	}

	now := s.clock.Now()
	code, err := rediskey.Admit(ctx, s.rdb, voucherID, userID, now)
	if err != nil {
		return 0, err
	}
	switch code {
	case rediskey.AdmitGranted:
	case rediskey.AdmitSoldOut:
		return 0, ErrSoldOut
	case rediskey.AdmitDuplicate:
		return 0, ErrDuplicateOrder
	case rediskey.AdmitNotActive:
		return 0, ErrSaleNotActive
	default:
		return 0, fmt.Errorf("admit voucher %d: unexpected code %v", voucherID, code)
	}

	orderID, err := s.ids.NextID(ctx, orderIDNamespace)
	if err != nil {
		return 0, s.rollback(ctx, uuid.NewString(), voucherID, userID, err)
	}

	task := queue.OrderTask{ID: orderID, UserID: userID, VoucherID: voucherID, CreatedAt: now}
	if err := s.queue.Enqueue(task); err != nil {
		return 0, s.rollback(ctx, strconv.FormatInt(orderID, 10), voucherID, userID, err)
	}
	return orderID, nil
}

// rollback 撤销已提交的资格，返回原因错误（回补失败时一并包装）。
func (s *SeckillService) rollback(ctx context.Context, admissionID string, voucherID uint, userID int64, cause error) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
	defer cancel()

	done, err := rediskey.CompensateAdmission(cctx, s.rdb, admissionID, voucherID, userID)
	if err != nil {
		s.log.Error().Err(err).AnErr("cause", cause).
			Str("admission_id", admissionID).
			Uint("voucher_id", voucherID).
			Int64("user_id", userID).
			Msg("compensation failed, redis stock is one short")
		return errors.Join(cause, err)
	}
	s.log.Warn().AnErr("cause", cause).
		Str("admission_id", admissionID).
		Bool("compensated", done).
		Msg("admission rolled back")
	return cause
}

// OrderStatus 查询订单异步处理状态；worker 未处理到时为 pending。
func (s *SeckillService) OrderStatus(ctx context.Context, orderID int64) (rediskey.OrderState, error) {
	state, _, err := rediskey.GetOrderState(ctx, s.rdb, orderID)
	if err != nil {
		return rediskey.OrderState{}, fmt.Errorf("order status %d: %w", orderID, err)
	}
	return state, nil
}

// Stock 查询 Redis 中的实时库存。
func (s *SeckillService) Stock(ctx context.Context, voucherID uint) (int64, error) {
	return rediskey.GetStock(ctx, s.rdb, voucherID)
}
