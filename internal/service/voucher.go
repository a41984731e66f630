package service

import (
	"context"
	"errors"
	"fmt"

	"local_review/internal/model"
	"local_review/internal/store"
	rediskey "local_review/pkg/redis"

	rd "github.com/redis/go-redis/v9"
)

// VoucherStore 由 store.VoucherRepository 实现。
type VoucherStore interface {
	CreateSeckill(ctx context.Context, voucher *model.Voucher, seckill *model.SeckillVoucher) error
	FindSeckill(ctx context.Context, voucherID uint) (model.SeckillVoucher, error)
	ListByShop(ctx context.Context, shopID uint) ([]model.Voucher, error)
}

type VoucherService struct {
	vouchers VoucherStore
	rdb      rd.Cmdable
}

func NewVoucherService(vouchers VoucherStore, rdb rd.Cmdable) *VoucherService {
	return &VoucherService{vouchers: vouchers, rdb: rdb}
}

// AddSeckillVoucher 新增秒杀券：落库后立即把库存和时间窗写入 Redis。
func (s *VoucherService) AddSeckillVoucher(ctx context.Context, voucher *model.Voucher, seckill *model.SeckillVoucher) error {
	if voucher.ShopID == 0 || voucher.Title == "" {
		return fmt.Errorf("%w: shop_id and title are required", ErrInvalidInput)
	}
	if seckill.Stock <= 0 {
		return fmt.Errorf("%w: stock must be > 0", ErrInvalidInput)
	}
	if !seckill.EndTime.After(seckill.BeginTime) {
		return fmt.Errorf("%w: end_time must be after begin_time", ErrInvalidInput)
	}
	if err := s.vouchers.CreateSeckill(ctx, voucher, seckill); err != nil {
		return err
	}
	return rediskey.PreloadInventory(ctx, s.rdb, voucher.ID, seckill.Stock, seckill.BeginTime, seckill.EndTime)
}

// PreloadStock 按 DB 当前库存重新预热 Redis，返回写入的库存。
// 已有购买资格的用户集合不会清空。
func (s *VoucherService) PreloadStock(ctx context.Context, voucherID uint) (int64, error) {
	sv, err := s.vouchers.FindSeckill(ctx, voucherID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, ErrVoucherMissing
		}
		return 0, err
	}
	if err := rediskey.PreloadInventory(ctx, s.rdb, voucherID, sv.Stock, sv.BeginTime, sv.EndTime); err != nil {
		return 0, err
	}
	return sv.Stock, nil
}

// ListByShop 店铺下的券列表（普通券与秒杀券）。
func (s *VoucherService) ListByShop(ctx context.Context, shopID uint) ([]model.Voucher, error) {
	if shopID == 0 {
		return nil, ErrInvalidInput
	}
	list, err := s.vouchers.ListByShop(ctx, shopID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []model.Voucher{}
	}
	return list, nil
}
