package store

import (
	"context"
	"errors"
	"fmt"

	"local_review/internal/model"

	"gorm.io/gorm"
)

type VoucherRepository struct {
	db *gorm.DB
}

func NewVoucherRepository(db *gorm.DB) *VoucherRepository {
	return &VoucherRepository{db: db}
}

// CreateSeckill 在一个事务里写入券与秒杀信息，voucher.ID 回填后关联到 seckill。
func (r *VoucherRepository) CreateSeckill(ctx context.Context, voucher *model.Voucher, seckill *model.SeckillVoucher) error {
	voucher.Type = model.VoucherSeckill
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(voucher).Error; err != nil {
			return fmt.Errorf("create voucher: %w", err)
		}
		seckill.VoucherID = voucher.ID
		if err := tx.Create(seckill).Error; err != nil {
			return fmt.Errorf("create seckill voucher: %w", err)
		}
		return nil
	})
}

// FindSeckill 查询秒杀券库存与时间段。
func (r *VoucherRepository) FindSeckill(ctx context.Context, voucherID uint) (model.SeckillVoucher, error) {
	if voucherID == 0 {
		return model.SeckillVoucher{}, ErrVoucherIDRequired
	}
	var sv model.SeckillVoucher
	if err := r.db.WithContext(ctx).First(&sv, "voucher_id = ?", voucherID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.SeckillVoucher{}, ErrNotFound
		}
		return model.SeckillVoucher{}, fmt.Errorf("find seckill voucher %d: %w", voucherID, err)
	}
	return sv, nil
}

// ListByShop 查询店铺下的券。
func (r *VoucherRepository) ListByShop(ctx context.Context, shopID uint) ([]model.Voucher, error) {
	var list []model.Voucher
	if err := r.db.WithContext(ctx).Where("shop_id = ?", shopID).Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list vouchers of shop %d: %w", shopID, err)
	}
	return list, nil
}
