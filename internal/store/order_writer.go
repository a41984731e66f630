package store

import (
	"context"
	"fmt"

	"local_review/internal/model"

	"gorm.io/gorm"
)

// OrderWriter 秒杀订单落库：一人一单复查 + 条件扣库存 + 插入订单，同一事务。
type OrderWriter struct {
	db *gorm.DB
}

func NewOrderWriter(db *gorm.DB) *OrderWriter {
	return &OrderWriter{db: db}
}

// CreateOrder 任一步失败整体回滚。
// 已有订单返回 ErrDuplicateOrder；DB 库存不足返回 ErrStockInsufficient。
func (w *OrderWriter) CreateOrder(ctx context.Context, order model.VoucherOrder) error {
	return w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Model(&model.VoucherOrder{}).
			Where("user_id = ? AND voucher_id = ?", order.UserID, order.VoucherID).
			Count(&count).Error
		if err != nil {
			return fmt.Errorf("count orders: %w", err)
		}
		if count > 0 {
			return ErrDuplicateOrder
		}

		// stock = stock - 1 WHERE stock > 0，乐观扣减
		res := tx.Model(&model.SeckillVoucher{}).
			Where("voucher_id = ? AND stock > 0", order.VoucherID).
			Update("stock", gorm.Expr("stock - 1"))
		if res.Error != nil {
			return fmt.Errorf("decrement stock: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrStockInsufficient
		}

		if order.Status == 0 {
			order.Status = model.OrderUnpaid
		}
		if order.PayType == 0 {
			order.PayType = 1
		}
		if err := tx.Create(&order).Error; err != nil {
			// 并发写入时由唯一索引兜底
			if isUniqueViolation(err) {
				return ErrDuplicateOrder
			}
			return fmt.Errorf("insert order: %w", err)
		}
		return nil
	})
}

// FindOrder 按用户与券查询订单，不存在返回 ErrNotFound。
func (w *OrderWriter) FindOrder(ctx context.Context, userID int64, voucherID uint) (model.VoucherOrder, error) {
	var list []model.VoucherOrder
	err := w.db.WithContext(ctx).
		Where("user_id = ? AND voucher_id = ?", userID, voucherID).
		Limit(1).
		Find(&list).Error
	if err != nil {
		return model.VoucherOrder{}, fmt.Errorf("find order: %w", err)
	}
	if len(list) == 0 {
		return model.VoucherOrder{}, ErrNotFound
	}
	return list[0], nil
}
