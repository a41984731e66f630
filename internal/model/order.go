package model

import (
	"time"
)

// OrderStatus 订单状态。
type OrderStatus int

const (
	OrderUnpaid   OrderStatus = 1
	OrderPaid     OrderStatus = 2
	OrderVerified OrderStatus = 3
	OrderCanceled OrderStatus = 4
)

// VoucherOrder 秒杀订单。ID 由全局 ID 生成器预先分配，不使用自增。
// (user_id, voucher_id) 唯一索引在库层兜底一人一单。
type VoucherOrder struct {
	ID        int64     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID    int64       `gorm:"not null;uniqueIndex:idx_user_voucher" json:"user_id"`
	VoucherID uint        `gorm:"not null;uniqueIndex:idx_user_voucher" json:"voucher_id"`
	PayType   int         `gorm:"not null;default:1" json:"pay_type"` // 1 余额 2 支付宝 3 微信
	Status    OrderStatus `gorm:"not null;default:1" json:"status"`
}

// 显式实现结构，确定表名
func (VoucherOrder) TableName() string { return "voucher_orders" }

// All 返回需要迁移的全部模型。
func All() []any {
	return []any{&Shop{}, &ShopType{}, &Voucher{}, &SeckillVoucher{}, &VoucherOrder{}}
}
