package model

import (
	"time"
)

// VoucherType 区分普通券与秒杀券。
type VoucherType int

const (
	VoucherNormal  VoucherType = 0
	VoucherSeckill VoucherType = 1
)

// Voucher 优惠券基本信息。
type Voucher struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ShopID      uint        `gorm:"not null;index" json:"shop_id"`
	Title       string      `gorm:"size:255;not null" json:"title"`
	SubTitle    string      `gorm:"size:255" json:"sub_title"`
	Rules       string      `gorm:"size:1024" json:"rules"`
	PayValue    int64       `gorm:"not null" json:"pay_value"`    // 支付金额，单位分
	ActualValue int64       `gorm:"not null" json:"actual_value"` // 抵扣金额，单位分
	Type        VoucherType `gorm:"not null;default:0" json:"type"`
	Status      int         `gorm:"not null;default:1" json:"status"` // 1 上架 2 下架 3 过期
}

func (Voucher) TableName() string { return "vouchers" }

// SeckillVoucher 秒杀券库存与时间段，与 Voucher 一对一。
// Stock 是 DB 侧库存真相来源；秒杀实时扣减走 Redis，落单时再条件扣减这里。
type SeckillVoucher struct {
	VoucherID uint      `gorm:"primaryKey;autoIncrement:false" json:"voucher_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Stock     int64     `gorm:"not null;default:0" json:"stock"`
	BeginTime time.Time `gorm:"not null" json:"begin_time"`
	EndTime   time.Time `gorm:"not null" json:"end_time"`
}

func (SeckillVoucher) TableName() string { return "seckill_vouchers" }
