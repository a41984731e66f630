package model

import "time"

// Shop 店铺。详情走逻辑过期缓存，更新时先写库再刷新缓存。
type Shop struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name      string  `gorm:"size:128;not null" json:"name"`
	TypeID    uint    `gorm:"not null;index" json:"type_id"`
	Images    string  `gorm:"size:1024" json:"images"`
	Area      string  `gorm:"size:128" json:"area"`
	Address   string  `gorm:"size:255;not null" json:"address"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	AvgPrice  int64   `json:"avg_price"` // 单位：分
	Sold      int     `gorm:"not null;default:0" json:"sold"`
	Comments  int     `gorm:"not null;default:0" json:"comments"`
	Score     int     `gorm:"not null;default:0" json:"score"` // 1~50，展示时除以 10
	OpenHours string  `gorm:"size:32" json:"open_hours"`
}

func (Shop) TableName() string { return "shops" }

// ShopType 店铺类型，列表按 Sort 升序展示。
type ShopType struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name string `gorm:"size:32;not null" json:"name"`
	Icon string `gorm:"size:255" json:"icon"`
	Sort int    `gorm:"not null;default:0" json:"sort"`
}

func (ShopType) TableName() string { return "shop_types" }
