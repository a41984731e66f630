package store

import (
	"context"
	"errors"
	"fmt"

	"local_review/internal/model"

	"gorm.io/gorm"
)

type ShopRepository struct {
	db *gorm.DB
}

func NewShopRepository(db *gorm.DB) *ShopRepository {
	return &ShopRepository{db: db}
}

// FindByID 查询店铺，不存在返回 ErrNotFound。
func (r *ShopRepository) FindByID(ctx context.Context, id uint) (model.Shop, error) {
	var shop model.Shop
	if err := r.db.WithContext(ctx).First(&shop, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Shop{}, ErrNotFound
		}
		return model.Shop{}, fmt.Errorf("find shop %d: %w", id, err)
	}
	return shop, nil
}

func (r *ShopRepository) Create(ctx context.Context, shop *model.Shop) error {
	if err := r.db.WithContext(ctx).Create(shop).Error; err != nil {
		return fmt.Errorf("create shop: %w", err)
	}
	return nil
}

// Update 全量更新店铺字段。
func (r *ShopRepository) Update(ctx context.Context, shop model.Shop) error {
	if shop.ID == 0 {
		return ErrShopIDRequired
	}
	res := r.db.WithContext(ctx).Model(&model.Shop{ID: shop.ID}).
		Select("name", "type_id", "images", "area", "address", "x", "y",
			"avg_price", "sold", "comments", "score", "open_hours").
		Updates(&shop)
	if res.Error != nil {
		return fmt.Errorf("update shop %d: %w", shop.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListTypes 店铺类型按 sort 升序。
func (r *ShopRepository) ListTypes(ctx context.Context) ([]model.ShopType, error) {
	var list []model.ShopType
	if err := r.db.WithContext(ctx).Order("sort asc").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list shop types: %w", err)
	}
	return list, nil
}

func (r *ShopRepository) CreateType(ctx context.Context, st *model.ShopType) error {
	if err := r.db.WithContext(ctx).Create(st).Error; err != nil {
		return fmt.Errorf("create shop type: %w", err)
	}
	return nil
}

// ListIDs 返回全部店铺 ID，用于启动预热。
func (r *ShopRepository) ListIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	if err := r.db.WithContext(ctx).Model(&model.Shop{}).Order("id asc").Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list shop ids: %w", err)
	}
	return ids, nil
}
