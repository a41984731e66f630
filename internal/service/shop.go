package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"local_review/internal/cache"
	"local_review/internal/model"
	"local_review/internal/store"
	rediskey "local_review/pkg/redis"

	"github.com/rs/zerolog"
)

// ShopStore 店铺数据源，由 store.ShopRepository 实现。
type ShopStore interface {
	FindByID(ctx context.Context, id uint) (model.Shop, error)
	Create(ctx context.Context, shop *model.Shop) error
	Update(ctx context.Context, shop model.Shop) error
	ListIDs(ctx context.Context) ([]uint, error)
	ListTypes(ctx context.Context) ([]model.ShopType, error)
}

// ShopService 店铺读写。详情是热点数据，默认走逻辑过期（需要预热）；
// 类型列表走空值缓存。
type ShopService struct {
	shops    ShopStore
	cache    *cache.Client
	policy   cache.Policy
	typesTTL time.Duration
	log      zerolog.Logger
}

func NewShopService(shops ShopStore, c *cache.Client, policy cache.Policy, typesTTL time.Duration, log zerolog.Logger) *ShopService {
	return &ShopService{
		shops:    shops,
		cache:    c,
		policy:   policy,
		typesTTL: typesTTL,
		log:      log.With().Str("component", "shop").Logger(),
	}
}

func (s *ShopService) loader(id uint) cache.Loader[model.Shop] {
	return func(ctx context.Context) (model.Shop, error) {
		shop, err := s.shops.FindByID(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return model.Shop{}, cache.ErrNotFound
		}
		return shop, err
	}
}

// QueryByID 查询店铺详情。
func (s *ShopService) QueryByID(ctx context.Context, id uint) (model.Shop, error) {
	if id == 0 {
		return model.Shop{}, ErrInvalidInput
	}
	shop, err := cache.Get(ctx, s.cache, rediskey.ShopCacheKey(id), s.loader(id), s.policy)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return model.Shop{}, ErrShopNotFound
		}
		return model.Shop{}, err
	}
	return shop, nil
}

// Create 新建店铺并写入缓存。
func (s *ShopService) Create(ctx context.Context, shop *model.Shop) error {
	if err := s.shops.Create(ctx, shop); err != nil {
		return err
	}
	// 覆盖可能存在的空值占位
	return s.refresh(ctx, *shop)
}

// Update 先写库，再处理缓存。
// 逻辑过期模式下缓存没有物理 TTL，删除后只能等预热，所以直接覆盖为新值。
func (s *ShopService) Update(ctx context.Context, shop model.Shop) error {
	if shop.ID == 0 {
		return ErrInvalidInput
	}
	if err := s.shops.Update(ctx, shop); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrShopNotFound
		}
		return err
	}
	if s.policy.Mode != cache.LogicalExpire {
		return s.cache.Delete(ctx, rediskey.ShopCacheKey(shop.ID))
	}
	fresh, err := s.shops.FindByID(ctx, shop.ID)
	if err != nil {
		return fmt.Errorf("reload shop %d: %w", shop.ID, err)
	}
	return s.refresh(ctx, fresh)
}

func (s *ShopService) refresh(ctx context.Context, shop model.Shop) error {
	key := rediskey.ShopCacheKey(shop.ID)
	if s.policy.Mode == cache.LogicalExpire {
		return s.cache.SetWithLogicalExpire(ctx, key, shop, s.policy.Window)
	}
	return s.cache.Delete(ctx, key)
}

// Preheat 把单个店铺写入逻辑过期缓存。
func (s *ShopService) Preheat(ctx context.Context, id uint) error {
	shop, err := s.shops.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrShopNotFound
		}
		return err
	}
	return s.cache.SetWithLogicalExpire(ctx, rediskey.ShopCacheKey(id), shop, s.policy.Window)
}

// PreheatAll 启动时预热全部店铺，返回成功条数。单条失败不中断。
func (s *ShopService) PreheatAll(ctx context.Context) (int, error) {
	ids, err := s.shops.ListIDs(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if err := s.Preheat(ctx, id); err != nil {
			s.log.Warn().Err(err).Uint("shop_id", id).Msg("preheat shop")
			continue
		}
		n++
	}
	s.log.Info().Int("shops", n).Int("total", len(ids)).Msg("shop cache preheated")
	return n, nil
}

// ListTypes 店铺类型列表，变更极少，普通 TTL 即可。
func (s *ShopService) ListTypes(ctx context.Context) ([]model.ShopType, error) {
	list, err := cache.QueryWithPassThrough(ctx, s.cache, rediskey.ShopTypeListKey,
		func(ctx context.Context) ([]model.ShopType, error) {
			return s.shops.ListTypes(ctx)
		}, s.typesTTL)
	if errors.Is(err, cache.ErrNotFound) || (err == nil && list == nil) {
		return []model.ShopType{}, nil
	}
	return list, err
}
