package router

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"local_review/internal/middleware"
	"local_review/internal/model"
	"local_review/internal/queue"
	"local_review/internal/service"
	rediskey "local_review/pkg/redis"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ShopService 店铺接口依赖。
type ShopService interface {
	QueryByID(ctx context.Context, id uint) (model.Shop, error)
	Create(ctx context.Context, shop *model.Shop) error
	Update(ctx context.Context, shop model.Shop) error
	ListTypes(ctx context.Context) ([]model.ShopType, error)
}

// VoucherService 秒杀券管理接口依赖。
type VoucherService interface {
	AddSeckillVoucher(ctx context.Context, voucher *model.Voucher, seckill *model.SeckillVoucher) error
	PreloadStock(ctx context.Context, voucherID uint) (int64, error)
	ListByShop(ctx context.Context, shopID uint) ([]model.Voucher, error)
}

// SeckillService 下单接口依赖。
type SeckillService interface {
	AdmitPurchase(ctx context.Context, voucherID uint, userID int64) (int64, error)
	OrderStatus(ctx context.Context, orderID int64) (rediskey.OrderState, error)
	Stock(ctx context.Context, voucherID uint) (int64, error)
}

// Deps 路由所需的全部依赖。
type Deps struct {
	Shops    ShopService
	Vouchers VoucherService
	Seckill  SeckillService

	Redis         rd.Cmdable
	AdminToken    string
	BuyRateLimit  int
	BuyRateWindow time.Duration
	Log           zerolog.Logger
}

// Setup 注册全部 HTTP 路由。
func Setup(r *gin.Engine, d Deps) {
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})

	api := r.Group("/api")
	// shop
	api.GET("/shop/:id", getShop(d.Shops))
	api.POST("/shop", createShop(d.Shops))
	api.PUT("/shop", updateShop(d.Shops))
	api.GET("/shop-type/list", listShopTypes(d.Shops))
	// voucher
	admin := requireAdmin(d.AdminToken)
	api.POST("/voucher/seckill", admin, addSeckillVoucher(d.Vouchers))
	api.POST("/voucher/seckill/:id/preload", admin, preloadStock(d.Vouchers))
	api.GET("/voucher/seckill/:id/stock", getStock(d.Seckill))
	api.GET("/voucher/list/:id", listVouchers(d.Vouchers))
	// seckill order
	api.POST("/voucher-order/seckill/:id",
		middleware.RedisRateLimit(d.Redis, d.BuyRateLimit, d.BuyRateWindow, d.Log),
		seckill(d.Seckill, d.Log))
	api.GET("/voucher-order/:id", getOrderStatus(d.Seckill))
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"code": status, "msg": msg})
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		fail(c, http.StatusBadRequest, "ID无效")
		return 0, false
	}
	return uint(id), true
}

// requireAdmin 简单管理员 token 校验，避免任意调用重置库存。
func requireAdmin(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("X-Admin-Token") != token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "admin token 无效"})
			return
		}
		c.Next()
	}
}

func getShop(shops ShopService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		shop, err := shops.QueryByID(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, service.ErrShopNotFound) {
				fail(c, http.StatusNotFound, "店铺不存在")
				return
			}
			fail(c, http.StatusInternalServerError, err.Error())
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": shop})
	}
}

func createShop(shops ShopService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var shop model.Shop
		if err := c.ShouldBindJSON(&shop); err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
		if shop.Name == "" {
			fail(c, http.StatusBadRequest, "店铺名称必填")
			return
		}
		shop.ID = 0
		if err := shops.Create(c.Request.Context(), &shop); err != nil {
			fail(c, http.StatusInternalServerError, err.Error())
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": shop.ID})
	}
}

// updateShop 先写库再刷新缓存。
func updateShop(shops ShopService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var shop model.Shop
		if err := c.ShouldBindJSON(&shop); err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
		if shop.ID == 0 {
			fail(c, http.StatusBadRequest, "店铺ID不能为空")
			return
		}
		if err := shops.Update(c.Request.Context(), shop); err != nil {
			if errors.Is(err, service.ErrShopNotFound) {
				fail(c, http.StatusNotFound, "店铺不存在")
				return
			}
			fail(c, http.StatusInternalServerError, err.Error())
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0})
	}
}

func listShopTypes(shops ShopService) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := shops.ListTypes(c.Request.Context())
		if err != nil {
			fail(c, http.StatusInternalServerError, err.Error())
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": list})
	}
}

// addSeckillVoucher 创建秒杀券（含时间窗校验），并把库存预热到 Redis。
func addSeckillVoucher(vouchers VoucherService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			ShopID      uint   `json:"shop_id" binding:"required,min=1"`
			Title       string `json:"title" binding:"required"`
			SubTitle    string `json:"sub_title"`
			Rules       string `json:"rules"`
			PayValue    int64  `json:"pay_value" binding:"required,min=1"`
			ActualValue int64  `json:"actual_value" binding:"required,min=1"`
			Stock       int64  `json:"stock" binding:"required,min=1"`
			BeginTime   string `json:"begin_time" binding:"required"`
			EndTime     string `json:"end_time" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
		begin, err := time.Parse(time.RFC3339, req.BeginTime)
		if err != nil {
			fail(c, http.StatusBadRequest, "begin_time 格式错误，请用 RFC3339")
			return
		}
		end, err := time.Parse(time.RFC3339, req.EndTime)
		if err != nil {
			fail(c, http.StatusBadRequest, "end_time 格式错误，请用 RFC3339")
			return
		}
		if !end.After(begin) {
			fail(c, http.StatusBadRequest, "end_time 必须晚于 begin_time")
			return
		}

		v := &model.Voucher{
			ShopID:      req.ShopID,
			Title:       req.Title,
			SubTitle:    req.SubTitle,
			Rules:       req.Rules,
			PayValue:    req.PayValue,
			ActualValue: req.ActualValue,
		}
		sv := &model.SeckillVoucher{Stock: req.Stock, BeginTime: begin, EndTime: end}
		if err := vouchers.AddSeckillVoucher(c.Request.Context(), v, sv); err != nil {
			if errors.Is(err, service.ErrInvalidInput) {
				fail(c, http.StatusBadRequest, err.Error())
				return
			}
			fail(c, http.StatusInternalServerError, err.Error())
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": v.ID})
	}
}

// preloadStock 将 DB 库存重新预热到 Redis。
func preloadStock(vouchers VoucherService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		stock, err := vouchers.PreloadStock(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, service.ErrVoucherMissing) {
				fail(c, http.StatusNotFound, "秒杀券不存在")
				return
			}
			fail(c, http.StatusInternalServerError, err.Error())
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "预热成功", "data": gin.H{"stock": stock}})
	}
}

// listVouchers 按店铺 ID 查询券列表。
func listVouchers(vouchers VoucherService) gin.HandlerFunc {
	return func(c *gin.Context) {
		shopID, ok := parseID(c)
		if !ok {
			return
		}
		list, err := vouchers.ListByShop(c.Request.Context(), shopID)
		if err != nil {
			fail(c, http.StatusInternalServerError, err.Error())
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": list})
	}
}

func getStock(sk SeckillService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		stock, err := sk.Stock(c.Request.Context(), id)
		if err != nil {
			fail(c, http.StatusInternalServerError, err.Error())
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"stock": stock}})
	}
}

// seckill 是秒杀下单入口。
// 资格判断与扣减在 Redis 内原子完成，订单异步落库，这里直接返回订单号。
func seckill(sk SeckillService, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		voucherID, ok := parseID(c)
		if !ok {
			return
		}
		var req struct {
			UserID int64 `json:"user_id" binding:"required,min=1"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}

		orderID, err := sk.AdmitPurchase(c.Request.Context(), voucherID, req.UserID)
		switch {
		case err == nil:
			// id 超过 JS 安全整数范围，按字符串返回
			c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{
				"order_id": strconv.FormatInt(orderID, 10),
				"status":   rediskey.OrderPending,
			}})
		case errors.Is(err, service.ErrSoldOut):
			fail(c, http.StatusBadRequest, "库存不足")
		case errors.Is(err, service.ErrDuplicateOrder):
			fail(c, http.StatusBadRequest, "不能重复下单")
		case errors.Is(err, service.ErrSaleNotActive):
			fail(c, http.StatusBadRequest, "不在秒杀时间段内")
		case errors.Is(err, service.ErrInvalidInput):
			fail(c, http.StatusBadRequest, err.Error())
		case errors.Is(err, queue.ErrQueueFull), errors.Is(err, queue.ErrQueueClosed):
			fail(c, http.StatusServiceUnavailable, "系统繁忙，请稍后再试")
		default:
			log.Error().Err(err).Uint("voucher_id", voucherID).Int64("user_id", req.UserID).Msg("seckill failed")
			fail(c, http.StatusInternalServerError, err.Error())
		}
	}
}

// getOrderStatus 根据订单号查询异步落库状态。
func getOrderStatus(sk SeckillService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || id <= 0 {
			fail(c, http.StatusBadRequest, "订单号无效")
			return
		}
		state, err := sk.OrderStatus(c.Request.Context(), id)
		if err != nil {
			fail(c, http.StatusInternalServerError, err.Error())
			return
		}
		data := gin.H{"order_id": strconv.FormatInt(id, 10), "status": state.Status}
		if state.Reason != "" {
			data["reason"] = state.Reason
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": data})
	}
}
