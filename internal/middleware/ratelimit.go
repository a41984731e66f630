package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	rediskey "local_review/pkg/redis"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// rateLimitScript：滑动窗口限流（原子操作）
// KEYS[1]=限流key，ARGV[1]=当前毫秒，ARGV[2]=窗口开始毫秒，ARGV[3]=窗口秒数，ARGV[4]=member，ARGV[5]=上限
// 返回：当前窗口内的请求数，超限返回 -1
var rateLimitScript = rd.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local windowStart = tonumber(ARGV[2])
local windowSec = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '0', windowStart)

local count = redis.call('ZCARD', key)
if count < tonumber(ARGV[5]) then
  redis.call('ZADD', key, now, member)
  redis.call('EXPIRE', key, windowSec)
  return count + 1
end
return -1
`)

// RedisRateLimit 按 body 中的 user_id 限流，解析不到时按 IP。
// Redis 出错时放行。
func RedisRateLimit(rdb rd.Cmdable, limit int, window time.Duration, log zerolog.Logger) gin.HandlerFunc {
	windowSec := int64(window / time.Second)
	if windowSec < 1 {
		windowSec = 1
	}
	return func(c *gin.Context) {
		var key string
		if userID, err := extractUserID(c); err == nil && userID > 0 {
			key = rediskey.RateLimitKey("user", strconv.FormatInt(userID, 10))
		} else {
			key = rediskey.RateLimitKey("ip", c.ClientIP())
		}

		now := time.Now().UnixMilli()
		windowStart := now - windowSec*1000
		res, err := rateLimitScript.Run(c.Request.Context(), rdb, []string{key},
			now, windowStart, windowSec, uuid.NewString(), limit).Int()
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("rate limit unavailable, letting request through")
			c.Next()
			return
		}

		if res < 0 {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code": 429,
				"msg":  "请求过于频繁，请稍后再试",
			})
			return
		}
		c.Next()
	}
}

// extractUserID 从请求 body 中解析 user_id，并重置 body 供后续 handler 读取。
func extractUserID(c *gin.Context) (int64, error) {
	if c.Request.Body == nil {
		return 0, io.EOF
	}
	bodyBytes, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return 0, err
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

	var req struct {
		UserID int64 `json:"user_id"`
	}
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		return 0, err
	}
	return req.UserID, nil
}
