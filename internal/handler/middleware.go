package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"opay/internal/backend"
	"opay/internal/metrics"
	"opay/pkg/response"
)

const (
	ctxUserID = "user_id"
	ctxToken  = "access_token"
)

// LoggerMiddleware 访问日志 + 请求计数
func LoggerMiddleware(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if query != "" {
			path = path + "?" + query
		}

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()

		log.Info("http",
			zap.Int("status", status),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("user_id", c.GetString(ctxUserID)),
		)
	}
}

// RecoveryMiddleware 恢复中间件，防止 panic 导致服务崩溃
func RecoveryMiddleware(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error("panic", zap.Any("error", err), zap.String("path", c.Request.URL.Path), zap.Stack("stack"))
				response.Abort(c, http.StatusInternalServerError, response.CodeServerError, "服务器内部错误")
			}
		}()
		c.Next()
	}
}

// CORSMiddleware 跨域中间件，origins 为空时允许任意来源
func CORSMiddleware(origins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case len(allowed) == 0 || allowed["*"]:
			c.Header("Access-Control-Allow-Origin", "*")
		case allowed[origin]:
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, Idempotency-Key")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// UserResolver 用 access token 换用户，*backend.Client 实现
type UserResolver interface {
	GetUser(ctx context.Context, accessToken string) (*backend.User, error)
}

// AuthMiddleware 校验 Bearer token，用户 ID 写入上下文
//
// 浏览器的 websocket 不能带 Authorization 头，摄像头连接改用 ?access_token=
func AuthMiddleware(users UserResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		if token == "" {
			token = c.Query("access_token")
		}
		if token == "" {
			response.Abort(c, http.StatusUnauthorized, response.CodeUnauthorized, "未登录")
			return
		}

		user, err := users.GetUser(c.Request.Context(), token)
		if err != nil {
			var be *backend.Error
			if errors.As(err, &be) && (be.Status == http.StatusUnauthorized || be.Status == http.StatusForbidden) {
				response.Abort(c, http.StatusUnauthorized, response.CodeUnauthorized, "登录已过期")
				return
			}
			response.Abort(c, http.StatusBadGateway, response.CodeServerError, "认证服务不可用")
			return
		}

		c.Set(ctxUserID, user.ID)
		c.Set(ctxToken, token)
		c.Next()
	}
}

// AdminChecker 管理员角色校验，service.AdminService 实现
type AdminChecker interface {
	IsAdmin(ctx context.Context, userID string) (bool, error)
}

// AdminMiddleware 管理台接口只对 admin 角色开放
func AdminMiddleware(admins AdminChecker, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(ctxUserID)
		ok, err := admins.IsAdmin(c.Request.Context(), userID)
		if err != nil {
			log.Error("校验管理员角色失败", zap.String("user_id", userID), zap.Error(err))
			response.Abort(c, http.StatusBadGateway, response.CodeServerError, "角色校验失败")
			return
		}
		if !ok {
			response.Abort(c, http.StatusForbidden, response.CodeForbidden, "没有权限")
			return
		}
		c.Next()
	}
}

// RateLimiter 按用户限流，只挂在写接口上，防止连点重复提交
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
	log      *zap.Logger
}

func NewRateLimiter(perSecond float64, burst int, log *zap.Logger) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(perSecond),
		burst:    burst,
		log:      log,
	}
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	l, ok := rl.limiters[key]
	if !ok {
		l = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[key] = l
	}
	return l
}

func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetString(ctxUserID)
		if key == "" {
			key = c.ClientIP()
		}
		if !rl.limiter(key).Allow() {
			rl.log.Warn("请求过于频繁", zap.String("key", key), zap.String("path", c.Request.URL.Path))
			response.Abort(c, http.StatusTooManyRequests, response.CodeTooManyRequests, "操作太频繁，请稍后再试")
			return
		}
		c.Next()
	}
}

// Cleanup 限流器数量过多时整体重建
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if len(rl.limiters) > 10000 {
		rl.limiters = make(map[string]*rate.Limiter)
	}
}

// StartCleanup 定期清理，ctx 取消后退出
func (rl *RateLimiter) StartCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.Cleanup()
			}
		}
	}()
}

func userID(c *gin.Context) string {
	return c.GetString(ctxUserID)
}
