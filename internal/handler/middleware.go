package handler

import (
	"errors"
	"net/http"
	"time"

	"servicemart/internal/apperr"
	"servicemart/internal/config"
	"servicemart/internal/infrastructure/session"
	"servicemart/internal/model"
	"servicemart/internal/service"
	"servicemart/pkg/response"

	"github.com/casbin/casbin/v2"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	ctxSession          = "session"
	ctxSessionDestroyed = "session_destroyed"
	ctxUser             = "current_user"
)

// LoggerMiddleware 请求日志
func LoggerMiddleware(log *zap.Logger) gin.HandlerFunc {
	log = log.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		fields := []zap.Field{
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
		}
		if query != "" {
			fields = append(fields, zap.String("query", query))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Error("request", fields...)
			return
		}
		log.Info("request", fields...)
	}
}

// RecoveryMiddleware 恢复中间件，防止 panic 导致服务崩溃
func RecoveryMiddleware(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error("panic", zap.Any("error", err), zap.String("path", c.Request.URL.Path), zap.Stack("stack"))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"code":    500,
					"message": "服务器内部错误",
				})
			}
		}()
		c.Next()
	}
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// sessionWriter 在响应头发出前保存会话并下发 cookie
type sessionWriter struct {
	gin.ResponseWriter
	commit func()
	done   bool
}

func (w *sessionWriter) flush() {
	if w.done {
		return
	}
	w.done = true
	w.commit()
}

func (w *sessionWriter) WriteHeader(code int) {
	w.flush()
	w.ResponseWriter.WriteHeader(code)
}

func (w *sessionWriter) WriteHeaderNow() {
	w.flush()
	w.ResponseWriter.WriteHeaderNow()
}

func (w *sessionWriter) Write(b []byte) (int, error) {
	w.flush()
	return w.ResponseWriter.Write(b)
}

func (w *sessionWriter) WriteString(s string) (int, error) {
	w.flush()
	return w.ResponseWriter.WriteString(s)
}

// SessionMiddleware 按 cookie 加载 Redis 会话，有改动时写回
func SessionMiddleware(store *session.Store, cfg *config.SessionConfig, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := c.Cookie(cfg.CookieName)
		sess, err := store.Load(c.Request.Context(), id)
		if err != nil {
			log.Error("加载会话失败", zap.Error(err))
			response.ServerError(c, "服务器内部错误")
			c.Abort()
			return
		}
		c.Set(ctxSession, sess)

		w := &sessionWriter{ResponseWriter: c.Writer}
		w.commit = func() {
			if c.GetBool(ctxSessionDestroyed) {
				http.SetCookie(w.ResponseWriter, &http.Cookie{
					Name: cfg.CookieName, Value: "", Path: "/", MaxAge: -1,
					HttpOnly: true, Secure: cfg.Secure, SameSite: http.SameSiteLaxMode,
				})
				return
			}
			if !sess.Dirty() {
				return
			}
			if err := store.Save(c.Request.Context(), sess); err != nil {
				log.Error("保存会话失败", zap.String("session", sess.ID), zap.Error(err))
				return
			}
			http.SetCookie(w.ResponseWriter, &http.Cookie{
				Name: cfg.CookieName, Value: sess.ID, Path: "/", MaxAge: int(store.TTL().Seconds()),
				HttpOnly: true, Secure: cfg.Secure, SameSite: http.SameSiteLaxMode,
			})
		}
		c.Writer = w

		c.Next()
		w.flush()
	}
}

func sessionOf(c *gin.Context) *session.Session {
	v, ok := c.Get(ctxSession)
	if !ok {
		return session.New()
	}
	return v.(*session.Session)
}

func currentUser(c *gin.Context) *model.User {
	return c.MustGet(ctxUser).(*model.User)
}

// RequireLogin 会话中没有有效用户时返回 401
func RequireLogin(accounts *service.AccountService) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := accounts.CurrentUser(c.Request.Context(), sessionOf(c))
		if err != nil {
			if errors.Is(err, apperr.ErrUnauthorized) {
				response.Unauthorized(c, "Please log in.")
				return
			}
			response.ServerError(c, "服务器内部错误")
			c.Abort()
			return
		}
		c.Set(ctxUser, user)
		c.Next()
	}
}

// roleOf 决定 casbin 策略里的主体
func roleOf(u *model.User) string {
	switch {
	case u.IsStaff:
		return "staff"
	case u.IsPartner():
		return "partner"
	default:
		return "customer"
	}
}

// Authorize 按角色和路径做 casbin 鉴权，需放在 RequireLogin 之后
func Authorize(enforcer *casbin.Enforcer, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := currentUser(c)
		role := roleOf(user)
		ok, err := enforcer.Enforce(role, c.Request.URL.Path, c.Request.Method)
		if err != nil {
			log.Error("鉴权失败", zap.Error(err))
			response.ServerError(c, "服务器内部错误")
			c.Abort()
			return
		}
		if !ok {
			log.Warn("拒绝访问",
				zap.Int64("userID", user.ID),
				zap.String("role", role),
				zap.String("path", c.Request.URL.Path))
			response.Forbidden(c, apperr.ErrForbidden.Msg)
			return
		}
		c.Next()
	}
}
