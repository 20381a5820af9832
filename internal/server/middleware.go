package server

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"
	"golang.org/x/time/rate"

	"github.com/yuriy-kovalchuk/yk-ddns/internal/config"
)

const (
	configKey      = "ykddns.config"
	passwordHeader = "X-Password"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RequestLogger logs one line per request.
func RequestLogger(log logr.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		log.Info("api request",
			"method", method,
			"path", path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		)
	}
}

// RequirePassword loads the configuration and, when it sets a password,
// rejects requests that do not carry it as the password query or form
// parameter or the X-Password header. The loaded configuration is stored in
// the context for the handler.
func RequirePassword(load config.Loader) gin.HandlerFunc {
	return func(c *gin.Context) {
		if load == nil {
			c.Next()
			return
		}
		cfg, err := load()
		if err != nil {
			allowOrigin(c)
			c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
			return
		}
		if cfg.Password != "" && !passwordMatches(requestPassword(c), cfg.Password) {
			c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{Error: "forbidden"})
			return
		}
		c.Set(configKey, cfg)
		c.Next()
	}
}

// RateLimit answers 429 once limiter has no tokens left.
func RateLimit(limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{Error: "too many requests"})
			return
		}
		c.Next()
	}
}

func requestPassword(c *gin.Context) string {
	if p := c.GetHeader(passwordHeader); p != "" {
		return p
	}
	return param(c, "password")
}

func passwordMatches(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// param returns the query parameter key, falling back to the form body.
func param(c *gin.Context, key string) string {
	if v := c.Query(key); v != "" {
		return v
	}
	return c.PostForm(key)
}

func requestConfig(c *gin.Context) *config.Config {
	if v, ok := c.Get(configKey); ok {
		if cfg, ok := v.(*config.Config); ok {
			return cfg
		}
	}
	return nil
}

func allowOrigin(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
}
