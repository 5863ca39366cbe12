// Package httpkit provides HTTP middleware infrastructure.
// This is part of the platform layer and contains no business logic.
package httpkit

import (
	"net/http"
	"sync"
	"time"

	"leadrouter_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	// ContextOrgIDKey is the gin context key for the organization ID.
	ContextOrgIDKey = "orgID"
	// ContextRequestIDKey is the gin context key for the request ID.
	ContextRequestIDKey = "requestID"

	// OrgIDHeader carries the organization scope. Authentication is handled
	// upstream; this engine trusts the gateway-injected header.
	OrgIDHeader = "X-Organization-ID"

	requestIDHeader = "X-Request-ID"
)

// RequestLogger logs HTTP requests with timing.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		clientIP := c.ClientIP()

		log.HTTPRequest(c.Request.Method, path, status, float64(latency.Milliseconds()), clientIP)
	}
}

// RequestID ensures every request carries a request ID, generating one when
// the caller did not supply it.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ContextRequestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// OrganizationScope extracts the organization ID from the request header and
// stores it on the context. Requests without a valid organization are rejected
// before reaching any handler.
func OrganizationScope() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(OrgIDHeader)
		if raw == "" {
			Error(c, http.StatusBadRequest, "missing organization header", nil)
			c.Abort()
			return
		}

		orgID, err := uuid.Parse(raw)
		if err != nil {
			Error(c, http.StatusBadRequest, "invalid organization header", nil)
			c.Abort()
			return
		}

		c.Set(ContextOrgIDKey, orgID)
		c.Next()
	}
}

// OrgID returns the organization ID previously stored by OrganizationScope.
func OrgID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(ContextOrgIDKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

// SecurityHeaders adds security headers to responses.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Content-Security-Policy", "default-src 'self'")

		if c.Request.TLS != nil {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}

// IPRateLimiter manages per-IP rate limiters.
type IPRateLimiter struct {
	limiters sync.Map
	rate     rate.Limit
	burst    int
	log      *logger.Logger
}

// NewIPRateLimiter creates a new IP-based rate limiter.
func NewIPRateLimiter(r rate.Limit, burst int, log *logger.Logger) *IPRateLimiter {
	return &IPRateLimiter{
		rate:  r,
		burst: burst,
		log:   log,
	}
}

func (i *IPRateLimiter) getLimiter(ip string) *rate.Limiter {
	limiter, ok := i.limiters.Load(ip)
	if !ok {
		newLimiter := rate.NewLimiter(i.rate, i.burst)
		limiter, _ = i.limiters.LoadOrStore(ip, newLimiter)
	}
	return limiter.(*rate.Limiter)
}

// Middleware returns a gin middleware enforcing the per-IP limit.
func (i *IPRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !i.getLimiter(ip).Allow() {
			if i.log != nil {
				i.log.RateLimitExceeded(ip, c.Request.URL.Path)
			}
			Error(c, http.StatusTooManyRequests, "rate limit exceeded", nil)
			c.Abort()
			return
		}
		c.Next()
	}
}

// NewRouteRateLimiter builds the limiter applied to routing endpoints.
// perMinute requests per client IP with the given burst.
func NewRouteRateLimiter(perMinute float64, burst int, log *logger.Logger) *IPRateLimiter {
	return NewIPRateLimiter(rate.Limit(perMinute/60.0), burst, log)
}
