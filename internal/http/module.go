// Package http assembles the gin application from feature modules. Modules
// register their own routes; this package owns middleware, health checks and
// the server lifecycle.
package http

import "github.com/gin-gonic/gin"

// RouterContext is handed to each module at registration time.
type RouterContext struct {
	// API is the organization-scoped /api/v1 group. Every request through it
	// carries a validated organization ID.
	API *gin.RouterGroup
	// RouteLimiter is the per-IP rate limit middleware for the hot routing
	// endpoints. Modules attach it to the routes that need it.
	RouteLimiter gin.HandlerFunc
}

// Module is a feature area that contributes routes to the application.
type Module interface {
	Name() string
	RegisterRoutes(rc RouterContext)
}
