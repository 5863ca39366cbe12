package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"leadrouter_backend/platform/config"
	"leadrouter_backend/platform/httpkit"
	"leadrouter_backend/platform/logger"
)

// Pinger is the health-check view of the database pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// App is the assembled HTTP application.
type App struct {
	engine *gin.Engine
	server *http.Server
	log    *logger.Logger
}

// NewApp builds the router, wires the shared middleware and registers every
// module.
func NewApp(cfg config.HTTPConfig, env string, db Pinger, log *logger.Logger, modules ...Module) *App {
	if !strings.EqualFold(env, "development") {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(httpkit.RequestID())
	engine.Use(httpkit.RequestLogger(log))
	engine.Use(httpkit.SecurityHeaders())
	engine.Use(corsMiddleware(cfg))

	engine.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			httpkit.Error(c, http.StatusServiceUnavailable, "database unreachable", nil)
			return
		}
		httpkit.OK(c, gin.H{"status": "ok"})
	})

	api := engine.Group("/api/v1")
	api.Use(httpkit.OrganizationScope())

	limiter := httpkit.NewRouteRateLimiter(cfg.GetRouteRatePerMinute(), cfg.GetRouteRateBurst(), log)
	rc := RouterContext{API: api, RouteLimiter: limiter.Middleware()}

	for _, m := range modules {
		m.RegisterRoutes(rc)
		log.Info("module registered", "module", m.Name())
	}

	return &App{
		engine: engine,
		server: &http.Server{
			Addr:              cfg.GetHTTPAddr(),
			Handler:           engine,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}
}

// Run serves until the context is cancelled, then drains connections.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.log.Info("http server listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.log.Info("http server shutting down")
	return a.server.Shutdown(shutdownCtx)
}

// Engine exposes the underlying gin engine for tests.
func (a *App) Engine() *gin.Engine {
	return a.engine
}

func corsMiddleware(cfg config.HTTPConfig) gin.HandlerFunc {
	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-Organization-ID", "X-Request-ID"},
		AllowCredentials: cfg.GetCORSAllowCreds(),
		MaxAge:           12 * time.Hour,
	}
	if cfg.GetCORSAllowAll() {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = cfg.GetCORSOrigins()
	}
	return cors.New(corsCfg)
}
