package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"agrosmart/internal/log"
	"agrosmart/internal/store"
	"agrosmart/internal/web/api"
	"agrosmart/internal/web/middleware"
	"agrosmart/internal/web/models"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies are the collaborators behind the HTTP surface.
type Dependencies struct {
	Auth interface {
		api.LoginService
		middleware.Authenticator
	}
	Issuer    api.CommandIssuer
	Commands  api.CommandReader
	History   store.HistoryReader
	Telemetry store.TelemetryLister
	Devices   store.DeviceSource
	Topics    api.AckTopics

	Middleware middleware.Options
	Logger     log.Logger
}

type WebServer struct {
	router *gin.Engine
	log    log.Logger

	mu     sync.Mutex
	server *http.Server
}

func NewWebServer(deps Dependencies) *WebServer {
	logger := deps.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	mw := middleware.NewMiddlewareManager(deps.Auth, deps.Devices, deps.Middleware, logger.WithName("middleware"))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, models.HealthResponse{Status: "ok", Time: time.Now().UTC()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api.RegisterAuthRoutes(router, deps.Auth, logger)
	api.RegisterCommandRoutes(router, mw, deps.Issuer, deps.Topics, logger)
	api.RegisterDeviceRoutes(router, mw, deps.Commands, deps.History, deps.Telemetry, logger)

	return &WebServer{router: router, log: logger}
}

// Handler exposes the router, mostly for tests.
func (ws *WebServer) Handler() http.Handler {
	return ws.router
}

// Start serves on addr until Shutdown is called.
func (ws *WebServer) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           ws.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	ws.mu.Lock()
	ws.server = srv
	ws.mu.Unlock()

	ws.log.Info("http server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (ws *WebServer) Shutdown(ctx context.Context) error {
	ws.mu.Lock()
	srv := ws.server
	ws.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func requestLogger(logger log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}
