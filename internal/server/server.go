// Package server wires the HTTP surface: the proxy path, the management API,
// health and metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/x402gate/x402gate/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func NewEngine(cfg config.Config, log *zap.Logger) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(log))

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": cfg.AppName, "version": cfg.AppVersion})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return engine
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	log = log.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func NewHTTPServer(lc fx.Lifecycle, engine *gin.Engine, cfg config.Config, log *zap.Logger) *http.Server {
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: engine,
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Info("http server listening", zap.String("addr", cfg.ListenAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
	return srv
}

var Module = fx.Module("server",
	fx.Provide(NewEngine),
	fx.Provide(NewHandler),
	fx.Provide(NewHTTPServer),
	fx.Invoke(RegisterRoutes),
	fx.Invoke(func(*http.Server) {}),
)
