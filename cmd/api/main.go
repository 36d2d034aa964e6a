// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/paper-profile/internal/auth"
	"github.com/yourusername/paper-profile/internal/config"
	"github.com/yourusername/paper-profile/internal/document"
	"github.com/yourusername/paper-profile/internal/jobs"
	"github.com/yourusername/paper-profile/internal/logging"
	"github.com/yourusername/paper-profile/internal/metrics"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load config")
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	tokens, err := auth.NewTokenService([]byte(cfg.TokenSecret), time.Duration(cfg.TokenTTLSeconds)*time.Second)
	if err != nil {
		logger.WithError(err).Fatal("failed to create token service")
	}
	authManager := auth.NewManager(tokens, cfg.Credentials(), logger)

	jobsMetrics := metrics.NewJobs()
	jobsMetrics.Registry().MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	jobManager, err := setupJobs(cfg, logger, jobsMetrics)
	if err != nil {
		logger.WithError(err).Fatal("failed to set up jobs")
	}

	// ワーカーはシグナルとは独立に動かし、HTTP サーバーの停止後に止める
	jobManager.StartWorkers(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	router := newRouter(cfg, logger, authManager, jobManager, jobsMetrics)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"addr":  server.Addr,
			"mode":  cfg.GinMode,
			"queue": cfg.QueueBackend,
			"store": cfg.StoreBackend,
		}).Info("starting API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("server stopped unexpectedly")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := shutdown(shutdownCtx, server, jobManager); err != nil {
		logger.WithError(err).Warn("shutdown did not complete cleanly")
	}
}

// shutdown は HTTP サーバーを先に停止し、受け付け済みのジョブを処理し終えてからワーカーを止めます。
func shutdown(ctx context.Context, server *http.Server, jobManager *jobs.Manager) error {
	var errs []error
	if err := server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to shut down http server: %w", err))
	}
	if err := jobManager.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop job workers: %w", err))
	}
	return errors.Join(errs...)
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "paper-profile-api",
		"version": "0.1.0",
	})
}

// newRouter はミドルウェアとルーティングを設定したルーターを返します。
func newRouter(cfg *config.Config, logger logrus.FieldLogger, authManager *auth.Manager, jobManager *jobs.Manager, jobsMetrics *metrics.Jobs) *gin.Engine {
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.Recovery(), requestLogger(logger))

	// CORS許可オリジンを設定（カンマ区切りの文字列を配列に変換）
	if origins := splitOrigins(cfg.CORSAllowedOrigins); len(origins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = origins
		corsConfig.AllowHeaders = []string{
			"Origin",
			"Content-Type",
			"Accept",
			"Authorization",
		}
		// ポーリング側がジョブ状態と再試行間隔を読めるように公開
		corsConfig.ExposeHeaders = []string{"X-Job-Status", "Retry-After"}
		router.Use(cors.New(corsConfig))
	}

	setupRoutes(router, cfg, authManager, jobManager, jobsMetrics)
	return router
}

// setupRoutes は認証とジョブ周りの配線を行います。
func setupRoutes(router *gin.Engine, cfg *config.Config, authManager *auth.Manager, jobManager *jobs.Manager, jobsMetrics *metrics.Jobs) {
	// まずは誰でも叩けるヘルスチェックを登録
	router.GET("/health", handleHealth)
	router.GET("/metrics", gin.WrapH(jobsMetrics.Handler()))

	api := router.Group("/api")
	{
		authRoutes := api.Group("/auth")
		authRoutes.POST("/token", authManager.IssueToken)
	}

	limits := document.Limits{
		MaxSize:  cfg.MaxDocumentSize,
		MaxPages: cfg.MaxPages,
	}
	protected := router.Group("")
	protected.Use(authManager.RequireToken())
	{
		protected.POST("/submit", jobs.SubmitHandler(jobManager, jobs.HandlerOptions{Limits: limits}))
		protected.GET("/retrieve/:id", jobs.RetrieveHandler(jobManager))
	}
}

// requestLogger はアクセスログを logrus に出力します。
func requestLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		fields := logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"elapsed": time.Since(started).String(),
			"client":  c.ClientIP(),
		}
		if user, ok := auth.CurrentUser(c); ok {
			fields["user"] = user
		}
		entry := logger.WithFields(fields)
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("request finished")
			return
		}
		entry.Debug("request finished")
	}
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, origin := range strings.Split(raw, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}
