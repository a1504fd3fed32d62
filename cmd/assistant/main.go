package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/chongs12/asset-knowledge-base/internal/bootstrap"
	"github.com/chongs12/asset-knowledge-base/internal/rag_query"
	"github.com/chongs12/asset-knowledge-base/internal/scheduler"
	"github.com/chongs12/asset-knowledge-base/pkg/config"
	"github.com/chongs12/asset-knowledge-base/pkg/database"
	"github.com/chongs12/asset-knowledge-base/pkg/logger"
	"github.com/chongs12/asset-knowledge-base/pkg/metrics"
	"github.com/chongs12/asset-knowledge-base/pkg/middleware"
	"github.com/chongs12/asset-knowledge-base/pkg/tracing"
)

const serviceName = "assistant"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init()
	logger.SetLevel(cfg.Log.Level)
	logger.Info(ctx, "Starting asset assistant", "service", serviceName, "environment", cfg.Server.Mode,
		"vector_backend", cfg.Vector.Backend, "ai_provider", cfg.AI.Provider)

	shutdownTracer := tracing.ShutdownFunc(tracing.Noop)
	if cfg.Tracing.Enabled {
		shutdownTracer, err = tracing.InitTracer(ctx, cfg.Tracing.ServiceName, cfg.Tracing.Endpoint)
		if err != nil {
			logger.Error(ctx, "Failed to init tracer", "error", err.Error())
			os.Exit(1)
		}
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error(ctx, "Failed to shutdown tracer", "error", err.Error())
		}
	}()

	store, closeStore, err := bootstrap.NewStore(ctx, cfg)
	if err != nil {
		logger.Error(ctx, "Failed to initialize vector store", "error", err.Error())
		os.Exit(1)
	}
	defer closeStore()

	rdb, err := bootstrap.NewRedis(ctx, &cfg.Redis)
	if err != nil {
		logger.Warn(ctx, "Redis unavailable, embedding cache disabled", "error", err.Error())
	}
	if rdb != nil {
		defer rdb.Close()
	}

	embedder, err := bootstrap.NewEmbedder(ctx, cfg, rdb)
	if err != nil {
		logger.Error(ctx, "Failed to initialize embedder", "error", err.Error())
		os.Exit(1)
	}
	completer, err := bootstrap.NewCompleter(ctx, cfg)
	if err != nil {
		logger.Error(ctx, "Failed to initialize completer", "error", err.Error())
		os.Exit(1)
	}

	// 后台同步与问答只通过向量库交互
	var sched *scheduler.Scheduler
	var wg sync.WaitGroup
	if cfg.KnowledgeSync.Enabled {
		db, err := database.Init(ctx, &cfg.Database)
		if err != nil {
			logger.Error(ctx, "Failed to initialize database", "error", err.Error())
			os.Exit(1)
		}
		defer db.Close()

		var publisher scheduler.EventPublisher
		pub, err := bootstrap.NewPublisher(ctx, &cfg.RabbitMQ)
		if err != nil {
			logger.Warn(ctx, "RabbitMQ unavailable, sync events disabled", "error", err.Error())
		} else if pub != nil {
			defer pub.Close()
			publisher = pub
		}

		sched = bootstrap.NewScheduler(cfg, bootstrap.NewProjector(db), bootstrap.NewPipeline(cfg, embedder, store), publisher)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sched.Run(ctx); err != nil {
				logger.Error(ctx, "Knowledge sync scheduler exited", "error", err.Error())
			}
		}()
	}

	if cfg.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(middleware.RequestID())
	hm := metrics.NewHTTPMetrics(metrics.DefaultRegistry(), metrics.Namespace, serviceName)
	router.Use(metrics.MetricsMiddleware(serviceName, hm))
	router.GET("/metrics", gin.WrapH(metrics.MetricsHandler(metrics.DefaultRegistry())))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": serviceName, "timestamp": time.Now().Unix()})
	})

	var authMiddleware *middleware.AuthMiddleware
	if cfg.JWT.Enabled {
		authMiddleware = middleware.NewAuthMiddleware(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Audience)
	}
	rag_query.NewHandler(bootstrap.NewQueryService(cfg, embedder, store, completer)).SetupRoutes(router, authMiddleware)
	if sched != nil {
		scheduler.NewHandler(sched).SetupRoutes(router, authMiddleware)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Info(ctx, "Starting HTTP server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "Failed to start server", "error", err.Error())
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info(context.Background(), "Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "Server forced to shutdown", "error", err.Error())
	}
	wg.Wait()
	logger.Info(shutdownCtx, "Server exited")
}
