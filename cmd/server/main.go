// Package main runs the live classroom HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/classlive/backend/config"
	"github.com/classlive/backend/internal/app"
	"github.com/classlive/backend/internal/auth"
	"github.com/classlive/backend/internal/doubts"
	"github.com/classlive/backend/internal/memstore"
	"github.com/classlive/backend/internal/middleware"
	"github.com/classlive/backend/internal/polls"
	"github.com/classlive/backend/internal/realtime"
	"github.com/classlive/backend/internal/roster"
	"github.com/classlive/backend/internal/sessions"
	"github.com/classlive/backend/pkg/database"
	"github.com/classlive/backend/pkg/queue"
	"github.com/classlive/backend/pkg/redis"
	"github.com/classlive/backend/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()

	var stores app.Stores
	switch cfg.Live.StoreDriver {
	case config.StoreDriverMemory:
		db := memstore.NewDB()
		if err := app.SeedMembers(db, cfg.Live.MemoryMembers); err != nil {
			logger.Fatal("seed roster", zap.Error(err))
		}
		stores = app.MemoryStores(db)
		logger.Warn("using in-memory store; state is lost on restart")
	default:
		pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Live.StoreTimeout, logger)
		if err != nil {
			logger.Fatal("database", zap.Error(err))
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
		stores = app.PostgresStores(pool)
	}

	hubOpts := []realtime.Option{realtime.WithBuffer(cfg.Live.SubscriberBuffer)}
	var archiver sessions.Archiver
	if cfg.Redis.Enabled {
		rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
		hubOpts = append(hubOpts, realtime.WithBridge(realtime.NewRedisPubSub(rdb.Client, logger)))
		archiver = queue.NewQueue(rdb.Client, logger)
	} else {
		logger.Warn("redis disabled; events fan out to this instance only and sessions are not archived")
	}

	var exporter *realtime.KafkaExporter
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := realtime.NewKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.ClientID)
		if err != nil {
			logger.Fatal("kafka", zap.Error(err))
		}
		exporter = realtime.NewKafkaExporter(producer, cfg.Kafka.Topic, logger)
		hubOpts = append(hubOpts, realtime.WithExporter(exporter))
		logger.Info("exporting events to kafka", zap.String("topic", cfg.Kafka.Topic))
	}

	hub := realtime.NewHub(logger, hubOpts...)
	svc := app.NewServices(cfg.Live, stores, hub, archiver, logger)
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	router := newRouter(cfg, logger, jwtService, hub, svc)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port), zap.String("store", cfg.Live.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	// closing subscriptions ends the websocket pumps, which were hijacked out of srv
	hub.Close()
	if exporter != nil {
		if err := exporter.Close(); err != nil {
			logger.Error("kafka exporter close", zap.Error(err))
		}
	}
	logger.Info("server stopped")
}

func newRouter(cfg *config.Config, logger *zap.Logger, jwtService *auth.JWTService, hub *realtime.Hub, svc *app.Services) *gin.Engine {
	sessionHandler := sessions.NewHandler(svc.Sessions)
	doubtHandler := doubts.NewHandler(svc.Doubts)
	pollHandler := polls.NewHandler(svc.Polls)
	snapshotHandler := svc.Snapshot

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		// Sessions
		api.POST("/courses/:id/sessions", middleware.RequireRole(roster.RoleInstructor), sessionHandler.Start)
		api.GET("/courses/:id/sessions", sessionHandler.ListByCourse)
		api.GET("/sessions/:id", sessionHandler.Get)
		api.GET("/sessions/:id/state", snapshotHandler.Handler)
		api.POST("/sessions/:id/end", sessionHandler.End)
		api.POST("/sessions/:id/join", sessionHandler.Join)
		api.POST("/sessions/:id/leave", sessionHandler.Leave)

		// Doubts
		api.POST("/sessions/:id/doubts", doubtHandler.Submit)
		api.GET("/sessions/:id/doubts", doubtHandler.List)
		api.POST("/doubts/:id/upvote", doubtHandler.Upvote)
		api.DELETE("/doubts/:id/upvote", doubtHandler.RetractUpvote)
		api.POST("/doubts/:id/answer", doubtHandler.Answer)

		// Polls
		api.POST("/sessions/:id/polls", middleware.RequireRole(roster.RoleInstructor), pollHandler.Create)
		api.GET("/sessions/:id/polls", pollHandler.List)
		api.POST("/polls/:id/close", pollHandler.Close)
		api.POST("/polls/:id/responses", pollHandler.Respond)
		api.GET("/polls/:id/tally", pollHandler.Tally)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, logger, jwtService.Identify, svc.Sessions, svc.Snapshot.Func()))

	return router
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
