package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nageing/nano-oj-backend/internal/common/cache"
	"github.com/nageing/nano-oj-backend/internal/common/db"
	"github.com/nageing/nano-oj-backend/internal/common/http/middleware"
	"github.com/nageing/nano-oj-backend/internal/common/mq"
	contestcontroller "github.com/nageing/nano-oj-backend/internal/contest/controller"
	contestrepo "github.com/nageing/nano-oj-backend/internal/contest/repository"
	contestservice "github.com/nageing/nano-oj-backend/internal/contest/service"
	judgemodel "github.com/nageing/nano-oj-backend/internal/judge/model"
	judgerepo "github.com/nageing/nano-oj-backend/internal/judge/repository"
	judgeservice "github.com/nageing/nano-oj-backend/internal/judge/service"
	"github.com/nageing/nano-oj-backend/internal/judge/sandbox"
	submitcontroller "github.com/nageing/nano-oj-backend/internal/submit/controller"
	submitservice "github.com/nageing/nano-oj-backend/internal/submit/service"
	"github.com/nageing/nano-oj-backend/pkg/utils/logger"
)

const defaultConfigPath = "configs/judge_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	mysqlDB, err := db.NewMySQLWithConfig(&appCfg.Database)
	if err != nil {
		logger.Error(context.Background(), "init database failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mysqlDB.Close()
	}()

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		logger.Error(context.Background(), "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisCache.Close()
	}()

	mqClient, err := mq.NewKafkaQueue(appCfg.Kafka.toMQConfig())
	if err != nil {
		logger.Error(context.Background(), "init kafka failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mqClient.Close()
	}()

	languages, err := buildLanguageRegistry(appCfg.Sandbox)
	if err != nil {
		logger.Error(context.Background(), "load language table failed", zap.Error(err))
		return
	}
	executor, err := buildExecutor(appCfg.Sandbox, languages)
	if err != nil {
		logger.Error(context.Background(), "init sandbox failed", zap.Error(err))
		return
	}
	defer func() {
		_ = executor.Close()
	}()

	submissionRepo := judgerepo.NewSubmissionRepository(mysqlDB)
	problemRepo := judgerepo.NewProblemRepository(mysqlDB, redisCache)
	contestRepo := contestrepo.NewContestRepository(mysqlDB, redisCache)
	rankingRepo := contestrepo.NewRankingRepository(mysqlDB)
	userReader := contestrepo.NewUserReader(mysqlDB)

	judgeSvc := judgeservice.NewJudgeService(submissionRepo, problemRepo, contestRepo, executor, mqClient)
	rankingSvc := contestservice.NewRankingService(contestRepo, rankingRepo, userReader, redisCache)
	submitSvc := submitservice.NewSubmitService(submissionRepo, problemRepo, contestRepo, mqClient, languages)

	// Judge workers are the sandbox bottleneck; the limiter keeps fetches
	// in step with the pool.
	err = mqClient.SubscribeWithOptions(context.Background(), judgemodel.TopicJudgeTask, judgeSvc.HandleTask, &mq.SubscribeOptions{
		ConsumerGroup:   appCfg.Kafka.ConsumerGroup,
		PrefetchCount:   appCfg.Kafka.PrefetchCount,
		Concurrency:     appCfg.Worker.PoolSize,
		MaxRetries:      appCfg.Kafka.MaxRetries,
		RetryDelay:      appCfg.Kafka.RetryDelay,
		DeadLetterTopic: appCfg.Kafka.DeadLetter,
		MessageTTL:      appCfg.Kafka.MessageTTL,
		Limiter:         mq.NewTokenLimiter(appCfg.Worker.PoolSize),
	})
	if err != nil {
		logger.Error(context.Background(), "subscribe judge tasks failed", zap.Error(err))
		return
	}
	err = mqClient.SubscribeWithOptions(context.Background(), judgemodel.TopicJudgeFinished, rankingSvc.HandleFinished, &mq.SubscribeOptions{
		ConsumerGroup: appCfg.Kafka.ConsumerGroup + "-ranking",
		Concurrency:   appCfg.Kafka.Concurrency,
		MaxRetries:    appCfg.Kafka.MaxRetries,
		RetryDelay:    appCfg.Kafka.RetryDelay,
	})
	if err != nil {
		logger.Error(context.Background(), "subscribe finished events failed", zap.Error(err))
		return
	}
	if err := mqClient.Start(); err != nil {
		logger.Error(context.Background(), "start kafka consumer failed", zap.Error(err))
		return
	}

	httpServer := buildHTTPServer(appCfg.Server, submitSvc, rankingSvc)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "judge http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
	_ = mqClient.Stop()
}

func buildLanguageRegistry(cfg SandboxConfig) (*sandbox.Registry, error) {
	if cfg.Languages == "" {
		return sandbox.DefaultRegistry(), nil
	}
	return sandbox.LoadRegistry(cfg.Languages)
}

func buildExecutor(cfg SandboxConfig, languages *sandbox.Registry) (sandbox.Executor, error) {
	if cfg.Engine == "fake" {
		return &sandbox.Fake{}, nil
	}
	return sandbox.NewDockerSandbox(cfg.Docker, languages)
}

func buildHTTPServer(cfg ServerConfig, submitSvc *submitservice.SubmitService, rankingSvc *contestservice.RankingService) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.TraceContext())
	router.Use(requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/v1")
	submitcontroller.NewSubmissionController(submitSvc).RegisterRoutes(api)
	contestcontroller.NewRankingController(rankingSvc).RegisterRoutes(api)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
