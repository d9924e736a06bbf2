package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"coreapi/auth"
	"coreapi/config"
	"coreapi/handlers"
	"coreapi/middleware"
	"coreapi/pkg/logging"
	"coreapi/services"
	"coreapi/storage/cache"
	"coreapi/storage/mongodb"
	"coreapi/storage/sqlite"
	"coreapi/storage/tokenstore"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, logCloser, err := logging.New(logging.Config{Env: cfg.Env, Service: "coreapi"})
	if err != nil {
		log.Fatalf("setup logger: %v", err)
	}
	defer logCloser.Close()

	logger.Info("starting coreapi", "env", cfg.Env, "addr", cfg.HTTP.Addr)

	members, err := sqlite.New(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("open sqlite: %v", err)
	}
	defer members.Close()

	tokens, err := tokenstore.Open(tokenstore.DefaultConfig(cfg.Storage.TokenPath))
	if err != nil {
		log.Fatalf("open token store: %v", err)
	}
	defer tokens.Close()

	connectCtx, cancelConnect := context.WithTimeout(context.Background(), 15*time.Second)
	messages, err := mongodb.New(connectCtx, cfg.Storage.MongoURI, cfg.Storage.MongoDatabase)
	cancelConnect()
	if err != nil {
		log.Fatalf("connect mongodb: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := messages.Close(ctx); err != nil {
			logger.Error("close mongodb", "error", err)
		}
	}()

	jwtManager := auth.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessTTL, cfg.JWT.RefreshTTL)
	authService := services.NewAuthService(logger, members, members, tokens, jwtManager)

	oneTimeKeys := services.NewOneTimeKeys(tokens, cfg.Inference.HandshakeTTL)
	inference := services.NewInferenceClient(cfg.Inference.BaseURL, nil, oneTimeKeys, logger)

	background := services.NewBackground(logger, 2*time.Minute)
	chatService := services.NewChatService(
		members,
		services.NewMessageService(messages, logger),
		inference,
		cache.NewSummaryCache(cfg.Cache.SummaryCapacity, cfg.Cache.SummaryTTL),
		background,
		logger,
		cfg.Inference.ExchangeTimeout,
	)

	if cfg.Env != logging.EnvLocal {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handlers.Register(
		router,
		handlers.NewAuthHandler(authService, logger),
		handlers.NewChatHandler(chatService, logger),
		authService,
		oneTimeKeys,
	)

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down coreapi")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}

	// Let detached summary and title tasks land before the stores close.
	if err := background.Wait(shutdownCtx); err != nil {
		logger.Warn("background tasks still running at shutdown", "error", err)
	}

	logger.Info("coreapi stopped")
}
