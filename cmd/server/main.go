package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/coderoom-io/coderoom/internal/api"
	"github.com/coderoom-io/coderoom/internal/broker"
	"github.com/coderoom-io/coderoom/internal/config"
	"github.com/coderoom-io/coderoom/internal/db"
	"github.com/coderoom-io/coderoom/internal/exec"
	"github.com/coderoom-io/coderoom/internal/observ"
	"github.com/coderoom-io/coderoom/internal/repository"
	"github.com/coderoom-io/coderoom/internal/repository/memory"
	"github.com/coderoom-io/coderoom/internal/repository/postgres"
	"github.com/coderoom-io/coderoom/internal/room"
	"github.com/coderoom-io/coderoom/internal/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Room storage: Postgres when reachable, otherwise the in-memory
	// fallback. Everything downstream depends only on the repository
	// contract, so the choice is invisible past this point.
	var repo repository.RoomRepository
	storageMode := "postgres"
	database, err := db.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Warn("database unreachable, using in-memory storage (state lost on restart)",
			zap.Error(err),
		)
		repo = memory.NewRoomStore()
		storageMode = "memory"
	} else {
		defer database.Close()
		repo = postgres.NewRoomStore(database.Pool())
	}

	service := room.NewService(repo, logger)

	// Cross-instance broadcast bridge, enabled only when Redis is
	// configured. A single instance works fine without it.
	var publisher ws.Publisher
	var bridge *broker.Bridge
	if cfg.RedisURL != "" {
		bridge, err = broker.New(ctx, cfg.RedisURL, logger)
		if err != nil {
			logger.Warn("redis unreachable, running without broadcast bridge", zap.Error(err))
		} else {
			defer bridge.Close()
			publisher = bridge
		}
	}

	hub := ws.NewHub(service, publisher, logger)
	go hub.Run()
	if bridge != nil {
		go bridge.Run(ctx, hub.RemoteFanout)
	}

	go service.RunCleanup(ctx, cfg.CleanupInterval)

	var execClient *exec.Client
	if cfg.ExecAPIURL != "" {
		execClient = exec.NewClient(cfg.ExecAPIURL, cfg.ExecAPIKey, logger)
	}

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := gin.New()
	srv.Use(gin.Recovery())
	srv.Use(cors.Default())

	roomHandler := api.NewRoomHandler(repo, logger)
	executeHandler := api.NewExecuteHandler(execClient, logger)

	srv.GET("/api/health", api.Health(storageMode))
	srv.GET("/api/rooms/:id", roomHandler.GetByID)
	srv.POST("/api/execute", executeHandler.Execute)
	srv.GET("/ws", func(c *gin.Context) {
		ws.ServeWs(hub, c.Writer, c.Request)
	})

	logger.Info("starting coderoom",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
		zap.String("storage", storageMode),
	)

	return srv.Run(":" + cfg.Port)
}
