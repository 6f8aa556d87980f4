package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	api "github.com/studychat/studychat-server/internal/api/http"
	"github.com/studychat/studychat-server/internal/config"
	"github.com/studychat/studychat-server/internal/logger"
	"github.com/studychat/studychat-server/internal/repository/postgres"
	"github.com/studychat/studychat-server/internal/service"
	"github.com/studychat/studychat-server/internal/token"
)

var (
	buildVersion = "N/A" // set by ldflags
	buildDate    = "N/A" // set by ldflags
	buildCommit  = "N/A" // set by ldflags
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, os.Interrupt)
	defer stop()

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	logger := logger.New(cfg.LogLevel)

	db, err := postgres.NewConection(ctx, cfg.Database.DSN)
	if err != nil {
		logger.Fatal("failed to initialize storage", "error", err)
	}
	defer db.Close()

	userRepo := postgres.NewUserRepository(db)
	keyRepo := postgres.NewPublicKeyRepository(db)
	roomRepo := postgres.NewRoomRepository(db)
	messageRepo := postgres.NewMessageRepository(db)
	groupRepo := postgres.NewGroupRepository(db)
	tokenManager := token.NewJWT(cfg.JWT.Secret)

	chatService := service.NewChat(roomRepo, messageRepo, keyRepo, userRepo, logger, cfg.Chat.DMRoomTTL)
	notifier := service.NewNotifier(roomRepo, messageRepo, groupRepo, logger, cfg.Chat.PollInterval, cfg.Chat.HeartbeatInterval)

	handler := api.NewHandler(chatService, notifier, logger, cfg.Chat.CronSecret)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.HTTP.Port),
		Handler: api.NewRouter(handler, tokenManager),
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("starting server", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to start server", "error", err)
		}
	}()

	logAppVersion()

	<-ctx.Done()
	logger.Info("received interruption signal, shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("error during server shutdown", "error", err)
	}

	wg.Wait()
	logger.Info("shutdown complete")
}

func logAppVersion() {
	tmpl := `
Build version: %s
Build date: %s
Build commit: %s
`

	fmt.Printf(tmpl, buildVersion, buildDate, buildCommit)
}
