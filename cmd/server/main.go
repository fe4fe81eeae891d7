package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/mux"

	"kobovault/cmd/routes"
	"kobovault/internal/key"
	"kobovault/internal/user"
	"kobovault/internal/wallet"
	"kobovault/pkg/config"
	"kobovault/pkg/database"
	"kobovault/pkg/events"
	"kobovault/pkg/logger"
)

func main() {
	cfg := config.LoadConfig()

	database.Connect(cfg.DBUrl)

	if err := database.DB.AutoMigrate(
		&user.User{},
		&wallet.Wallet{},
		&wallet.Transaction{},
		&wallet.IdempotencyRecord{},
		&key.APIKey{},
	); err != nil {
		logger.Fatal("Failed to run migrations", logger.WithError(err))
	}

	redisClient := events.NewRedisClient(cfg)
	walletRepo := wallet.NewRepository(database.DB)
	ledger := wallet.NewService(walletRepo)

	// background consumer for verified gateway notifications
	worker := wallet.NewDepositWorker(cfg, ledger, walletRepo, redisClient)
	worker.Start()

	r := mux.NewRouter()
	handler := routes.RegisterRoutes(r, cfg, redisClient, walletRepo, ledger)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("Server starting", logger.Fields{"port": cfg.Port, "env": cfg.Env})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Could not listen", logger.Fields{"port": cfg.Port, "error": err.Error()})
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	<-c

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	server.Shutdown(ctx)
	logger.Info("Server gracefully shut down")
}
