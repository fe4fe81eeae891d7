package routes

import (
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger"
	"golang.org/x/time/rate"

	"kobovault/internal/auth"
	"kobovault/internal/key"
	"kobovault/internal/middleware"
	"kobovault/internal/paystack"
	"kobovault/internal/user"
	"kobovault/internal/wallet"
	"kobovault/pkg/clock"
	"kobovault/pkg/config"
	"kobovault/pkg/database"
	"kobovault/pkg/events"
	"kobovault/pkg/logger"
)

func RegisterRoutes(r *mux.Router, cfg config.Config, redisClient *events.RedisClient, walletRepo wallet.Repository, ledger *wallet.Service) http.Handler {
	userRepo := user.NewRepository(database.DB)
	keyRepo := key.NewRepository(database.DB)
	keySvc := key.NewService(keyRepo, clock.System(), cfg.MaxActiveKeys)

	paystackClient := paystack.NewClient(cfg.PaystackSecret)

	authHandler := auth.NewHandler(cfg, userRepo)
	keyHandler := key.NewHandler(cfg, keySvc)
	walletHandler := wallet.NewHandler(cfg, ledger, walletRepo, paystackClient, redisClient)

	r.Use(middleware.LoggingMiddleware)

	limiter := middleware.NewRateLimiter(rate.Limit(5), 10)

	authR := r.PathPrefix("/api/auth").Subrouter()
	authR.Use(limiter.Limit)
	authR.HandleFunc("/google", authHandler.GoogleLogin).Methods("GET")
	authR.HandleFunc("/google/callback", authHandler.GoogleCallback).Methods("GET")

	keysR := r.PathPrefix("/api/keys").Subrouter()
	keysR.Use(auth.JWTMiddleware(cfg, userRepo))
	keysR.HandleFunc("/create", keyHandler.CreateAPIKey).Methods("POST")
	keysR.HandleFunc("/rollover", keyHandler.RolloverAPIKey).Methods("POST")
	keysR.HandleFunc("/revoke", keyHandler.RevokeAPIKey).Methods("POST")
	keysR.HandleFunc("", keyHandler.ListAPIKeys).Methods("GET")

	walletR := r.PathPrefix("/api/wallet").Subrouter()

	webhookR := walletR.PathPrefix("/paystack").Subrouter()
	webhookR.Use(limiter.Limit)
	webhookR.HandleFunc("/webhook", walletHandler.PaystackWebhook).Methods("POST")

	createR := walletR.PathPrefix("/create").Subrouter()
	createR.Use(auth.JWTMiddleware(cfg, userRepo))
	createR.HandleFunc("", walletHandler.CreateWallet).Methods("POST")

	opsR := walletR.PathPrefix("").Subrouter()
	opsR.Use(auth.UnifiedAuthMiddleware(cfg, userRepo, keySvc))

	readR := opsR.PathPrefix("").Subrouter()
	readR.Use(auth.RequirePermission(string(key.PermissionRead)))
	readR.HandleFunc("", walletHandler.GetWallet).Methods("GET")
	readR.HandleFunc("/balance", walletHandler.GetWalletBalance).Methods("GET")
	readR.HandleFunc("/transactions", walletHandler.GetTransactions).Methods("GET")
	readR.HandleFunc("/deposit/{reference}/status", walletHandler.GetDepositStatus).Methods("GET")

	depositR := opsR.PathPrefix("/deposit").Subrouter()
	depositR.Use(auth.RequirePermission(string(key.PermissionDeposit)))
	depositR.HandleFunc("", walletHandler.WalletDeposit).Methods("POST")

	transferR := opsR.PathPrefix("/transfer").Subrouter()
	transferR.Use(auth.RequirePermission(string(key.PermissionTransfer)))
	transferR.HandleFunc("", walletHandler.TransferFunds).Methods("POST")

	if cfg.Env != "production" {
		r.HandleFunc("/swagger.yaml", func(w http.ResponseWriter, r *http.Request) {
			content, err := os.ReadFile("docs/swagger.yaml")
			if err != nil {
				logger.Error("Failed to read swagger.yaml", logger.Fields{"error": err.Error()})
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			modifiedContent := strings.Replace(string(content), "{{BASE_URL}}", "/", -1)

			w.Header().Set("Content-Type", "application/yaml")
			w.Write([]byte(modifiedContent))
		})

		r.PathPrefix("/swagger/").Handler(httpSwagger.Handler(
			httpSwagger.URL("/swagger.yaml"),
		))
		logger.Info("Swagger documentation enabled at /swagger/index.html")
	}

	corsObj := handlers.CORS(
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "Idempotency-Key", "x-api-key"}),
	)

	return corsObj(r)
}
