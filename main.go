package main

import (
	"encoding/json"
	stdlog "log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/openbooks/ledgercore/src/config"
	"github.com/openbooks/ledgercore/src/database"
	"github.com/openbooks/ledgercore/src/handlers"
	"github.com/openbooks/ledgercore/src/logger"
	"github.com/openbooks/ledgercore/src/security"
	"github.com/openbooks/ledgercore/src/services"
	"github.com/openbooks/ledgercore/src/storage"
)

var limiter = rate.NewLimiter(rate.Every(100*time.Millisecond), 30)

func rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			logger.L.Warn("Rate limit exceeded",
				"method", r.Method,
				"path", r.URL.Path,
				"remoteAddr", r.RemoteAddr)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigins := map[string]bool{
			"http://localhost:3000": true,
		}

		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE, PATCH")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, X-Requested-With, If-None-Match")
			w.Header().Set("Access-Control-Expose-Headers", "ETag")
		} else if origin == "" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		if r.Method == "OPTIONS" {
			logger.L.Debug("Handling OPTIONS preflight request", "path", r.URL.Path, "origin", origin)
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func main() {
	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)
	logger.L.Info("Ledgercore server starting...")

	if config.Cfg.JWTSecret == "" || len(config.Cfg.JWTSecret) < 32 {
		logger.L.Error("JWT_SECRET configuration invalid. Must be at least 32 bytes.")
		os.Exit(1)
	}

	reconTolerance, err := decimal.NewFromString(config.Cfg.ReconTolerance)
	if err != nil {
		logger.L.Error("Invalid RECON_TOLERANCE value", "value", config.Cfg.ReconTolerance, "error", err)
		os.Exit(1)
	}
	escalationThreshold, err := decimal.NewFromString(config.Cfg.EscalationThreshold)
	if err != nil {
		logger.L.Error("Invalid RECON_ESCALATION_THRESHOLD value", "value", config.Cfg.EscalationThreshold, "error", err)
		os.Exit(1)
	}

	logger.L.Info("Initializing database...", "path", config.Cfg.DatabasePath)
	database.InitDB(config.Cfg.DatabasePath)
	logger.L.Info("Database initialized successfully.")

	logger.L.Info("Initializing rate cache...")
	rateCache := cache.New(15*time.Minute, 30*time.Minute)

	logger.L.Info("Initializing services and handlers...")
	authService := security.NewAuthService(config.Cfg.JWTSecret)
	alertService := services.NewAlertService()
	uowFactory := storage.NewUnitOfWorkFactory(database.DB)

	statementProvider := services.NewFileStatementProvider(config.Cfg.StatementDir)
	rateProvider := services.NewHTTPRateProvider(config.Cfg.RateFeedURL)

	accountService := services.NewAccountService(uowFactory)
	ingestionService := services.NewIngestionService(uowFactory, config.Cfg.MaxFutureValueDays)
	reconciliationService := services.NewReconciliationService(uowFactory, statementProvider, alertService, reconTolerance, escalationThreshold)
	dailyBalanceService := services.NewDailyBalanceService(uowFactory, alertService, reconTolerance)
	rateFeedService := services.NewRateFeedService(uowFactory, rateProvider, rateCache, config.Cfg.BaseCurrency, config.Cfg.RateRefreshTargets)

	accountHandler := handlers.NewAccountHandler(accountService)
	ingestionHandler := handlers.NewIngestionHandler(ingestionService)
	transactionHandler := handlers.NewTransactionHandler(uowFactory)
	reconciliationHandler := handlers.NewReconciliationHandler(reconciliationService)
	jobsHandler := handlers.NewJobsHandler(dailyBalanceService, rateFeedService, uowFactory)
	authMiddleware := handlers.NewAuthMiddleware(authService)

	logger.L.Info("Configuring routes...")
	rootMux := http.NewServeMux()
	apiRouter := http.NewServeMux()

	protected := authMiddleware.Require

	apiRouter.HandleFunc("POST /api/accounts", protected(accountHandler.HandleCreateAccount))
	apiRouter.HandleFunc("GET /api/accounts/{ref}", protected(accountHandler.HandleGetAccount))
	apiRouter.HandleFunc("POST /api/accounts/{id}/adjust", protected(accountHandler.HandleAdjustBalance))
	apiRouter.HandleFunc("POST /api/accounts/{id}/holds", protected(accountHandler.HandleApplyHold))
	apiRouter.HandleFunc("POST /api/accounts/{id}/holds/release", protected(accountHandler.HandleReleaseHold))
	apiRouter.HandleFunc("POST /api/accounts/{id}/deactivate", protected(accountHandler.HandleDeactivate))
	apiRouter.HandleFunc("POST /api/accounts/{id}/reactivate", protected(accountHandler.HandleReactivate))
	apiRouter.HandleFunc("GET /api/accounts/{id}/daily-balance", protected(jobsHandler.HandleGetDailyBalance))
	apiRouter.HandleFunc("GET /api/accounts/{id}/reconciliation", protected(reconciliationHandler.HandleGetReport))

	apiRouter.HandleFunc("POST /api/batches", protected(ingestionHandler.HandleSubmitBatch))
	apiRouter.HandleFunc("POST /api/batches/upload", protected(ingestionHandler.HandleUploadStatement))

	apiRouter.HandleFunc("GET /api/transactions", protected(transactionHandler.HandleSearchTransactions))
	apiRouter.HandleFunc("GET /api/transactions/{id}", protected(transactionHandler.HandleGetTransaction))
	apiRouter.HandleFunc("POST /api/transactions/{id}/reverse", protected(ingestionHandler.HandleReverseTransaction))

	apiRouter.HandleFunc("POST /api/reconciliations", protected(reconciliationHandler.HandleRunReconciliation))
	apiRouter.HandleFunc("POST /api/jobs/daily-close", protected(jobsHandler.HandleRunDailyClose))
	apiRouter.HandleFunc("POST /api/jobs/refresh-rates", protected(jobsHandler.HandleRefreshRates))
	apiRouter.HandleFunc("GET /api/rates", protected(jobsHandler.HandleGetRate))

	rootMux.Handle("/api/", apiRouter)

	rootMux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" && r.Method == http.MethodGet {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"message": "Ledgercore backend is running"})
		} else {
			if !strings.HasPrefix(r.URL.Path, "/api/") {
				logger.L.Warn("Root level path not found", "method", r.Method, "path", r.URL.Path)
				http.NotFound(w, r)
			}
		}
	})

	logger.L.Info("Applying global middleware...")
	finalHandler := enableCORS(rateLimitMiddleware(rootMux))

	serverAddr := ":" + config.Cfg.Port
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      finalHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.L.Info("Server starting", "address", serverAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.L.Error("Failed to start server", "error", err)
		stdlog.Fatalf("Failed to start server: %v", err)
	} else if err == http.ErrServerClosed {
		logger.L.Info("Server stopped gracefully.")
	}
}
