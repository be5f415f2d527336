package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/unclejonsbank/backend/docs"
	"github.com/unclejonsbank/backend/internal/audit"
	"github.com/unclejonsbank/backend/internal/config"
	"github.com/unclejonsbank/backend/internal/database"
	"github.com/unclejonsbank/backend/internal/handlers"
	mW "github.com/unclejonsbank/backend/internal/middleware"
	"github.com/unclejonsbank/backend/internal/models"
	"github.com/unclejonsbank/backend/internal/services"
	"github.com/unclejonsbank/backend/internal/worker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// @title Uncle Jon's Bank API
// @version 1.0
// @description Family banking backend: ledgers, allowances, loans, CDs, coupons, chores and messages
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

//go:generate swag init -g cmd/server/main.go -o docs

func main() {
	if err := config.Init(".env"); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := config.NewLogger()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
	logger.Info("server stopped")
}

func run(logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverCfg := config.LoadServerConfig()
	authCfg, err := config.LoadAuthConfig()
	if err != nil {
		return err
	}

	docs.SwaggerInfo.Host = "localhost:" + serverCfg.Port

	db, err := database.Open(ctx, database.GetConfig(), logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.Migrate(ctx, db); err != nil {
		return err
	}

	redisClient := database.InitRedis(ctx, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Services
	auditLogger := audit.NewAuditLogger(logger)
	access := services.NewAccessService(auditLogger)
	events := services.NewEventPublisher(redisClient, serverCfg.EventsQueue, logger)
	ledger := services.NewLedgerService(db, access, events, auditLogger, logger)
	settings := services.NewSettingsService(db, logger)
	interest := services.NewInterestService(db, ledger, settings, auditLogger, logger)
	children := services.NewChildService(db, access, ledger, interest, settings, auditLogger, logger)
	authService := services.NewAuthService(db, redisClient, authCfg, logger)
	withdrawals := services.NewWithdrawalService(db, access, ledger, auditLogger, logger)
	loans := services.NewLoanService(db, access, ledger, auditLogger, logger)
	cds := services.NewCDService(db, access, ledger, auditLogger, logger)
	coupons := services.NewCouponService(db, access, ledger, auditLogger, logger)
	recurring := services.NewRecurringService(db, access, ledger, auditLogger, logger)
	chores := services.NewChoreService(db, access, ledger, auditLogger, logger)
	education := services.NewEducationService(db, access, logger)
	messages := services.NewMessageService(db, access, logger)
	admin := services.NewAdminService(db, authService, children, ledger, logger)

	if err := education.Seed(ctx); err != nil {
		return err
	}

	authHandler := handlers.NewAuthHandler(authService, logger)
	protected := []interface{ Routes(chi.Router) }{
		authHandler,
		handlers.NewTransactionHandler(ledger, logger),
		handlers.NewWithdrawalHandler(withdrawals, logger),
		handlers.NewLoanHandler(loans, logger),
		handlers.NewCDHandler(cds, logger),
		handlers.NewCouponHandler(coupons, logger),
		handlers.NewChildHandler(children, logger),
		handlers.NewRecurringHandler(recurring, logger),
		handlers.NewChoreHandler(chores, logger),
		handlers.NewSettingsHandler(settings, logger),
		handlers.NewEducationHandler(education, logger),
		handlers.NewMessageHandler(messages, logger),
	}
	adminHandler := handlers.NewAdminHandler(admin, logger)
	authenticator := mW.NewAuthenticator(authService, logger)

	// Setup router
	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(mW.Metrics)
	r.Use(middleware.Timeout(serverCfg.RequestTimeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   serverCfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	r.Route("/api/v1", func(r chi.Router) {
		authHandler.PublicRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(authenticator.Middleware)

			for _, h := range protected {
				h.Routes(r)
			}

			r.Route("/admin", func(r chi.Router) {
				r.Use(mW.RequireRole(models.RoleAdmin))
				adminHandler.Routes(r)
			})
		})
	})

	server := &http.Server{
		Addr:         ":" + serverCfg.Port,
		Handler:      r,
		ReadTimeout:  serverCfg.ReadTimeout,
		WriteTimeout: serverCfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	schedCfg := config.LoadSchedulerConfig()
	if schedCfg.Enabled && schedCfg.Interval > 0 {
		scheduler := worker.NewScheduler(schedCfg, redisClient, logger,
			worker.Job{Name: "recurring", Run: recurring.RunDue},
			worker.Job{Name: "interest", Run: interest.RunAll},
			worker.Job{Name: "cd_maturity", Run: cds.MatureDue},
			worker.Job{Name: "loan_interest", Run: loans.AccrueInterest},
		)
		g.Go(func() error { return scheduler.Run(ctx) })
	}

	return g.Wait()
}
