package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/ignatzorin/servicedesk-backend/internal/config"
	"github.com/ignatzorin/servicedesk-backend/internal/db"
	"github.com/ignatzorin/servicedesk-backend/internal/gateway"
	httpHandlers "github.com/ignatzorin/servicedesk-backend/internal/http/handlers"
	httpRouter "github.com/ignatzorin/servicedesk-backend/internal/http/router"
	"github.com/ignatzorin/servicedesk-backend/internal/logger"
	"github.com/ignatzorin/servicedesk-backend/internal/redislock"
	"github.com/ignatzorin/servicedesk-backend/internal/repository"
	"github.com/ignatzorin/servicedesk-backend/internal/scheduler"
	"github.com/ignatzorin/servicedesk-backend/internal/service"
	"github.com/ignatzorin/servicedesk-backend/internal/ws"
)

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}

	logger.Init(cfg.LogLevel)
	if cfg.Env == "development" {
		logger.SetTextFormatter()
	}

	// Суммы отдаются числами, а не строками.
	decimal.MarshalJSONWithoutQuotes = true

	// Подключение к базе и миграции.
	dbConn, err := db.NewPostgres(ctx, cfg.DatabaseURL, db.DefaultPool)
	if err != nil {
		log.Fatalf("main: ошибка подключения к базе: %v", err)
	}
	defer safeClose(dbConn)

	if err := db.RunMigrations(ctx, dbConn, cfg.MigrationsPath); err != nil {
		log.Fatalf("main: ошибка миграций: %v", err)
	}

	// Redis необязателен: без него лимиты считаются в памяти, а проход планировщика идёт без аренды.
	var (
		rdb          redis.UniversalClient
		limiterStore limiter.Store
		sweepLease   scheduler.Lease
	)
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()

		limiterStore, err = limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: "servicedesk:limiter"})
		if err != nil {
			log.Fatalf("main: ошибка инициализации хранилища лимитов: %v", err)
		}

		lease, err := redislock.NewLease(redislock.New(rdb, ""), "escrow-sweep", 2*cfg.Scheduler.SweepInterval)
		if err != nil {
			log.Fatalf("main: ошибка инициализации аренды планировщика: %v", err)
		}
		sweepLease = lease
	}

	// Репозитории.
	jobRepo := repository.NewJobRepository(dbConn)
	transactionRepo := repository.NewTransactionRepository(dbConn)
	userRepo := repository.NewUserRepository(dbConn)
	notificationRepo := repository.NewNotificationRepository(dbConn)
	settingsRepo := repository.NewSettingsRepository(dbConn)
	ledger := repository.NewEscrowLedger(dbConn)

	// Платёжный шлюз.
	paypal := gateway.NewClient(gateway.Config{
		BaseURL:      cfg.PayPal.BaseURL,
		ClientID:     cfg.PayPal.ClientID,
		ClientSecret: cfg.PayPal.ClientSecret,
		WebhookID:    cfg.PayPal.WebhookID,
		Timeout:      cfg.PayPal.Timeout,
		ReturnURL:    cfg.PayPal.ReturnURL,
		CancelURL:    cfg.PayPal.CancelURL,
		Currency:     cfg.PayPal.Currency,
	})

	// Вебсокеты.
	hub := ws.NewHub()
	go hub.Run(ctx)

	// Сервисы.
	tokenManager := service.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTL)
	notificationService := service.NewNotificationService(notificationRepo, hub)
	settingsService := service.NewSettingsService(settingsRepo, cfg.Escrow.EscrowPeriod())
	releaseEngine := service.NewReleaseEngine(ledger, notificationService)

	sched := scheduler.New(releaseEngine, jobRepo, sweepLease, scheduler.Config{
		Interval:     cfg.Scheduler.SweepInterval,
		Horizon:      cfg.Scheduler.Horizon,
		BatchSize:    cfg.Scheduler.BatchSize,
		RetryBackoff: cfg.Scheduler.RetryBackoff,
	})

	escrowService := service.NewEscrowService(service.EscrowDeps{
		Jobs:           jobRepo,
		Transactions:   transactionRepo,
		Ledger:         ledger,
		Gateway:        paypal,
		Periods:        settingsService,
		Releaser:       releaseEngine,
		Scheduler:      sched,
		Notifier:       notificationService,
		FeeRate:        cfg.Escrow.ServiceFeeRate,
		GatewayTimeout: cfg.PayPal.Timeout,
	})
	webhookService := service.NewWebhookService(paypal, escrowService, cfg.PayPal.Timeout, cfg.Env == "development")
	withdrawalService := service.NewWithdrawalService(ledger, paypal, notificationService)
	financeService := service.NewFinanceService(userRepo, transactionRepo, ledger)

	// Восстановительный проход и периодические проходы по зависшим сделкам.
	sched.Start(ctx)

	// HTTP хэндлеры и роутер.
	engine := httpRouter.SetupRouter(cfg, httpRouter.Handlers{
		Jobs:          httpHandlers.NewJobHandler(escrowService),
		Payments:      httpHandlers.NewPaymentHandler(escrowService, webhookService, withdrawalService),
		Finance:       httpHandlers.NewFinanceHandler(financeService),
		Settings:      httpHandlers.NewSettingsHandler(settingsService),
		Notifications: httpHandlers.NewNotificationHandler(notificationService),
		Health:        httpHandlers.NewHealthHandler(dbConn, rdb),
		WS:            httpHandlers.NewWSHandler(hub, tokenManager, cfg.AllowedOrigins),
	}, tokenManager, limiterStore)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Завершаем сервер при получении сигнала.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Log.WithError(err).Error("ошибка остановки http сервера")
		}
	}()

	logger.Log.WithField("port", cfg.HTTPPort).Info("HTTP сервер запущен")

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("main: сервер завершился с ошибкой: %v", err)
	}
}

// safeClose закрывает соединение с базой.
func safeClose(db *sqlx.DB) {
	if err := db.Close(); err != nil {
		log.Printf("main: ошибка закрытия базы: %v", err)
	}
}
