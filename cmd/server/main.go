package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-broker/internal/config"
	"github.com/ignatzorin/escrow-broker/internal/db"
	"github.com/ignatzorin/escrow-broker/internal/events"
	"github.com/ignatzorin/escrow-broker/internal/gateway/ccpayment"
	httpHandlers "github.com/ignatzorin/escrow-broker/internal/http/handlers"
	httpRouter "github.com/ignatzorin/escrow-broker/internal/http/router"
	"github.com/ignatzorin/escrow-broker/internal/logger"
	"github.com/ignatzorin/escrow-broker/internal/repository"
	"github.com/ignatzorin/escrow-broker/internal/service"
	"github.com/ignatzorin/escrow-broker/internal/storage"
	"github.com/ignatzorin/escrow-broker/internal/ws"
)

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}

	logger.Init(cfg.LogLevel)
	if cfg.Env == "development" {
		logger.SetTextFormatter()
	}
	log := logger.Component("main")

	// Подключение к базе и миграции.
	dbConn, err := db.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("ошибка подключения к базе")
	}
	defer safeClose(dbConn, log)

	if err := db.RunMigrations(ctx, dbConn, cfg.MigrationsPath, logger.Log); err != nil {
		log.WithError(err).Fatal("ошибка миграций")
	}

	tokenManager := service.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTL)

	evidenceStorage, err := storage.NewEvidenceStorage(cfg.EvidenceStoragePath, cfg.MaxUploadSizeMB)
	if err != nil {
		log.WithError(err).Fatal("не удалось подготовить хранилище доказательств")
	}

	// Репозитории.
	dealRepo := repository.NewDealRepository(dbConn)
	disputeRepo := repository.NewDisputeRepository(dbConn)
	ratingRepo := repository.NewRatingRepository(dbConn)
	banRepo := repository.NewBanRepository(dbConn)
	securityLogRepo := repository.NewSecurityLogRepository(dbConn)
	notificationRepo := repository.NewNotificationRepository(dbConn)

	// Доставка уведомлений: websocket, БД и при наличии брокеров Kafka.
	hub := ws.NewHub(logger.Component("ws"))
	go hub.Run(ctx)

	notificationService := service.NewNotificationService(notificationRepo)
	notifier := service.NewNotifier(logger.Component("notifier"))
	notifier.AddSink("websocket", hub)
	notifier.AddSink("database", notificationService)

	var publisher *events.KafkaPublisher
	if cfg.Kafka.Enabled() {
		publisher = events.NewKafkaPublisher(events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), logger.Component("kafka"))
		notifier.AddSink("kafka", publisher)
	}

	cache := service.NewCacheService(ctx)
	gateway := ccpayment.NewClient(ccpayment.Config{
		AppID:     cfg.Gateway.AppID,
		AppSecret: cfg.Gateway.AppSecret,
		BaseURL:   cfg.Gateway.BaseURL,
		Timeout:   cfg.Gateway.Timeout,
		RPS:       cfg.Gateway.RPS,
	}, logger.Component("ccpayment"))

	// Сервисы.
	trustService := service.NewTrustService(ratingRepo, banRepo, securityLogRepo, dealRepo, disputeRepo, notifier, logger.Component("trust"))
	dealService := service.NewDealService(dealRepo, trustService, notifier, cfg.CommissionRate, logger.Component("deals"))
	disputeService := service.NewDisputeService(disputeRepo, dealRepo, trustService, trustService, evidenceStorage, notifier, logger.Component("disputes"))
	paymentService := service.NewPaymentService(dealService, gateway, trustService, cache, service.PaymentURLs{
		Return: cfg.PaymentReturnURL,
		Cancel: cfg.PaymentCancelURL,
	}, logger.Component("payments"))

	monitor := service.NewPaymentMonitor(dealRepo, dealService, gateway, cache, service.MonitorConfig{
		CheckInterval:      cfg.Monitor.CheckInterval,
		PaymentExpiry:      cfg.Monitor.PaymentExpiry,
		CancelledRetention: cfg.Monitor.CancelledRetention,
	}, logger.Component("monitor"))
	if err := monitor.Start(ctx); err != nil {
		log.WithError(err).Fatal("не удалось запустить монитор платежей")
	}

	// HTTP.
	engine := httpRouter.SetupRouter(cfg, httpRouter.Handlers{
		Health:        httpHandlers.NewHealthHandler(dbConn, monitor, gateway),
		Deals:         httpHandlers.NewDealHandler(dealService),
		Payments:      httpHandlers.NewPaymentHandler(paymentService),
		Disputes:      httpHandlers.NewDisputeHandler(disputeService, cfg.MaxUploadSizeMB),
		Trust:         httpHandlers.NewTrustHandler(trustService),
		Monitoring:    httpHandlers.NewMonitoringHandler(monitor),
		Notifications: httpHandlers.NewNotificationHandler(notificationService),
		WS:            httpHandlers.NewWSHandler(hub, tokenManager, cfg.AllowedOrigins),
	}, tokenManager, logger.Component("http"))

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
			log.WithError(err).Error("ошибка остановки http сервера")
		}
	}()

	log.WithField("port", cfg.HTTPPort).Info("HTTP сервер запущен")

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Error("сервер завершился с ошибкой")
	}

	monitor.Stop()
	notifier.Wait()
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			log.WithError(err).Warn("ошибка закрытия kafka writer")
		}
	}
	log.Info("сервер остановлен")
}

// safeClose закрывает соединение с базой.
func safeClose(db *sqlx.DB, log logrus.FieldLogger) {
	if err := db.Close(); err != nil {
		log.WithError(err).Error("ошибка закрытия базы")
	}
}
