package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketplace-service/config"
	"marketplace-service/internal/api"
	"marketplace-service/internal/broker"
	"marketplace-service/internal/payments"
	"marketplace-service/internal/redisclient"
	"marketplace-service/internal/service"
	"marketplace-service/internal/store"
	"marketplace-service/internal/util"
	"marketplace-service/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, "marketplace-service"); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting marketplace service")

	tp, err := util.InitTracer(cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	feePercent, err := decimal.NewFromString(cfg.Business.PlatformFeePercent)
	if err != nil || feePercent.IsNegative() || feePercent.GreaterThan(decimal.NewFromInt(100)) {
		log.Fatalf("Invalid PLATFORM_FEE_PERCENT %q", cfg.Business.PlatformFeePercent)
	}

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	if err := db.Migrate(context.Background()); err != nil {
		log.Fatalf("Failed to apply schema: %v", err)
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer, cfg.Kafka.TopicMarketplace)

	gateway := payments.NewStripeGateway(cfg.Stripe.SecretKey)
	verifier := payments.NewVerifier(cfg.Stripe.WebhookSecret)

	payoutService := service.NewPayoutService(db, gateway, cfg.Stripe.Currency, feePercent, cfg.Business.VendorTransferEnabled)
	checkoutService := service.NewCheckoutService(db, eventPublisher, payoutService)
	subscriptionService := service.NewSubscriptionService(db, gateway, redisClient, eventPublisher,
		time.Duration(cfg.Business.SubscriptionLockTTLSeconds)*time.Second)
	transferService := service.NewTransferService(db, eventPublisher)
	queryService := service.NewQueryService(db)

	webhookRouter := service.NewWebhookRouter(db, redisClient,
		time.Duration(cfg.Business.WebhookDedupTTLSeconds)*time.Second)
	webhookRouter.On(service.EventCheckoutSessionCompleted, checkoutService.HandleCheckoutCompleted)
	webhookRouter.On(service.EventSubscriptionCreated, subscriptionService.HandleSubscriptionCreated)
	webhookRouter.On(service.EventTransferCreated, transferService.HandleTransferCreated)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	notificationConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicMarketplace, cfg.Kafka.NotificationsGroup)
	notificationWorker := worker.NewNotificationWorker(notificationConsumer, redisClient)
	go func() {
		if err := notificationWorker.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Notification worker stopped", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(verifier, webhookRouter, queryService, payoutService, map[string]api.Pinger{
		"postgres": db,
		"redis":    redisClient,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	notificationWorker.Stop()

	log.Println("Server exited")
}
