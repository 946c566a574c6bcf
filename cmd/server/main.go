package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/plant-hire/service-booking/internal/adapter"
	"github.com/plant-hire/service-booking/internal/application"
	"github.com/plant-hire/service-booking/internal/config"
	"github.com/plant-hire/service-booking/internal/events"
	"github.com/plant-hire/service-booking/internal/handler"
	"github.com/plant-hire/service-booking/internal/repository"
	"github.com/plant-hire/service-booking/pkg/database"
	"github.com/plant-hire/service-booking/pkg/health"
	"github.com/plant-hire/service-booking/pkg/kafka"
	"github.com/plant-hire/service-booking/pkg/logger"
	"github.com/plant-hire/service-booking/pkg/middleware"
)

const serviceName = "service-booking"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log, err := logger.NewNamed(cfg.AppEnv, serviceName)
	if err != nil {
		panic("failed to build logger: " + err.Error())
	}
	defer log.Sync()

	db, err := database.Connect(cfg.DBConfig, log)
	if err != nil {
		log.Fatal("database connection failed", zap.Error(err))
	}

	if cfg.AppEnv == "development" {
		if err := db.AutoMigrate(
			&repository.BookingModel{},
			&repository.ProcessedEventModel{},
			&repository.PaymentAuthorizationModel{},
		); err != nil {
			log.Fatal("auto-migration failed", zap.Error(err))
		}
	} else {
		if err := database.RunMigrations(cfg.DBConfig.DatabaseURL(), "migrations", log); err != nil {
			log.Fatal("migrations failed", zap.Error(err))
		}
	}

	producer := kafka.NewProducer(cfg.Kafka.Brokers, log)
	defer producer.Close()

	var stripe adapter.StripeAdapter
	if cfg.Stripe.SecretKey != "" {
		stripe = adapter.NewHTTPStripeAdapter(cfg.Stripe.SecretKey, log)
	} else {
		log.Warn("STRIPE_SECRET_KEY not set, using mock stripe adapter")
		stripe = adapter.NewMockStripeAdapter(log)
	}

	bookingRepo := repository.NewBookingRepository(db)
	eventRepo := repository.NewEventRepository(db)
	notifier := events.NewKafkaNotifier(producer, cfg.Kafka.NotificationTopic)

	bookingService := application.NewBookingService(bookingRepo, cfg.HoldTTL, log)
	webhookService := application.NewWebhookService(bookingRepo, eventRepo, stripe, notifier, log)

	if cfg.AppEnv != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.Recovery(log))
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(log))

	health.NewHandler(db, serviceName).RegisterRoutes(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handler.NewBookingHandler(bookingService, log).RegisterRoutes(router)
	handler.NewWebhookHandler(webhookService, bookingService, cfg.Stripe.WebhookSecret, cfg.CronSecret, log).RegisterRoutes(router)

	srv := &http.Server{
		Addr:         cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info("booking service listening", zap.String("addr", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server stopped unexpectedly", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}
