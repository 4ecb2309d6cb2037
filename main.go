package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"xmr-payment-svc/database"
	"xmr-payment-svc/handlers"
	"xmr-payment-svc/kafka"
	"xmr-payment-svc/middleware"
	"xmr-payment-svc/models"
	"xmr-payment-svc/orders"
	"xmr-payment-svc/poller"
	"xmr-payment-svc/reconcile"
	"xmr-payment-svc/store"
	"xmr-payment-svc/wallet"
	"xmr-payment-svc/ws"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Initialize database
	db, err := database.InitDB(logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	// Initialize Kafka producer
	producer, err := kafka.InitProducer(logger)
	if err != nil {
		logger.Fatal("Failed to initialize Kafka producer", zap.Error(err))
	}
	defer producer.Close()

	// Initialize OpenTelemetry
	shutdown, err := middleware.InitTracing("xmr-payment-service")
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer shutdown()

	paymentStore := store.New()
	orderStore := orders.New(db, logger)
	walletClient := wallet.NewRPCClient(logger)

	hub := ws.NewHub(func(orderID string) (models.PaymentStatus, bool) {
		p, ok := paymentStore.GetByOrderID(orderID)
		return p.Status, ok
	}, logger)

	reconciler := reconcile.NewService(paymentStore, orderStore, hub, producer, logger)
	paymentPoller := poller.New(paymentStore, walletClient, reconciler, logger)

	// Start the payment poller in background; it observes shutdown only
	// between cycles.
	pollCtx, stopPoller := context.WithCancel(context.Background())
	go paymentPoller.Run(pollCtx)

	paymentHandler := handlers.NewPaymentHandler(paymentStore, orderStore, walletClient, reconciler, paymentPoller, logger)
	adminHandler := handlers.NewAdminHandler(reconciler, paymentPoller, logger)

	// Setup REST API with Gin
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.MetricsMiddleware())

	// Health check endpoint
	router.GET("/health", handlers.HealthCheck)

	// Metrics endpoint
	router.GET("/metrics", middleware.PrometheusHandler())

	router.POST("/payments", paymentHandler.CreatePayment)
	router.GET("/payments/:payment_id", paymentHandler.CheckPayment)
	router.POST("/payments/:payment_id/proof", paymentHandler.SubmitProof)
	router.POST("/payments/:payment_id/check", paymentHandler.ForceCheck)

	router.GET("/ws/orders/:order_id", ws.ServeWS(hub, logger))

	admin := router.Group("/admin")
	admin.GET("/payments", adminHandler.DumpPayments)
	admin.POST("/payments/:payment_id/status/:status", adminHandler.OverridePayment)
	admin.POST("/orders/:order_id/status/:status", adminHandler.ForceOrderStatus)
	admin.POST("/repair", adminHandler.Repair)
	admin.POST("/check", adminHandler.ForceWalletCheck)

	// Start REST server
	srv := &http.Server{
		Addr:    ":" + getEnv("PORT", "8083"),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start REST server", zap.Error(err))
		}
	}()

	logger.Info("XMR Payment Service started", zap.String("addr", srv.Addr))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	stopPoller()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}
	logger.Info("Server exited")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
