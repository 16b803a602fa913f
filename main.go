package main

import (
	"log"
	"net/http"

	"harmoni-service/internal/api"
	"harmoni-service/internal/cache"
	"harmoni-service/internal/config"
	"harmoni-service/internal/db"
	"harmoni-service/internal/download"
	"harmoni-service/internal/event"
	"harmoni-service/internal/kafka"
	"harmoni-service/internal/logging"
	"harmoni-service/internal/mailer"
	"harmoni-service/internal/metrics"
	"harmoni-service/internal/payment"
	"harmoni-service/internal/processor"
	"harmoni-service/internal/verify"
	"github.com/joho/godotenv"
	kafkago "github.com/segmentio/kafka-go"
)

func main() {
	_ = godotenv.Load()

	cfg := config.MustLoadConfig(".")

	logger := logging.GetLogger(cfg.Logs)
	metrics.Setup(cfg.Metrics)

	connStr := db.GetConnStr(cfg.Database)
	db.RunMigrations(connStr, "migrations")

	dbpool, err := db.GetPool(connStr)
	if err != nil {
		log.Fatal(err)
	}
	defer dbpool.Close()

	redisClient, err := cache.NewClient(cfg.Redis)
	if err != nil {
		log.Fatal(err)
	}
	defer redisClient.Close()

	paymentRepo := db.NewPaymentRepository(dbpool)
	userRepo := db.NewUserRepository(dbpool)
	tariffRepo := db.NewTariffRepository(dbpool)
	fileRepo := db.NewFileRepository(dbpool)
	linkRepo := db.NewDownloadLinkRepository(dbpool)

	stripeClient := processor.NewStripeClient(cfg.Stripe, logger)
	resendMailer := mailer.NewResendMailer(cfg.Resend, logger)

	var writer *kafkago.Writer
	if cfg.Kafka.Broker.URL != "" {
		writer = kafka.NewWriter(cfg.Kafka)
		defer writer.Close()
	}
	publisher := event.NewPublisher(writer, logger)

	issuer := download.NewIssuer(linkRepo, fileRepo, cfg.Download, logger)
	gate := download.NewGate(linkRepo, fileRepo, logger)

	paymentService := payment.NewService(paymentRepo, userRepo, tariffRepo, stripeClient, issuer, resendMailer, publisher, logger)
	verifyService := verify.NewService(userRepo, redisClient, resendMailer, cfg.Verification, logger)

	handler := api.NewHandler(paymentService, verifyService, gate, tariffRepo, cfg.Download.UploadDir, logger)
	mux := api.NewMux(handler)

	log.Fatal(http.ListenAndServe(":"+cfg.Server.Port, mux))
}
