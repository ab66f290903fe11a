package main

import (
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/nimasrn/credits-gateway/internal/audit"
	"github.com/nimasrn/credits-gateway/internal/config"
	gateway "github.com/nimasrn/credits-gateway/internal/gateways"
	"github.com/nimasrn/credits-gateway/internal/handlers"
	"github.com/nimasrn/credits-gateway/internal/idempotency"
	"github.com/nimasrn/credits-gateway/internal/queue"
	"github.com/nimasrn/credits-gateway/internal/repository"
	"github.com/nimasrn/credits-gateway/internal/services"
	xhttp "github.com/nimasrn/credits-gateway/pkg/http"
	"github.com/nimasrn/credits-gateway/pkg/logger"
	"github.com/nimasrn/credits-gateway/pkg/pg"
	"github.com/nimasrn/credits-gateway/pkg/prom"
	"github.com/nimasrn/credits-gateway/pkg/redis"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}

	// transport (tcp for now)
	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Server.ReadBufferSize = 1024 * 16
	s.Server.WriteBufferSize = 1024 * 16
	s.Use(xhttp.CompressMiddleware(6))
	s.Use(xhttp.TimeoutMiddleware(time.Second * 5))
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.RecoverMiddleware)
	s.Router = xhttp.CreateDefaultRouter()

	readConf := pg.Config{
		User:     config.Get().PostgresReadUser,
		Host:     config.Get().PostgresReadHost,
		Port:     config.Get().PostgresReadPort,
		Password: config.Get().PostgresReadPassword,
		Database: config.Get().PostgresReadDatabase,
	}
	writeConf := pg.Config{
		User:     config.Get().PostgresWriteUser,
		Host:     config.Get().PostgresWriteHost,
		Port:     config.Get().PostgresWritePort,
		Password: config.Get().PostgresWritePassword,
		Database: config.Get().PostgresWriteDatabase,
	}

	pgDebug := false
	if config.Get().AppEnv == "dev" {
		pgDebug = true
	}
	db, err := pg.CreateReadWrite(readConf, writeConf, pgDebug)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	redisAdap, err := redis.NewRedisAdapter("default", config.Get().RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{config.Get().RedisAddr},
		ClientName: "default",
		DB:         config.Get().RedisDatabase,
		Username:   config.Get().RedisUsername,
		Password:   config.Get().RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	auditQ, err := queue.NewQueue(redisAdap, queue.QueueConfig{
		Name:              config.Get().QueueName,
		ConsumerGroup:     config.Get().QueueConsumerGroup,
		ConsumerName:      config.Get().QueueConsumerName,
		MaxRetries:        config.Get().QueueMaxRetries,
		VisibilityTimeout: config.Get().QueueVisibilityTimeout,
		PollInterval:      config.Get().QueuePollInterval,
		BatchSize:         config.Get().QueueBatchSize,
		MaxLen:            config.Get().QueueMaxLen,
		EnableDLQ:         config.Get().QueueEnableDLQ,
	})
	if err != nil {
		logger.Error("failed creating queue", "error", err)
	}

	var auditor audit.Auditor = audit.Nop{}
	if auditQ != nil {
		auditor = audit.NewQueuePublisher(auditQ)
	}

	// payment providers
	webpay := gateway.NewWebpay(
		config.Get().WebpayURL,
		config.Get().WebpayAPIKey,
		config.Get().WebpayWebhookSecret,
		gateway.DefaultConfig(),
	)
	capturepay := gateway.NewCapturepay(
		config.Get().CapturepayURL,
		config.Get().CapturepayAPIKey,
		gateway.DefaultConfig(),
	)

	accountRepo := repository.NewAccountRepository(db)
	transactionRepo := repository.NewTransactionRepository(db)
	unlockRepo := repository.NewUnlockRepository(db)
	userRepo := repository.NewUserRepository(db)

	// services
	ledgerService := services.NewLedgerService(accountRepo, transactionRepo, auditor)
	bonusService := services.NewBonusService(accountRepo, unlockRepo, userRepo, ledgerService, auditor)
	readingService := services.NewReadingService(ledgerService, bonusService, transactionRepo)
	checkoutService := services.NewCheckoutService(
		[]services.PaymentProvider{webpay, capturepay},
		userRepo,
		transactionRepo,
		auditor,
		config.Get().CheckoutSuccessURL,
		config.Get().CheckoutCancelURL,
	)
	reconcilerService := services.NewReconcilerService(accountRepo, transactionRepo, auditor)
	healthService := services.NewHealthService()

	idemConfig := idempotency.DefaultConfig()
	if d := config.Get().IdempotencyClaimTTL; d > 0 {
		idemConfig.ClaimTTL = d
	}
	if d := config.Get().IdempotencyWaitTime; d > 0 {
		idemConfig.WaitTimeout = d
	}
	if d := config.Get().IdempotencyResponseTTL; d > 0 {
		idemConfig.ResponseTTL = d
	}
	guard := idempotency.NewGuard(redisAdap, idemConfig)

	// v1 handlers
	creditsHandler := handlers.NewCreditsHandler(ledgerService, readingService, bonusService, guard)
	paymentsHandler := handlers.NewPaymentsHandler(checkoutService, reconcilerService, capturepay, webpay, guard)
	healthHandler := handlers.NewHealthHandler(healthService)

	g := s.Router.Group("/api/v1")
	handlers.RegisterCreditsRoutes(g, creditsHandler)
	handlers.RegisterPaymentRoutes(g, paymentsHandler)
	handlers.RegisterHealthRoutes(g, healthHandler)

	var hostname string
	hostname, err = os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	err = prom.Create(hostname, config.Get().AppEnv, config.Get().PromNamespace)
	if err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}

	go func() {
		prom.ListenAndServer(":9101", "/metrics")
	}()

	// Create new server
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Kill)

	go func() {
		var err = s.ListenAndServe(config.Get().HttpListenAddr)
		if err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()

	select {
	case <-c:
		s.Shutdown()
	}
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return ""
}
