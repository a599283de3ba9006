package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/activation"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/billing"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/cashback"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/config"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/kafka"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/lock"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/logger"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/metrics"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/middleware"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/mtls"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/redis"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/distribution"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/history"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/jobs"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/ledger"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/radius"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/subscriber"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/wallet"
	"github.com/Ali-Mohammed/openRadius-sub010/pkg/outbox"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using system environment variables")
	}

	cfg, err := config.Load("billing")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("billing-service")

	mtlsConfig := mtls.LoadFromEnv()
	if mtlsConfig.Enabled {
		log.Info("🔐 mTLS is ENABLED for internal service communication")
	} else {
		log.Info("⚠️  mTLS is DISABLED - using HTTP only")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStorage(ctx, cfg, log)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer store.Close()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.MustNew(nil)
	}

	// Locking, balance cache and retry queue fall back to in-process
	// implementations when Redis is off. That is only safe for one instance.
	var locker wallet.Locker = lock.NewKeyedMutex()
	var queue activation.Queue = activation.NewMemoryQueue()
	var cache wallet.BalanceCache
	var idem ledger.Idempotency
	if cfg.Redis.Enabled {
		redisClient, err := redis.Connect(cfg.Redis, log)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()

		locker = redis.NewLocker(redisClient, cfg.Wallet.LockTTL)
		queue = redis.NewDelayQueue(redisClient, "activations:retry")
		cache = redisClient
		idem = redisClient
		log.Info("✅ Redis locking and retry queue enabled")
	} else {
		log.Warn("⚠️  Redis is DISABLED - wallet locks are process-local")
	}

	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		producer = kafka.NewProducer(cfg.Kafka, log)
		defer producer.Close()

		log.Info("Checking Kafka connection...")
		kafkaCtx, kafkaCancel := context.WithTimeout(ctx, 5*time.Second)
		if err := producer.Ping(kafkaCtx); err != nil {
			kafkaCancel()
			log.Fatalf("❌ Failed to connect to Kafka: %v", err)
		}
		kafkaCancel()
		log.Info("✅ Kafka is healthy")
	}

	httpClient, err := mtlsConfig.HTTPClient(cfg.Activation.ExternalTimeout)
	if err != nil {
		log.Fatalf("Failed to build radius HTTP client: %v", err)
	}
	radiusClient := radius.NewClient(cfg.Radius, httpClient, log)

	// Services
	walletService := wallet.NewService(store.wallets, store.ledger, locker, cache, cfg.Wallet, m, log)
	writer := ledger.NewWriter(store.ledger, walletService, m, log)
	recorder := history.NewRecorder(store.history, log)

	orchestrator := activation.NewOrchestrator(activation.Deps{
		Repo:        store.activations,
		Subscribers: store.subscribers,
		Profiles:    store.billing,
		Resolver:    distribution.NewResolver(store.cashback),
		Ledger:      writer,
		Wallets:     walletService,
		External:    radiusClient,
		Queue:       queue,
		Locker:      locker,
		History:     recorder,
	}, cfg.Activation, m, log)

	billingService := billing.NewService(store.billing, store.activations, log)
	cashbackService := cashback.NewService(store.cashback, log)

	walletHandler := wallet.NewHandler(walletService, log)
	ledgerHandler := ledger.NewHandler(writer, idem, log)
	billingHandler := billing.NewHandler(billingService, log)
	cashbackHandler := cashback.NewHandler(cashbackService, log)
	subscriberHandler := subscriber.NewHandler(store.subscribers, log)
	activationHandler := activation.NewHandler(orchestrator, log)
	historyHandler := history.NewHandler(recorder, log)

	// Create HTTP routers
	publicMux := http.NewServeMux()
	internalMux := http.NewServeMux()

	var publicHandler http.Handler = publicMux
	publicHandler = middleware.CORS(publicHandler)
	publicHandler = m.Middleware(publicHandler)
	publicHandler = middleware.Logging(log)(publicHandler)
	publicHandler = middleware.Recovery(log)(publicHandler)

	var internalHandler http.Handler = internalMux
	internalHandler = middleware.Logging(log)(internalHandler)
	internalHandler = middleware.Recovery(log)(internalHandler)

	// Public API - requires JWT authentication
	walletHandler.RegisterRoutes(publicMux, cfg.JWT.Secret)
	ledgerHandler.RegisterRoutes(publicMux, cfg.JWT.Secret)
	billingHandler.RegisterRoutes(publicMux, cfg.JWT.Secret)
	cashbackHandler.RegisterRoutes(publicMux, cfg.JWT.Secret)
	subscriberHandler.RegisterRoutes(publicMux, cfg.JWT.Secret)
	activationHandler.RegisterRoutes(publicMux, cfg.JWT.Secret)
	historyHandler.RegisterRoutes(publicMux, cfg.JWT.Secret)

	// Internal API - accessed via mTLS, no JWT between services
	walletHandler.RegisterInternalRoutes(internalMux)
	ledgerHandler.RegisterInternalRoutes(internalMux)
	activationHandler.RegisterInternalRoutes(internalMux)
	historyHandler.RegisterInternalRoutes(internalMux)

	healthHandler := func(w http.ResponseWriter, r *http.Request) {
		if err := store.Health(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}
	publicMux.HandleFunc("GET /health", healthHandler)
	internalMux.HandleFunc("GET /health", healthHandler)

	if m != nil {
		internalMux.Handle("GET "+cfg.Metrics.Path, promhttp.Handler())
		publicMux.Handle("GET "+cfg.Metrics.Path, promhttp.Handler())
		log.Infof("📈 Metrics exposed on %s", cfg.Metrics.Path)
	}

	// Background workers
	go orchestrator.Run(ctx)

	if store.outbox != nil && producer != nil {
		outboxPublisher := outbox.NewPublisher(store.outbox, producer, log, 5*time.Second)
		go outboxPublisher.Start(ctx)
		log.Info("✅ Outbox publisher started")
	}

	if cfg.Kafka.Enabled {
		consumer := kafka.NewConsumer(cfg.Kafka, activation.TopicActivationRequested, log)
		defer consumer.Close()
		go func() {
			if err := consumer.Consume(ctx, orchestrator.HandleRequested()); err != nil {
				log.Errorf("Activation request consumer stopped: %v", err)
			}
		}()
		log.Infof("✅ Consuming %s", activation.TopicActivationRequested)
	}

	scheduler := jobs.NewScheduler(log)
	if err := jobs.RegisterBilling(scheduler, cfg, walletService, orchestrator); err != nil {
		log.Fatalf("Failed to schedule jobs: %v", err)
	}
	scheduler.Start()

	// Pick up work left behind by a previous process.
	if n, err := scheduler.Trigger(jobs.JobActivationRecovery); err != nil {
		log.Errorf("Startup recovery failed: %v", err)
	} else if n > 0 {
		log.Infof("♻️  Recovered %d activations", n)
	}

	// =============================================================
	// PUBLIC SERVER (JWT for external clients)
	// =============================================================
	publicServer := &http.Server{
		Addr:         ":" + cfg.Service.Port,
		Handler:      publicHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infof("🌐 Public API starting on port %s", cfg.Service.Port)
		if err := publicServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start public server: %v", err)
		}
	}()

	// =============================================================
	// INTERNAL SERVER (mTLS for service-to-service)
	// =============================================================
	if mtlsConfig.Enabled {
		tlsConfig, err := mtlsConfig.ServerTLSConfig()
		if err != nil {
			log.Fatalf("Failed to load mTLS config: %v", err)
		}

		internalServer := &http.Server{
			Addr:         ":" + cfg.Service.InternalPort,
			Handler:      internalHandler,
			TLSConfig:    tlsConfig,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		go func() {
			log.Infof("🔐 Internal API starting on port %s (mTLS)", cfg.Service.InternalPort)
			if err := internalServer.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
				log.Fatalf("Failed to start internal server: %v", err)
			}
		}()

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			internalServer.Shutdown(shutdownCtx)
		}()
	}

	// =============================================================
	// GRACEFUL SHUTDOWN
	// =============================================================
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("🛑 Shutting down servers...")

	// Stop accepting work, then let in-flight calls finish.
	scheduler.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := publicServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Public server forced to shutdown: %v", err)
	}

	log.Info("✅ All servers exited gracefully")
}
