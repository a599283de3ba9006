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

	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/config"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/db"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/kafka"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/logger"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/metrics"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/middleware"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/mtls"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/ingest"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/jobs"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/store/memory"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/subscriber"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using system environment variables")
	}

	cfg, err := config.Load("sync")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("sync-service")
	mtlsConfig := mtls.LoadFromEnv()

	var (
		sink     ingest.Sink
		progress ingest.ProgressStore
		database *db.DB
	)
	if cfg.Service.StorageDriver == "memory" {
		log.Warn("⚠️  Using in-memory storage - synced records are lost on restart")
		sink = memory.New().Subscribers()
		progress = ingest.NewMemoryStore()
	} else {
		database, err = db.Connect(cfg.Database, log)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close()

		if err := database.Migrate(context.Background()); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
		sink = subscriber.NewRepository(database, log)
		progress = ingest.NewRepository(database, log)
	}

	var publisher ingest.Publisher
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, log)
		defer producer.Close()

		kafkaCtx, kafkaCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := producer.Ping(kafkaCtx); err != nil {
			// Progress events are informational; sync works without them.
			log.Warnf("⚠️  Kafka unreachable, progress events disabled: %v", err)
		} else {
			publisher = producer
			log.Info("✅ Kafka is healthy")
		}
		kafkaCancel()
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.MustNew(nil)
	}

	httpClient, err := mtlsConfig.HTTPClient(30 * time.Second)
	if err != nil {
		log.Fatalf("Failed to build sync HTTP client: %v", err)
	}
	source := ingest.NewHTTPSource(cfg.Sync, httpClient, log)

	service := ingest.NewService(source, sink, progress, publisher, cfg.Sync, m, log)
	handler := ingest.NewHandler(service, log)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux, cfg.JWT.Secret)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if database != nil {
			if err := database.Health(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"unhealthy"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})
	if m != nil {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.Handler())
	}

	var h http.Handler = mux
	h = middleware.CORS(h)
	h = m.Middleware(h)
	h = middleware.Logging(log)(h)
	h = middleware.Recovery(log)(h)

	scheduler := jobs.NewScheduler(log)
	if err := jobs.RegisterSync(scheduler, cfg, service); err != nil {
		log.Fatalf("Failed to schedule sync: %v", err)
	}
	scheduler.Start()

	server := &http.Server{
		Addr:         ":" + cfg.Service.Port,
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infof("🌐 Sync API starting on port %s", cfg.Service.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("🛑 Shutting down sync service...")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}

	log.Info("✅ Sync service exited gracefully")
}
