package db

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/lib/pq"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/config"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/logger"
)

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func loadTestEnv() {
	if err := godotenv.Load("../../../.env"); err != nil {
		log.Println("WARNING: Could not load .env file from project root. Falling back to defaults:", err)
	}
}

func testConfig() config.DatabaseConfig {
	return config.DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnv("DB_PORT", "5432"),
		User:            getEnv("DB_USER", "postgres"),
		Password:        getEnv("DB_PASSWORD", "postgres"),
		DBName:          getEnv("DB_NAME", "openradius_billing_test"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: 5 * time.Minute,
	}
}

func TestConnect(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}
	loadTestEnv()

	db, err := Connect(testConfig(), logger.New("test"))
	if err != nil {
		t.Skipf("Cannot connect to database (expected in CI): %v", err)
		return
	}
	defer db.Close()

	if err := db.Health(context.Background()); err != nil {
		t.Errorf("Health check failed: %v", err)
	}
}

func TestWithTransactionAndMigrate(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}
	loadTestEnv()

	db, err := Connect(testConfig(), logger.New("test"))
	if err != nil {
		t.Skipf("Cannot connect to database: %v", err)
		return
	}
	defer db.Close()

	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	// second run must be a no-op
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate is not idempotent: %v", err)
	}

	err = db.WithTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return nil
	})
	if err != nil {
		t.Errorf("Transaction failed: %v", err)
	}

	boom := errors.New("boom")
	err = db.WithTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected fn error to be returned, got %v", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !IsUniqueViolation(&pq.Error{Code: "23505"}) {
		t.Error("23505 should be a unique violation")
	}
	if IsUniqueViolation(&pq.Error{Code: "23503"}) {
		t.Error("23503 is a foreign key violation")
	}
	if IsUniqueViolation(errors.New("plain")) {
		t.Error("plain errors are not unique violations")
	}
}

func TestNullHelpers(t *testing.T) {
	if NullString("").Valid {
		t.Error("empty string should be NULL")
	}
	now := time.Now()
	if got := TimePtr(NullTime(&now)); got == nil || !got.Equal(now) {
		t.Errorf("time round trip lost value: %v", got)
	}
	if TimePtr(NullTime(nil)) != nil {
		t.Error("nil time should stay nil")
	}
}
