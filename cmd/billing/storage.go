package main

import (
	"context"
	"fmt"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/activation"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/billing"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/cashback"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/config"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/db"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/logger"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/history"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/ledger"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/store/memory"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/subscriber"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/wallet"
	"github.com/Ali-Mohammed/openRadius-sub010/pkg/outbox"
)

// storage is the set of repositories behind the billing service. With the
// memory driver database and outbox are nil.
type storage struct {
	wallets     wallet.Repository
	ledger      ledger.Repository
	billing     billing.Repository
	cashback    cashback.Repository
	subscribers subscriber.Repository
	activations activation.Repository
	history     history.Repository

	database *db.DB
	outbox   *outbox.Repository
}

func openStorage(ctx context.Context, cfg *config.Config, log *logger.Logger) (*storage, error) {
	switch cfg.Service.StorageDriver {
	case "memory":
		log.Warn("⚠️  Using in-memory storage - data is lost on restart")
		store := memory.New()
		return &storage{
			wallets:     store.Wallets(),
			ledger:      store.Ledger(),
			billing:     store.Billing(),
			cashback:    store.Cashback(),
			subscribers: store.Subscribers(),
			activations: store.Activations(),
			history:     store.History(),
		}, nil

	case "", "postgres":
		database, err := db.Connect(cfg.Database, log)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := database.Migrate(ctx); err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}

		outboxRepo := outbox.NewRepository(database.DB, log)
		return &storage{
			wallets:     wallet.NewRepository(database, outboxRepo, log),
			ledger:      ledger.NewRepository(database, outboxRepo, log),
			billing:     billing.NewRepository(database, log),
			cashback:    cashback.NewRepository(database, log),
			subscribers: subscriber.NewRepository(database, log),
			activations: activation.NewRepository(database, outboxRepo, log),
			history:     history.NewRepository(database, log),
			database:    database,
			outbox:      outboxRepo,
		}, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Service.StorageDriver)
}

func (s *storage) Health(ctx context.Context) error {
	if s.database == nil {
		return nil
	}
	return s.database.Health(ctx)
}

func (s *storage) Close() {
	if s.database != nil {
		s.database.Close()
	}
}
