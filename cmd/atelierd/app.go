package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/atelier/internal/account"
	"github.com/MarkoPoloResearchLab/atelier/internal/credit"
	"github.com/MarkoPoloResearchLab/atelier/internal/database"
	"github.com/MarkoPoloResearchLab/atelier/internal/observability"
	"github.com/MarkoPoloResearchLab/atelier/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/atelier/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/atelier/pkg/ledger"
)

// application holds the wired services and the resources to release.
type application struct {
	logger   *zap.Logger
	metrics  *observability.Metrics
	ledger   *ledger.Service
	accounts *account.Service
	pins     *credit.PINRegistry
	closers  []func()
}

func (app *application) Close() {
	for index := len(app.closers) - 1; index >= 0; index-- {
		app.closers[index]()
	}
}

func clock() time.Time {
	return time.Now().UTC()
}

// newApplication opens storage and wires the ledger and account services.
func newApplication(ctx context.Context, cfg runtimeConfig, logger *zap.Logger) (*application, error) {
	db, err := database.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("database open: %w", err)
	}
	app := &application{logger: logger, pins: credit.NewPINRegistry()}
	app.closers = append(app.closers, func() { _ = db.Close() })

	store, err := app.openStore(ctx, cfg, db)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.metrics = observability.NewMetrics(app.pins.Outstanding)
	app.ledger, err = ledger.NewService(store, clock,
		ledger.WithOperationLogger(app.operationLogger()),
		ledger.WithDeductPolicy(cfg.DeductPolicy),
	)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("ledger service init: %w", err)
	}
	app.accounts, err = account.NewService(app.ledger, clock, account.WithOperationLogger(app.operationLogger()))
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("account service init: %w", err)
	}
	return app, nil
}

// newCreditService wires purchases and redemptions over the shared PIN registry.
func (app *application) newCreditService(paymentMode string) (*credit.Service, error) {
	payments, err := credit.ParsePaymentMode(paymentMode)
	if err != nil {
		return nil, err
	}
	return credit.NewService(app.ledger, app.pins, payments, clock, credit.WithOperationLogger(app.operationLogger()))
}

func (app *application) openStore(ctx context.Context, cfg runtimeConfig, db *database.Database) (ledger.Store, error) {
	if cfg.Store != storePGX {
		return gormstore.New(db.Gorm), nil
	}
	pool, err := db.OpenPool(ctx)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, pool.Close)
	return pgstore.New(pool), nil
}

func (app *application) operationLogger() ledger.OperationLogger {
	return observability.MultiOperationLogger{
		observability.NewZapOperationLogger(app.logger),
		app.metrics,
	}
}
