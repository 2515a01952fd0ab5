package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"library_service/pkg/accounts"
	"library_service/pkg/api"
	"library_service/pkg/auth"
	"library_service/pkg/catalog"
	"library_service/pkg/config"
	"library_service/pkg/database"
	"library_service/pkg/fines"
	"library_service/pkg/lending"
	"library_service/pkg/payments"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// app is everything a subcommand needs once configuration and the database are up.
type app struct {
	cfg  *config.Config
	log  *slog.Logger
	db   *gorm.DB
	deps api.Deps
}

func newApp(cfg *config.Config, log *slog.Logger, db *gorm.DB) *app {
	if log == nil {
		log = slog.Default()
	}
	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.JWTTTL, cfg.JWTIssuer)
	return &app{
		cfg: cfg,
		log: log,
		db:  db,
		deps: api.Deps{
			DB:          db,
			Tokens:      tokens,
			Accounts:    accounts.NewService(db, auth.NewBcryptHasher(cfg.BcryptCost), tokens, log),
			Catalog:     catalog.NewService(db, log),
			Lending:     lending.NewService(db, cfg.LoanPeriodDays, log),
			Fines:       fines.NewService(db, cfg.FineDailyRate, log),
			Payments:    payments.NewService(db, log),
			BorrowLimit: cfg.BorrowLimit,
			Log:         log,
		},
	}
}

// openApp loads configuration, connects and migrates.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := cfg.NewLogger()
	slog.SetDefault(log)

	db, err := database.Open(cfg.DB, log)
	if err != nil {
		return nil, err
	}
	a := newApp(cfg, log, db)
	if err := database.Migrate(db.WithContext(ctx)); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// close releases the connection pool.
func (a *app) close() {
	sqlDB, err := a.db.DB()
	if err != nil {
		a.log.Warn("get database instance", "error", err)
		return
	}
	if err := sqlDB.Close(); err != nil {
		a.log.Warn("close database", "error", err)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "library",
		Short:        "Library lending, fines and payments service",
		SilenceUsage: true,
	}
	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newSweepCmd(),
		newCreateStaffCmd(),
		newSeedCmd(),
	)
	return root
}
