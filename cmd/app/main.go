package main

import (
	"context"
	"errors"
	"log"
	"os"

	"invoice-engine/internal/adapters/cli"
	"invoice-engine/internal/app"
	"invoice-engine/internal/config"
	"invoice-engine/internal/core"
	"invoice-engine/internal/db"
	"invoice-engine/internal/logger"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := logger.Setup(logger.LogConfig{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		TimeFormat: cfg.Log.TimeFormat,
		Output:     cfg.Log.Output,
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	appLog := logger.WithComponent("app")

	offline := app.NewAppService(nil, nil, cfg.Engine.Rounding, appLog)
	connect := func(ctx context.Context) (app.ApplicationService, func(), error) {
		pool, err := db.NewPool(ctx, cfg.DB.URL, cfg.DB.MaxConns)
		if err != nil {
			return nil, nil, err
		}
		inventoryService := core.NewInventoryService(pool)
		invoiceService := core.NewInvoiceService(pool, inventoryService)
		return app.NewAppService(inventoryService, invoiceService, cfg.Engine.Rounding, appLog), pool.Close, nil
	}

	root := cli.NewRootCommand(offline, connect)
	if err := root.ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, cli.ErrNotCommitted) {
			appLog.Error().Err(err).Msg("command failed")
		}
		os.Exit(1)
	}
}
