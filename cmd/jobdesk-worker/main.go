package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"jobdesk/internal/amqp"
	"jobdesk/internal/cli"
	"jobdesk/internal/config"
	"jobdesk/internal/log"
	"jobdesk/internal/sheets/google"
	"jobdesk/internal/worker"
)

func main() {
	cfg, logger := cli.LoadAndValidateConfig(log.ComponentWorker)
	logger.Info("Starting jobdesk-worker")

	if err := run(cfg, logger); err != nil {
		logger.Error("Worker stopped with error", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Worker stopped gracefully")
}

func run(cfg *config.Config, logger *log.Logger) error {
	if cfg.DataBackend != "sqlite" || !cfg.AMQPEnabled() {
		return errors.New("the worker needs DATA_BACKEND=sqlite and AMQP_URL")
	}

	ctx, stop := cli.SignalContext()
	defer stop()

	repo, err := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	if err != nil {
		return err
	}
	defer repo.Close()

	var exporter worker.InvoiceExporter
	if cfg.SheetsExportEnabled() {
		sheetsClient, err := google.New(ctx, google.Config{
			SpreadsheetID:   cfg.GoogleSpreadsheetID,
			SheetName:       cfg.GoogleSheetName,
			CredentialsJSON: cfg.GoogleServiceAccountJSON,
			CredentialsFile: cfg.GoogleServiceAccountFile,
		}, logger)
		if err != nil {
			return fmt.Errorf("initialize Google Sheets client: %w", err)
		}
		exporter = sheetsClient
		logger.Info("Google Sheets export enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		logger.Info("Google Sheets export disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		return fmt.Errorf("initialize AMQP client: %w", err)
	}
	defer amqpClient.Close()

	invoiceWorker := worker.NewInvoiceWorker(repo, exporter, logger)
	logger.Info("Consuming invoice committed messages", "queue", cfg.AMQPQueue)
	err = amqpClient.ConsumeInvoiceCommitted(ctx, invoiceWorker.HandleInvoiceCommitted)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
