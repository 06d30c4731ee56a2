package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"jobdesk/internal/backend"
	"jobdesk/internal/cache"
	"jobdesk/internal/cli"
	"jobdesk/internal/config"
	apphttp "jobdesk/internal/http"
	"jobdesk/internal/log"
	"jobdesk/internal/services"
)

func main() {
	cfg, logger := cli.LoadAndValidateConfig(log.ComponentApp)

	if err := run(cfg, logger); err != nil {
		logger.Error("Server stopped with error", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}

func run(cfg *config.Config, logger *log.Logger) error {
	ctx, stop := cli.SignalContext()
	defer stop()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}
	res, err := backend.NewFactory(logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		return fmt.Errorf("create backend: %w", err)
	}
	defer func() {
		if err := res.Close(); err != nil {
			logger.Error("Backend cleanup failed", log.FieldError, err)
		}
	}()

	view, err := cli.NewScheduleView(cfg)
	if err != nil {
		return err
	}
	// Invoice events are recorded in the store's outbox on every submit and
	// drained into the broker when one is configured.
	var notifier services.InvoiceEventNotifier
	if res.Publisher != nil {
		events := services.NewInvoiceEventProcessor(res.Store, res.Publisher, logger, services.DefaultInvoiceEventProcessorConfig())
		if err := events.Start(ctx); err != nil {
			return fmt.Errorf("start invoice event processor: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := events.Stop(stopCtx); err != nil {
				logger.Error("Invoice event processor stop failed", log.FieldError, err)
			}
		}()
		notifier = events
	}

	scheduleSvc := services.NewScheduleService(res.Store, view, logger)
	invoiceSvc := services.NewInvoiceService(res.Store, notifier, logger, services.InvoiceServiceConfig{
		SessionTTL: cfg.SessionTTL,
		CacheSize:  cfg.SessionCacheSize,
	})

	caches := cache.NewManager(logger.Logger.With(log.FieldComponent, log.ComponentCache))
	caches.Register(invoiceSvc.Sessions())
	caches.StartCleanup(time.Minute)
	defer caches.Stop()

	srv := apphttp.NewServer(apphttp.ServerConfig{
		Addr:         ":" + cfg.Port,
		CORSOrigins:  cfg.CORSOrigins,
		RateLimitRPM: cfg.RateLimitRPM,
		Ready:        res.Ready,
	}, scheduleSvc, invoiceSvc, logger)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting jobdesk server",
			"port", cfg.Port,
			"backend", cfg.DataBackend,
			"timezone", view.Location().String(),
			"events_enabled", res.Publisher != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
