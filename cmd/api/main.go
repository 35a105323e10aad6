package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mcclellann/assocledger/pkg/config"
	"github.com/mcclellann/assocledger/pkg/ledger"
	"github.com/mcclellann/assocledger/pkg/store"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// newStatusSync schedules the periodic refresh of stored loan statuses.
func newStatusSync(l *ledger.Ledger, schedule string, logger *logrus.Logger) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		logger.Info("Running loan status sync...")
		updated, err := l.SyncStatuses(context.Background(), time.Now())
		if err != nil {
			logger.WithError(err).Error("Loan status sync finished with errors")
		}
		logger.WithField("updated", updated).Info("Loan status sync complete.")
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func main() {
	bootstrap := logrus.New()
	cfg, err := config.Load(bootstrap)
	if err != nil {
		bootstrap.Fatalf("Failed to load configuration: %v", err)
	}
	logger := cfg.NewLogger()
	cfg.Watch(logger)

	sqliteStore, err := store.NewSQLiteStore(cfg.DBPath, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize SQLite store: %v", err)
	}
	defer sqliteStore.Close()

	l := ledger.NewLedger(sqliteStore, cfg, logger)
	server := NewServer(l, logger)

	scheduler, err := newStatusSync(l, cfg.StatusSyncSchedule, logger)
	if err != nil {
		logger.Fatalf("Invalid status sync schedule %q: %v", cfg.StatusSyncSchedule, err)
	}
	scheduler.Start()

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("Server starting on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Errorf("Error during server shutdown: %v", err)
	}
	<-scheduler.Stop().Done()
	logger.Info("Server stopped")
}
