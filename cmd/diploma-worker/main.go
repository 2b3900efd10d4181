// diploma-worker consumes diploma generation jobs from Pub/Sub, renders each diploma
// to PDF with wkhtmltopdf and uploads it to the configured artifact store.
//
// Usage (from backend directory):
//
//	DB_*=... PUBSUB_PROJECT_ID=... STORAGE_PROVIDER=minio MINIO_URL=... go run ./cmd/diploma-worker
//
// wkhtmltopdf must be on PATH (or WKHTMLTOPDF_PATH set).
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mmdatafocus/diplomas_backend/config"
	"github.com/mmdatafocus/diplomas_backend/metrics"
	"github.com/mmdatafocus/diplomas_backend/utils"
	"github.com/mmdatafocus/diplomas_backend/workflow"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg := config.LoadConfig()
	config.SetLogLevel(cfg.LogLevel)
	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithField("field", "metrics").Warn("metrics server shutdown: " + err.Error())
		}
	}()

	renderer, err := utils.NewPDFRenderer(cfg.DiplomaTemplate)
	if err != nil {
		logger.WithField("field", "renderer").Fatal(err.Error())
	}
	if err := os.MkdirAll(cfg.WorkerScratchDir, 0o700); err != nil {
		logger.WithField("field", "scratch").Fatal(err.Error())
	}

	db, err := config.ConnectDatabaseWithRetry(sigCtx, cfg)
	if err != nil {
		logger.WithField("field", "database").Error("database not connected: " + err.Error())
		return
	}
	defer config.CloseDatabase(db)

	store, err := utils.NewArtifactStore(sigCtx, cfg)
	if err != nil {
		logger.WithField("field", "storage").Fatal(err.Error())
	}
	defer store.Close()

	processor := workflow.NewDiplomaProcessor(db, renderer, store, cfg, logger)
	consumer := workflow.NewDiplomaConsumer(cfg, processor, logger)

	logger.WithFields(logrus.Fields{
		"field":        "diploma-worker",
		"subscription": cfg.DiplomaSubscription,
		"storage":      utils.GetStorageProvider(cfg),
		"bucket":       processor.Bucket,
		"concurrency":  cfg.WorkerConcurrency,
	}).Info("diploma worker started")

	if err := consumer.Run(sigCtx); err != nil {
		logger.WithField("field", "diploma-worker").Error(err.Error())
	}
	logger.WithField("field", "diploma-worker").Info("diploma worker stopped")
}
