package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/bsm/redislock"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/diplomas_backend/config"
	"github.com/mmdatafocus/diplomas_backend/metrics"
	"github.com/mmdatafocus/diplomas_backend/middlewares"
	"github.com/mmdatafocus/diplomas_backend/models"
	"github.com/mmdatafocus/diplomas_backend/utils"
	"github.com/mmdatafocus/diplomas_backend/workflow"
	"github.com/sirupsen/logrus"
)

type createDiplomaResponse struct {
	DiplomaId int `json:"diplomaId"`
}

// serviceRef holds the diploma service once its dependencies are connected.
type serviceRef struct {
	p atomic.Pointer[workflow.DiplomaService]
}

func (r *serviceRef) Get() *workflow.DiplomaService { return r.p.Load() }

func (r *serviceRef) Set(svc *workflow.DiplomaService) { r.p.Store(svc) }

func (r *serviceRef) Ready() bool { return r.p.Load() != nil }

func createDiplomaHandler(ref *serviceRef, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.NewDiploma
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
			return
		}

		ctx := c.Request.Context()
		id, err := ref.Get().CreateDiploma(ctx, &req)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, createDiplomaResponse{DiplomaId: id})
		case errors.Is(err, utils.ErrValidation):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":  "validation failed",
				"fields": utils.ProcessValidationErrors(err),
			})
		case errors.Is(err, utils.ErrEnqueueFailed) && id > 0:
			// The diploma is stored; the reconciliation sweep will queue it.
			logger.WithFields(config.LogFields(utils.SetDiplomaIdInContext(ctx, id))).
				WithField("field", "createDiplomaHandler").Warn(err.Error())
			c.JSON(http.StatusOK, createDiplomaResponse{DiplomaId: id})
		default:
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create diploma"})
		}
	}
}

func getDiplomaHandler(ref *serviceRef) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid diploma id"})
			return
		}

		view, err := ref.Get().GetDiploma(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "diploma not found"})
				return
			}
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read diploma"})
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func newRouter(cfg *config.Config, logger *logrus.Logger, ref *serviceRef) *gin.Engine {
	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(metrics.PrometheusMiddleware())
	r.Use(middlewares.CorsMiddleware(cfg))
	r.Use(middlewares.ReadinessMiddleware(ref.Ready))
	r.Use(middlewares.ErrorLogger(logger))
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.POST("/diplomas", createDiplomaHandler(ref, logger))
	r.GET("/diplomas/:id", getDiplomaHandler(ref))
	r.NoRoute(customNotFoundHandler)
	return r
}

func main() {
	cfg := config.LoadConfig()
	config.SetLogLevel(cfg.LogLevel)
	logger := config.GetLogger()
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Listen first; application routes answer 503 until the dependencies are ready.
	ref := &serviceRef{}
	srv := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           newRouter(cfg, logger, ref),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	db, err := config.ConnectDatabaseWithRetry(sigCtx, cfg)
	if err != nil {
		logger.WithField("field", "database").Error("database not connected: " + err.Error())
		return
	}
	defer config.CloseDatabase(db)

	if !cfg.SkipMigrations {
		if err := models.MigrateTable(db); err != nil {
			logger.WithField("field", "migrations").Fatal(err.Error())
		}
	} else {
		logger.WithField("field", "migrations").Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	rdb, err := config.ConnectRedisWithRetry(sigCtx, cfg)
	if err != nil {
		logger.WithField("field", "redis").Error("redis not connected: " + err.Error())
		return
	}
	defer rdb.Close()

	psClient, err := config.NewPubSubClient(sigCtx, cfg)
	if err != nil {
		logger.WithField("field", "pubsub").Error("pubsub not connected: " + err.Error())
		return
	}
	defer psClient.Close()
	topic, err := declareDiplomaTopic(sigCtx, psClient, cfg)
	if err != nil {
		logger.WithField("field", "pubsub").Fatal(err.Error())
	}
	defer topic.Stop()

	publisher := workflow.NewPubSubPublisher(topic)
	ref.Set(workflow.NewDiplomaService(db, config.NewDiplomaCache(rdb, cfg.CacheTTL), publisher, logger))

	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	defer cancelSweep()
	if config.OrphanSweepEnabled() {
		go workflow.NewOrphanSweeper(db, redislock.New(rdb), publisher, cfg, logger).Run(sweepCtx)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
		"port": cfg.APIPort,
	}).Info("diploma api ready")
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithField("field", "http").Error("server stopped unexpectedly: " + err.Error())
		}
	}

	cancelSweep()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithField("field", "http").Error("graceful shutdown failed: " + err.Error())
	}
}

// declareDiplomaTopic makes sure the work queue exists: the topic plus a pull
// subscription of the same name, so jobs published before any worker starts are kept.
func declareDiplomaTopic(ctx context.Context, client *pubsub.Client, cfg *config.Config) (*pubsub.Topic, error) {
	topic, err := config.CreateTopicIfNotExists(ctx, client, cfg.DiplomaTopic)
	if err != nil {
		return nil, err
	}
	opts := config.SubscriptionOptions{MaxDeliveryAttempts: cfg.WorkerMaxDeliveryAttempts}
	if config.ServerDeadLetterEnabled() {
		dead, err := config.CreateTopicIfNotExists(ctx, client, cfg.DiplomaDeadLetterTopic)
		if err != nil {
			return nil, err
		}
		opts.DeadLetterTopic = dead
	}
	if _, err := config.CreateSubscriptionIfNotExists(ctx, client, cfg.DiplomaSubscription, topic, opts); err != nil {
		return nil, err
	}
	return topic, nil
}
