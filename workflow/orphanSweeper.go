package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/diplomas_backend/config"
	"github.com/mmdatafocus/diplomas_backend/metrics"
	"github.com/mmdatafocus/diplomas_backend/models"
	"github.com/mmdatafocus/diplomas_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	orphanSweepLockKey = "lock:diploma_orphan_sweep"
	orphanSweepBatch   = 100
)

// OrphanSweeper republishes diplomas left pending or processing for longer than StaleAfter,
// e.g. when the publish after commit failed or a worker died mid job.
type OrphanSweeper struct {
	DB         *gorm.DB
	Locker     *redislock.Client
	Publisher  JobPublisher
	Logger     *logrus.Logger
	Interval   time.Duration
	StaleAfter time.Duration
	BatchSize  int
	Now        func() time.Time
}

func NewOrphanSweeper(db *gorm.DB, locker *redislock.Client, publisher JobPublisher, cfg *config.Config, logger *logrus.Logger) *OrphanSweeper {
	if logger == nil {
		logger = config.GetLogger()
	}
	return &OrphanSweeper{
		DB:         db,
		Locker:     locker,
		Publisher:  publisher,
		Logger:     logger,
		Interval:   cfg.SweepInterval,
		StaleAfter: cfg.SweepStaleAfter,
		BatchSize:  orphanSweepBatch,
		Now:        time.Now,
	}
}

func (s *OrphanSweeper) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				config.LogError(s.Logger, "orphanSweeper.go", "Run", "sweep", nil, err)
			}
		}
	}
}

// SweepOnce republishes one batch of stale diplomas and returns how many were requeued.
// It does nothing when another instance holds the sweep lock.
func (s *OrphanSweeper) SweepOnce(ctx context.Context) (int, error) {
	if s.Locker != nil {
		lock, err := s.Locker.Obtain(ctx, orphanSweepLockKey, s.lockTTL(), nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			s.Logger.WithField("field", "OrphanSweeper").Debug("sweep lock held elsewhere; skipping")
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		defer func() {
			if releaseErr := lock.Release(context.WithoutCancel(ctx)); releaseErr != nil && !errors.Is(releaseErr, redislock.ErrLockNotHeld) {
				s.Logger.WithField("field", "OrphanSweeper").Warn("failed to release sweep lock: " + releaseErr.Error())
			}
		}()
	}

	now := s.now()
	staleAfter := s.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	ids, err := models.ListStaleDiplomaIds(ctx, s.DB, now.Add(-staleAfter), s.BatchSize)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, id := range ids {
		idCtx := utils.SetDiplomaIdInContext(ctx, id)
		view, err := models.GetDiplomaView(idCtx, s.DB, id)
		if err != nil {
			config.LogError(s.Logger, "orphanSweeper.go", "SweepOnce", "load stale diploma", id, err)
			continue
		}
		if _, err := s.Publisher.PublishDiplomaJob(idCtx, models.NewDiplomaJobFromView(view)); err != nil {
			config.LogError(s.Logger, "orphanSweeper.go", "SweepOnce", "republish stale diploma", id, err)
			continue
		}
		if err := models.TouchDiploma(idCtx, s.DB, id, now); err != nil {
			config.LogError(s.Logger, "orphanSweeper.go", "SweepOnce", "touch stale diploma", id, err)
		}
		requeued++
		metrics.OrphansRequeued.Inc()
	}

	if requeued > 0 {
		s.Logger.WithFields(logrus.Fields{
			"field":    "OrphanSweeper",
			"stale":    len(ids),
			"requeued": requeued,
		}).Info("requeued stale diplomas")
	}
	return requeued, nil
}

func (s *OrphanSweeper) lockTTL() time.Duration {
	if s.Interval > 0 {
		return s.Interval
	}
	return time.Minute
}

func (s *OrphanSweeper) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
