package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/diplomas_backend/config"
	"github.com/mmdatafocus/diplomas_backend/metrics"
	"github.com/mmdatafocus/diplomas_backend/models"
	"github.com/mmdatafocus/diplomas_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DiplomaCacher is the read cache of diploma projections.
type DiplomaCacher interface {
	Get(ctx context.Context, id int, dest any) (bool, error)
	Set(ctx context.Context, id int, obj any) error
}

// DiplomaService records diploma requests and serves the read projection.
type DiplomaService struct {
	DB        *gorm.DB
	Cache     DiplomaCacher
	Publisher JobPublisher
	Logger    *logrus.Logger

	// Now returns the current time; the issue date is its calendar day.
	Now           func() time.Time
	MaxTxAttempts int
}

func NewDiplomaService(db *gorm.DB, cache DiplomaCacher, publisher JobPublisher, logger *logrus.Logger) *DiplomaService {
	if logger == nil {
		logger = config.GetLogger()
	}
	return &DiplomaService{
		DB:            db,
		Cache:         cache,
		Publisher:     publisher,
		Logger:        logger,
		Now:           time.Now,
		MaxTxAttempts: defaultTxAttempts,
	}
}

// CreateDiploma validates input, writes the student, the signatory and a pending diploma in
// one transaction and then publishes the generation job.
// When the publish fails after commit the new id is returned together with utils.ErrEnqueueFailed.
func (s *DiplomaService) CreateDiploma(ctx context.Context, input *models.NewDiploma) (int, error) {
	if input == nil {
		return 0, fmt.Errorf("%w: empty request", utils.ErrValidation)
	}
	if err := getValidator().StructCtx(ctx, input); err != nil {
		return 0, fmt.Errorf("%w: %w", utils.ErrValidation, err)
	}

	issuedOn := models.DateOf(s.now())
	var diplomaId int
	err := withTxRetry(ctx, s.DB, s.MaxTxAttempts, func(tx *gorm.DB) error {
		id, err := models.CreateDiplomaRecords(tx, input, issuedOn)
		if err != nil {
			return err
		}
		diplomaId = id
		return nil
	})
	if err != nil {
		config.LogError(s.Logger, "diplomaService.go", "CreateDiploma", "write diploma records", input.Course, err)
		return 0, err
	}
	metrics.DiplomasCreated.Inc()

	ctx = utils.SetDiplomaIdInContext(ctx, diplomaId)
	job := models.DiplomaJob{DiplomaId: diplomaId, NewDiploma: *input}
	if s.Publisher == nil {
		metrics.EnqueueFailures.Inc()
		return diplomaId, fmt.Errorf("%w: no publisher configured", utils.ErrEnqueueFailed)
	}
	msgId, err := s.Publisher.PublishDiplomaJob(ctx, job)
	if err != nil {
		metrics.EnqueueFailures.Inc()
		s.Logger.WithFields(config.LogFields(ctx)).WithField("field", "CreateDiploma").
			Error("diploma committed but job publish failed; left for reconciliation: " + err.Error())
		return diplomaId, fmt.Errorf("%w: %w", utils.ErrEnqueueFailed, err)
	}

	s.Logger.WithFields(config.LogFields(ctx)).WithFields(logrus.Fields{
		"field":      "CreateDiploma",
		"message_id": msgId,
	}).Info("diploma created and queued")
	return diplomaId, nil
}

// GetDiploma returns the projection of id, reading the cache first.
// A cached entry is returned as is, even if the row changed since it was stored.
func (s *DiplomaService) GetDiploma(ctx context.Context, id int) (*models.DiplomaView, error) {
	if s.Cache != nil {
		var cached models.DiplomaView
		found, err := s.Cache.Get(ctx, id, &cached)
		switch {
		case err != nil:
			metrics.RecordCacheLookup("error")
			s.Logger.WithFields(config.LogFields(ctx)).WithFields(logrus.Fields{
				"field":      "GetDiploma",
				"diploma_id": id,
			}).Warn("diploma cache read failed; reading store: " + err.Error())
		case found:
			metrics.RecordCacheLookup("hit")
			return &cached, nil
		default:
			metrics.RecordCacheLookup("miss")
		}
	}

	view, err := models.GetDiplomaView(ctx, s.DB, id)
	if err != nil {
		if !errors.Is(err, utils.ErrorRecordNotFound) {
			config.LogError(s.Logger, "diplomaService.go", "GetDiploma", "read diploma view", id, err)
		}
		return nil, err
	}

	if s.Cache != nil {
		if err := s.Cache.Set(ctx, id, view); err != nil {
			s.Logger.WithFields(config.LogFields(ctx)).WithFields(logrus.Fields{
				"field":      "GetDiploma",
				"diploma_id": id,
			}).Warn("diploma cache write failed: " + err.Error())
		}
	}
	return view, nil
}

func (s *DiplomaService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
