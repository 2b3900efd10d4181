package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/diplomas_backend/config"
	"github.com/mmdatafocus/diplomas_backend/metrics"
	"github.com/mmdatafocus/diplomas_backend/models"
	"github.com/mmdatafocus/diplomas_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const pdfContentType = "application/pdf"

// jobHeader is the part of a queued job the worker reads; everything else is loaded from the store.
type jobHeader struct {
	DiplomaId int `json:"diplomaId"`
}

// DiplomaProcessor runs the generation state machine for one queued job:
// processing, render, upload, completed; any failure marks the diploma failed.
type DiplomaProcessor struct {
	DB         *gorm.DB
	Renderer   utils.DiplomaRenderer
	Store      utils.ArtifactStore
	Bucket     string
	ScratchDir string
	Logger     *logrus.Logger
	Tracer     trace.Tracer
	Now        func() time.Time
}

func NewDiplomaProcessor(db *gorm.DB, renderer utils.DiplomaRenderer, store utils.ArtifactStore, cfg *config.Config, logger *logrus.Logger) *DiplomaProcessor {
	if logger == nil {
		logger = config.GetLogger()
	}
	bucket := config.DefaultDiplomaBucket
	scratch := os.TempDir()
	if cfg != nil {
		if cfg.DiplomaBucket != "" {
			bucket = cfg.DiplomaBucket
		}
		if cfg.WorkerScratchDir != "" {
			scratch = cfg.WorkerScratchDir
		}
	}
	return &DiplomaProcessor{
		DB:         db,
		Renderer:   renderer,
		Store:      store,
		Bucket:     bucket,
		ScratchDir: scratch,
		Logger:     logger,
		Tracer:     otel.Tracer("diploma-worker"),
		Now:        time.Now,
	}
}

// Process handles one message body. A nil result means the message can be acknowledged:
// the diploma was completed, or the message was dropped as unusable.
// An error means the diploma was marked failed (best effort) and the message must be redelivered.
func (p *DiplomaProcessor) Process(ctx context.Context, data []byte) error {
	var job jobHeader
	if err := utils.UnmarshalFromJSON(data, &job); err != nil {
		metrics.RecordJob(metrics.OutcomeDropped)
		config.LogError(p.Logger, "diplomaProcessor.go", "Process", "malformed job payload; dropping", string(data), err)
		return nil
	}
	if job.DiplomaId <= 0 {
		metrics.RecordJob(metrics.OutcomeDropped)
		config.LogError(p.Logger, "diplomaProcessor.go", "Process", "job without diploma id; dropping", string(data), errors.New("diplomaId is required"))
		return nil
	}

	ctx = utils.SetDiplomaIdInContext(ctx, job.DiplomaId)
	ctx, span := p.tracer().Start(ctx, "diploma.process", trace.WithAttributes(attribute.Int("diploma.id", job.DiplomaId)))
	defer span.End()

	dropped, err := p.generate(ctx, job.DiplomaId)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(ctx.Err(), context.Canceled) {
			// Shutdown: leave the status alone, the message is redelivered.
			p.Logger.WithFields(config.LogFields(ctx)).WithField("field", "Process").
				Warn("diploma generation interrupted: " + err.Error())
			return err
		}
		if markErr := models.MarkDiplomaFailed(context.WithoutCancel(ctx), p.DB, job.DiplomaId); markErr != nil {
			config.LogError(p.Logger, "diplomaProcessor.go", "Process", "mark diploma failed", job.DiplomaId, markErr)
		}
		metrics.RecordJob(metrics.OutcomeFailed)
		p.Logger.WithFields(config.LogFields(ctx)).WithFields(logrus.Fields{
			"module":   "diplomaProcessor.go",
			"funcName": "Process",
		}).Error("diploma generation failed: " + err.Error())
		return err
	}
	if dropped {
		metrics.RecordJob(metrics.OutcomeDropped)
		return nil
	}
	metrics.RecordJob(metrics.OutcomeCompleted)
	return nil
}

// generate reports dropped when the diploma no longer exists.
func (p *DiplomaProcessor) generate(ctx context.Context, diplomaId int) (bool, error) {
	if err := models.MarkDiplomaProcessing(ctx, p.DB, diplomaId); err != nil {
		return false, fmt.Errorf("mark processing: %w", err)
	}

	view, err := models.GetDiplomaView(ctx, p.DB, diplomaId)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			p.Logger.WithFields(config.LogFields(ctx)).WithField("field", "Process").
				Warn("diploma not found; dropping job")
			return true, nil
		}
		return false, fmt.Errorf("load diploma: %w", err)
	}

	scratchPath := filepath.Join(p.ScratchDir, fmt.Sprintf("diploma_%d_%s.pdf", diplomaId, uuid.NewString()))
	defer func() {
		if rmErr := os.Remove(scratchPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			p.Logger.WithFields(config.LogFields(ctx)).WithField("field", "Process").
				Warn("failed to remove scratch file: " + rmErr.Error())
		}
	}()

	renderStart := time.Now()
	if err := p.Renderer.RenderToFile(ctx, view.TemplateData(), scratchPath); err != nil {
		return false, fmt.Errorf("render: %w", err)
	}
	metrics.ObserveSince(metrics.RenderDuration, renderStart)

	if err := p.Store.EnsureBucket(ctx, p.Bucket); err != nil {
		return false, fmt.Errorf("ensure bucket %s: %w", p.Bucket, err)
	}
	key := utils.DiplomaObjectKey(diplomaId, p.now())
	uploadStart := time.Now()
	if err := p.Store.UploadFile(ctx, p.Bucket, key, scratchPath, pdfContentType); err != nil {
		return false, fmt.Errorf("upload %s: %w", key, err)
	}
	metrics.ObserveSince(metrics.UploadDuration, uploadStart)

	ref := utils.BuildObjectReference(p.Bucket, key)
	if err := models.MarkDiplomaCompleted(ctx, p.DB, diplomaId, ref); err != nil {
		return false, fmt.Errorf("mark completed: %w", err)
	}

	p.Logger.WithFields(config.LogFields(ctx)).WithFields(logrus.Fields{
		"field":   "Process",
		"pdf_url": ref,
	}).Info("diploma generated")
	return false, nil
}

func (p *DiplomaProcessor) tracer() trace.Tracer {
	if p.Tracer != nil {
		return p.Tracer
	}
	return otel.Tracer("diploma-worker")
}

func (p *DiplomaProcessor) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}
