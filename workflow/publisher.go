package workflow

import (
	"context"
	"strconv"

	"cloud.google.com/go/pubsub"
	"github.com/mmdatafocus/diplomas_backend/config"
	"github.com/mmdatafocus/diplomas_backend/models"
	"github.com/mmdatafocus/diplomas_backend/utils"
)

// JobPublisher hands a diploma generation job to the work queue and returns the message id.
type JobPublisher interface {
	PublishDiplomaJob(ctx context.Context, job models.DiplomaJob) (string, error)
}

type PubSubPublisher struct {
	Topic *pubsub.Topic
}

func NewPubSubPublisher(topic *pubsub.Topic) *PubSubPublisher {
	return &PubSubPublisher{Topic: topic}
}

func (p *PubSubPublisher) PublishDiplomaJob(ctx context.Context, job models.DiplomaJob) (string, error) {
	attrs := map[string]string{
		"diploma_id": strconv.Itoa(job.DiplomaId),
	}
	if cid, ok := utils.GetCorrelationIdFromContext(ctx); ok && cid != "" {
		attrs["correlation_id"] = cid
	}
	return config.PublishJSON(ctx, p.Topic, job, attrs)
}
