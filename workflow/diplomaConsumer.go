package workflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/mmdatafocus/diplomas_backend/config"
	"github.com/mmdatafocus/diplomas_backend/metrics"
	"github.com/mmdatafocus/diplomas_backend/utils"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
)

const (
	consumerBreakerName     = "diploma-queue"
	consumerBreakerFailures = 5
	consumerBreakerTimeout  = 60 * time.Second
)

// MessageProcessor handles one message body. A nil error acknowledges the message.
type MessageProcessor interface {
	Process(ctx context.Context, data []byte) error
}

// DeadLetterSink receives messages that used up their delivery budget.
type DeadLetterSink interface {
	PublishDeadLetter(ctx context.Context, data []byte, attributes map[string]string) error
}

type topicDeadLetterSink struct {
	topic *pubsub.Topic
}

func (s topicDeadLetterSink) PublishDeadLetter(ctx context.Context, data []byte, attributes map[string]string) error {
	_, err := s.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attributes}).Get(ctx)
	return err
}

// deliveredMessage is the part of a Pub/Sub delivery the consumer acts on.
type deliveredMessage struct {
	ID              string
	Data            []byte
	Attributes      map[string]string
	DeliveryAttempt *int
}

// DiplomaConsumer owns the worker's Pub/Sub connection. It keeps reconnecting until
// ctx is cancelled, with exponential delays and a circuit breaker around each session.
type DiplomaConsumer struct {
	Config    *config.Config
	Processor MessageProcessor
	Logger    *logrus.Logger

	// Connect creates the Pub/Sub client of one session; the consumer closes it.
	Connect func(ctx context.Context) (*pubsub.Client, error)

	breaker *gobreaker.CircuitBreaker[struct{}]
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewDiplomaConsumer(cfg *config.Config, processor MessageProcessor, logger *logrus.Logger) *DiplomaConsumer {
	if logger == nil {
		logger = config.GetLogger()
	}
	c := &DiplomaConsumer{
		Config:    cfg,
		Processor: processor,
		Logger:    logger,
		Connect: func(ctx context.Context) (*pubsub.Client, error) {
			return config.NewPubSubClient(ctx, cfg)
		},
		sleep: sleepCtx,
	}
	c.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        consumerBreakerName,
		MaxRequests: 1,
		Timeout:     consumerBreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= consumerBreakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			logger.WithFields(logrus.Fields{
				"field":   "DiplomaConsumer",
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("queue circuit breaker state changed")
		},
	})
	metrics.CircuitBreakerState.WithLabelValues(consumerBreakerName).Set(float64(gobreaker.StateClosed))
	return c
}

// Run consumes until ctx is cancelled. Every session failure or end leads to a fresh
// client after a delay that doubles from WorkerReconnectDelay up to WorkerMaxReconnectDelay.
func (c *DiplomaConsumer) Run(ctx context.Context) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		_, err := c.breaker.Execute(func() (struct{}, error) {
			return struct{}{}, c.consumeOnce(ctx)
		})
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			attempt = 0
		}
		attempt++

		delay := utils.Backoff(c.Config.WorkerReconnectDelay, c.Config.WorkerMaxReconnectDelay, attempt)
		metrics.WorkerReconnects.Inc()
		msg := "queue session ended; reconnecting in " + delay.String()
		if err != nil {
			msg = "queue session failed; reconnecting in " + delay.String() + ": " + err.Error()
		}
		c.Logger.WithFields(logrus.Fields{
			"field":   "DiplomaConsumer",
			"attempt": attempt,
			"breaker": c.breaker.State().String(),
		}).Warn(msg)

		if err := c.sleep(ctx, delay); err != nil {
			return nil
		}
	}
}

func (c *DiplomaConsumer) consumeOnce(ctx context.Context) error {
	client, err := c.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer client.Close()

	topic, err := config.CreateTopicIfNotExists(ctx, client, c.Config.DiplomaTopic)
	if err != nil {
		return fmt.Errorf("declare topic: %w", err)
	}
	defer topic.Stop()
	deadTopic, err := config.CreateTopicIfNotExists(ctx, client, c.Config.DiplomaDeadLetterTopic)
	if err != nil {
		return fmt.Errorf("declare dead letter topic: %w", err)
	}
	defer deadTopic.Stop()

	opts := config.SubscriptionOptions{MaxDeliveryAttempts: c.Config.WorkerMaxDeliveryAttempts}
	if config.ServerDeadLetterEnabled() {
		opts.DeadLetterTopic = deadTopic
	}
	sub, err := config.CreateSubscriptionIfNotExists(ctx, client, c.Config.DiplomaSubscription, topic, opts)
	if err != nil {
		return fmt.Errorf("declare subscription: %w", err)
	}
	concurrency := c.Config.WorkerConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	sub.ReceiveSettings.NumGoroutines = 1
	sub.ReceiveSettings.MaxOutstandingMessages = concurrency

	c.Logger.WithFields(logrus.Fields{
		"field":        "DiplomaConsumer",
		"subscription": c.Config.DiplomaSubscription,
		"concurrency":  concurrency,
	}).Info("consuming diploma jobs")

	sink := topicDeadLetterSink{topic: deadTopic}
	return sub.Receive(ctx, func(mctx context.Context, m *pubsub.Message) {
		ack := c.handle(mctx, sink, deliveredMessage{
			ID:              m.ID,
			Data:            m.Data,
			Attributes:      m.Attributes,
			DeliveryAttempt: m.DeliveryAttempt,
		})
		if ack {
			m.Ack()
		} else {
			m.Nack()
		}
	})
}

// handle processes one delivery and reports whether it should be acknowledged.
// A failed delivery that reached the attempt budget is moved to the dead letter topic and acknowledged.
func (c *DiplomaConsumer) handle(ctx context.Context, sink DeadLetterSink, m deliveredMessage) bool {
	ctx = utils.SetMessageIdInContext(ctx, m.ID)
	if cid := m.Attributes["correlation_id"]; cid != "" {
		ctx = utils.SetCorrelationIdInContext(ctx, cid)
	} else {
		ctx = utils.SetCorrelationIdInContext(ctx, m.ID)
	}

	err := c.Processor.Process(ctx, m.Data)
	if err == nil {
		return true
	}
	if ctx.Err() != nil {
		return false
	}

	maxAttempts := c.Config.WorkerMaxDeliveryAttempts
	if m.DeliveryAttempt == nil || maxAttempts <= 0 || *m.DeliveryAttempt < maxAttempts {
		return false
	}

	attrs := make(map[string]string, len(m.Attributes)+3)
	for k, v := range m.Attributes {
		attrs[k] = v
	}
	attrs["source_message_id"] = m.ID
	attrs["delivery_attempt"] = strconv.Itoa(*m.DeliveryAttempt)
	attrs["last_error"] = err.Error()
	if dlErr := sink.PublishDeadLetter(ctx, m.Data, attrs); dlErr != nil {
		config.LogError(c.Logger, "diplomaConsumer.go", "handle", "publish dead letter", m.ID, dlErr)
		return false
	}
	metrics.RecordJob(metrics.OutcomeDeadLettered)
	c.Logger.WithFields(config.LogFields(ctx)).WithFields(logrus.Fields{
		"field":            "DiplomaConsumer",
		"delivery_attempt": *m.DeliveryAttempt,
	}).Error("diploma job moved to dead letter topic")
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
