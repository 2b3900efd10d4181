package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// Pub/Sub accepts dead-letter delivery budgets within [5, 100].
const (
	minDeadLetterAttempts = 5
	maxDeadLetterAttempts = 100
)

// SubscriptionOptions tunes the diploma subscription: a retry policy with exponential
// backoff and an optional dead-letter topic.
type SubscriptionOptions struct {
	AckDeadline         time.Duration
	MinimumBackoff      time.Duration
	MaximumBackoff      time.Duration
	DeadLetterTopic     *pubsub.Topic
	MaxDeliveryAttempts int
}

// NewPubSubClient creates a Pub/Sub client, retrying until it succeeds or ctx is done.
// It uses Application Default Credentials unless PUBSUB_CREDENTIALS_JSON is provided.
// The client is owned by the caller.
func NewPubSubClient(ctx context.Context, cfg *Config, opts ...option.ClientOption) (*pubsub.Client, error) {
	projectID := cfg.PubSubProjectID
	if projectID == "" {
		return nil, errors.New("PUBSUB_PROJECT_ID/GOOGLE_CLOUD_PROJECT not set")
	}
	if cfg.PubSubCredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.PubSubCredentialsJSON)))
	}

	var attempt int
	for {
		attempt++
		c, err := pubsub.NewClient(ctx, projectID, opts...)
		if err == nil {
			log.Printf("pubsub client ready (project_id=%s attempt=%d)", projectID, attempt)
			return c, nil
		}

		sleep := RetryDelay(attempt)
		log.Printf("failed to init pubsub client (project_id=%s attempt=%d): %v; retrying in %s", projectID, attempt, err, sleep)
		if err := sleepContext(ctx, sleep); err != nil {
			return nil, fmt.Errorf("init pubsub client: %w", err)
		}
	}
}

func CreateTopicIfNotExists(ctx context.Context, c *pubsub.Client, topic string) (*pubsub.Topic, error) {
	if c == nil {
		return nil, errors.New("pubsub client is nil")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}

	t := c.Topic(topic)
	ok, err := t.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		return t, nil
	}
	t, err = c.CreateTopic(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("create topic %q: %w", topic, err)
	}
	return t, nil
}

func CreateSubscriptionIfNotExists(ctx context.Context, client *pubsub.Client, name string, topic *pubsub.Topic, opts SubscriptionOptions) (*pubsub.Subscription, error) {
	if client == nil {
		return nil, errors.New("pubsub client is nil")
	}
	if name == "" {
		return nil, errors.New("subscription name is required")
	}
	if topic == nil {
		return nil, errors.New("topic is required")
	}

	sub := client.Subscription(name)
	subExists, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check subscription exists: %w", err)
	}
	if subExists {
		return sub, nil
	}
	sub, err = client.CreateSubscription(ctx, name, subscriptionConfig(topic, opts))
	if err != nil {
		return nil, fmt.Errorf("create subscription %q: %w", name, err)
	}
	return sub, nil
}

func subscriptionConfig(topic *pubsub.Topic, opts SubscriptionOptions) pubsub.SubscriptionConfig {
	ackDeadline := opts.AckDeadline
	if ackDeadline <= 0 {
		ackDeadline = 60 * time.Second
	}
	minBackoff := opts.MinimumBackoff
	if minBackoff <= 0 {
		minBackoff = 10 * time.Second
	}
	maxBackoff := opts.MaximumBackoff
	if maxBackoff <= 0 {
		maxBackoff = 600 * time.Second
	}
	sc := pubsub.SubscriptionConfig{
		Topic:       topic,
		AckDeadline: ackDeadline,
		RetryPolicy: &pubsub.RetryPolicy{
			MinimumBackoff: minBackoff,
			MaximumBackoff: maxBackoff,
		},
	}
	if opts.DeadLetterTopic != nil {
		sc.DeadLetterPolicy = &pubsub.DeadLetterPolicy{
			DeadLetterTopic:     opts.DeadLetterTopic.String(),
			MaxDeliveryAttempts: clampDeliveryAttempts(opts.MaxDeliveryAttempts),
		}
	}
	return sc
}

func clampDeliveryAttempts(n int) int {
	if n < minDeadLetterAttempts {
		return minDeadLetterAttempts
	}
	if n > maxDeadLetterAttempts {
		return maxDeadLetterAttempts
	}
	return n
}

// PublishJSON publishes obj as a JSON message and waits for the server-assigned message ID.
func PublishJSON(ctx context.Context, t *pubsub.Topic, obj any, attributes map[string]string) (string, error) {
	if t == nil {
		return "", errors.New("topic is required")
	}
	msgJSON, err := json.Marshal(obj)
	if err != nil {
		return "", err
	}
	result := t.Publish(ctx, &pubsub.Message{
		Data:       msgJSON,
		Attributes: attributes,
	})
	return result.Get(ctx)
}
