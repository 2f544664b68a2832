package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/compute/metadata"
	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

var (
	pubsubMu     sync.Mutex
	pubsubClient *pubsub.Client
	pubsubTopics = map[string]*pubsub.Topic{}
)

// PubSubProjectID resolves the project from env, falling back to the GCE
// metadata server when running on Google infrastructure.
func PubSubProjectID() string {
	for _, key := range []string{"PUBSUB_PROJECT_ID", "GOOGLE_CLOUD_PROJECT", "GCP_PROJECT"} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	if metadata.OnGCE() {
		if id, err := metadata.ProjectID(); err == nil {
			return id
		}
	}
	return ""
}

// GetPubSubClient returns the shared client, dialing with backoff on first use.
// PUBSUB_CREDENTIALS_JSON overrides Application Default Credentials.
func GetPubSubClient(ctx context.Context) (*pubsub.Client, error) {
	pubsubMu.Lock()
	defer pubsubMu.Unlock()
	if pubsubClient != nil {
		return pubsubClient, nil
	}

	projectID := PubSubProjectID()
	if projectID == "" {
		return nil, errors.New("pubsub project id not configured")
	}
	var opts []option.ClientOption
	if raw := os.Getenv("PUBSUB_CREDENTIALS_JSON"); raw != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(raw)))
	}

	for attempt := 1; ; attempt++ {
		c, err := pubsub.NewClient(ctx, projectID, opts...)
		if err == nil {
			GetLogger().WithFields(logrus.Fields{"projectId": projectID, "attempt": attempt}).Info("[pubsub.client.ready]")
			pubsubClient = c
			return c, nil
		}

		wait := backoff(attempt)
		GetLogger().WithFields(logrus.Fields{
			"projectId": projectID,
			"attempt":   attempt,
			"retryIn":   wait.String(),
		}).WithError(err).Warn("[pubsub.client.retry]")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func backoff(attempt int) time.Duration {
	wait := time.Second * time.Duration(1<<min(attempt, 5))
	return min(wait, 30*time.Second)
}

func cachedTopic(c *pubsub.Client, name string) *pubsub.Topic {
	pubsubMu.Lock()
	defer pubsubMu.Unlock()
	t, ok := pubsubTopics[name]
	if !ok {
		t = c.Topic(name)
		pubsubTopics[name] = t
	}
	return t
}

// EnsureTopic creates topic when it does not exist yet.
func EnsureTopic(ctx context.Context, c *pubsub.Client, topic string) (*pubsub.Topic, error) {
	if c == nil {
		return nil, errors.New("pubsub client is nil")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	t := c.Topic(topic)
	exists, err := t.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check topic %q: %w", topic, err)
	}
	if exists {
		return t, nil
	}
	if t, err = c.CreateTopic(ctx, topic); err != nil {
		return nil, fmt.Errorf("create topic %q: %w", topic, err)
	}
	return t, nil
}

// EnsurePushSubscription creates or repoints a push subscription on topic so
// that deliveries land on endpoint.
func EnsurePushSubscription(ctx context.Context, c *pubsub.Client, topic *pubsub.Topic, name, endpoint string, ackDeadline time.Duration) (*pubsub.Subscription, error) {
	if name == "" || endpoint == "" {
		return nil, errors.New("subscription name and endpoint are required")
	}
	push := pubsub.PushConfig{Endpoint: endpoint}
	sub := c.Subscription(name)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check subscription %q: %w", name, err)
	}
	if exists {
		if _, err := sub.Update(ctx, pubsub.SubscriptionConfigToUpdate{PushConfig: &push, AckDeadline: ackDeadline}); err != nil {
			return nil, fmt.Errorf("update subscription %q: %w", name, err)
		}
		return sub, nil
	}
	sub, err = c.CreateSubscription(ctx, name, pubsub.SubscriptionConfig{
		Topic:       topic,
		PushConfig:  push,
		AckDeadline: ackDeadline,
	})
	if err != nil {
		return nil, fmt.Errorf("create subscription %q: %w", name, err)
	}
	return sub, nil
}

// PublishJSON marshals obj onto topicName and returns the server-assigned message ID.
func PublishJSON(ctx context.Context, topicName string, obj any, attrs map[string]string) (string, error) {
	if topicName == "" {
		return "", errors.New("topic is required")
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return "", err
	}
	client, err := GetPubSubClient(ctx)
	if err != nil {
		return "", err
	}
	return cachedTopic(client, topicName).Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs}).Get(ctx)
}

// ClosePubSub flushes cached topics and releases the shared client.
func ClosePubSub() error {
	pubsubMu.Lock()
	defer pubsubMu.Unlock()
	for name, t := range pubsubTopics {
		t.Stop()
		delete(pubsubTopics, name)
	}
	if pubsubClient == nil {
		return nil
	}
	err := pubsubClient.Close()
	pubsubClient = nil
	return err
}
