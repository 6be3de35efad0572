package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// RegistryEvent is the payload published for every committed registry change
// (client fields committed, document expiring, act extracted).
type RegistryEvent struct {
	ID            int             `json:"id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	ReferenceId   int             `json:"reference_id"`
	ReferenceType string          `json:"reference_type"`
	Action        string          `json:"action"`
	Author        string          `json:"author,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CorrelationId string          `json:"correlation_id,omitempty"`
}

// OrderingKey keeps events of the same client or act in commit order.
func (e RegistryEvent) OrderingKey() string {
	return e.ReferenceType + ":" + strconv.Itoa(e.ReferenceId)
}

var (
	pubsubMu     sync.Mutex
	pubsubClient *pubsub.Client
	pubsubTopics = map[string]*pubsub.Topic{}
)

// PubSubEnabled is false when no project or topic is configured; the outbox
// then stays pending and the dispatcher is not started.
func PubSubEnabled() bool {
	return pubSubProjectID() != "" && os.Getenv("PUBSUB_TOPIC") != ""
}

func pubSubProjectID() string {
	return EnvString("PUBSUB_PROJECT_ID", os.Getenv("GOOGLE_CLOUD_PROJECT"))
}

// registryTopic returns the cached topic handle, creating the client on first
// use. ADC is used unless PUBSUB_CREDENTIALS_JSON is set.
func registryTopic(ctx context.Context, name string) (*pubsub.Topic, error) {
	if name == "" {
		return nil, errors.New("PUBSUB_TOPIC is required")
	}
	pubsubMu.Lock()
	defer pubsubMu.Unlock()

	if t, ok := pubsubTopics[name]; ok {
		return t, nil
	}
	if pubsubClient == nil {
		projectID := pubSubProjectID()
		if projectID == "" {
			return nil, errors.New("PUBSUB_PROJECT_ID/GOOGLE_CLOUD_PROJECT not set")
		}
		var opts []option.ClientOption
		if cred := os.Getenv("PUBSUB_CREDENTIALS_JSON"); cred != "" {
			opts = append(opts, option.WithCredentialsJSON([]byte(cred)))
		}
		c, err := pubsub.NewClient(ctx, projectID, opts...)
		if err != nil {
			return nil, fmt.Errorf("pubsub client (project %s): %w", projectID, err)
		}
		pubsubClient = c
		GetLogger().WithFields(logrus.Fields{"field": "pubsub", "project_id": projectID}).Info("pubsub client ready")
	}

	t := pubsubClient.Topic(name)
	t.EnableMessageOrdering = true
	pubsubTopics[name] = t
	return t, nil
}

// CreateTopicIfNotExists is used on first deploys and against the emulator.
func CreateTopicIfNotExists(ctx context.Context, name string) (*pubsub.Topic, error) {
	t, err := registryTopic(ctx, name)
	if err != nil {
		return nil, err
	}
	ok, err := t.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		return t, nil
	}
	if _, err := pubsubClient.CreateTopic(ctx, name); err != nil {
		return nil, fmt.Errorf("create topic %q: %w", name, err)
	}
	return t, nil
}

// PublishRegistryEvent publishes to PUBSUB_TOPIC and returns the server-assigned
// message ID. Action is carried as an attribute so subscribers can filter.
func PublishRegistryEvent(ctx context.Context, msg RegistryEvent) (string, error) {
	t, err := registryTopic(ctx, os.Getenv("PUBSUB_TOPIC"))
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	key := msg.OrderingKey()
	id, err := t.Publish(ctx, &pubsub.Message{
		Data:        data,
		OrderingKey: key,
		Attributes: map[string]string{
			"action":         msg.Action,
			"reference_type": msg.ReferenceType,
		},
	}).Get(ctx)
	if err != nil {
		// a failed publish pauses the key until resumed
		t.ResumePublish(key)
		return "", err
	}
	return id, nil
}
