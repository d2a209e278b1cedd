package notify

import (
	"context"
	"encoding/json"

	"cloud.google.com/go/pubsub"

	"bitbucket.org/mmdatafocus/exchange_backend/config"
	"bitbucket.org/mmdatafocus/exchange_backend/models"
	"bitbucket.org/mmdatafocus/exchange_backend/utils"
)

// pubsubBackend publishes the transition event to the exchange-events topic
// for downstream consumers (mails, chat bots, analytics).
type pubsubBackend struct{}

func NewPubSubBackend() backend {
	return &pubsubBackend{}
}

func (b *pubsubBackend) Name() string {
	return models.NotifyBackendPubSub
}

func (b *pubsubBackend) Deliver(ctx context.Context, _ *models.ScopeConfig, notification *models.Notification, event *TransitionEvent) error {
	topicName := utils.StringFromEnv("EXCHANGE_EVENTS_TOPIC", "exchange-events")

	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}

	var data []byte
	if event != nil {
		data, err = json.Marshal(event)
	} else {
		data, err = json.Marshal(notification)
	}
	if err != nil {
		return err
	}

	topic := client.Topic(topicName)
	res := topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"scopeId": notification.ScopeId,
			"level":   notification.Level,
		},
	})
	_, err = res.Get(ctx)
	return err
}
