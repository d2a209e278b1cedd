package reconcile

import (
	"context"
	"encoding/json"
	"io"

	"cloud.google.com/go/pubsub"
	"github.com/gin-gonic/gin"

	"bitbucket.org/mmdatafocus/exchange_backend/config"
	"bitbucket.org/mmdatafocus/exchange_backend/models"
	"bitbucket.org/mmdatafocus/exchange_backend/utils"
)

type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// RunTriggerPayload asks a worker instance to execute one reconciliation pass.
type RunTriggerPayload struct {
	Pass         string `json:"pass"`
	TriggeredBy  string `json:"triggered_by"`
	ForceRefresh bool   `json:"force_refresh"`
}

// PublishRunTrigger fans a pass request out over Pub/Sub so whichever worker
// instance receives the push executes it.
func PublishRunTrigger(ctx context.Context, payload RunTriggerPayload) error {
	topicName := utils.StringFromEnv("RECONCILE_TOPIC", "exchange-reconcile")

	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}

	topic := client.Topic(topicName)
	if utils.BoolFromEnv("RECONCILE_CREATE_TOPIC", false) {
		topic, err = config.CreateTopicIfNotExists(client, topicName)
		if err != nil {
			return err
		}
	}

	data, _ := json.Marshal(payload)
	res := topic.Publish(ctx, &pubsub.Message{Data: data})
	_, err = res.Get(ctx)
	return err
}

// PubSubPushHandler accepts the push subscription's POST and runs the
// requested pass. Always responds 204: Pub/Sub retries are pointless for
// malformed envelopes, and pass failures are recorded on the run row.
// Duplicate deliveries are absorbed by the per-message idempotency key.
func PubSubPushHandler(orchestrator *Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !utils.BoolFromEnv("ENABLE_RECONCILE_PUSH_ENDPOINT", true) {
			c.Status(204)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(204)
			return
		}

		var envelope PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			c.Status(204)
			return
		}

		var payload RunTriggerPayload
		if err := json.Unmarshal(envelope.Message.Data, &payload); err != nil {
			c.Status(204)
			return
		}
		if payload.Pass != models.ReconcilePassFast && payload.Pass != models.ReconcilePassSlow {
			c.Status(204)
			return
		}

		db := config.GetDB()
		if db != nil && envelope.Message.ID != "" {
			skip, err := BeginIdempotency(db, "engine", "reconcile_push", envelope.Message.ID)
			if err != nil || skip {
				c.Status(204)
				return
			}
			defer func() {
				_ = MarkIdempotencySucceeded(db, "engine", "reconcile_push", envelope.Message.ID)
			}()
		}

		ctx := c.Request.Context()
		triggeredBy := payload.TriggeredBy
		if triggeredBy == "" {
			triggeredBy = models.ReconcileTriggeredManual
		}
		if payload.Pass == models.ReconcilePassSlow {
			_, _ = orchestrator.RunSlowPass(ctx, triggeredBy, payload.ForceRefresh)
		} else {
			_, _ = orchestrator.RunFastPass(ctx, triggeredBy, payload.ForceRefresh)
		}
		c.Status(204)
	}
}

