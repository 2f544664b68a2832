package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lexdesk/claims_backend/config"
	"github.com/lexdesk/claims_backend/notify"
	"github.com/lexdesk/claims_backend/utils"
	"github.com/sirupsen/logrus"
)

// PubSubPushEnvelope is the body Pub/Sub POSTs to a push subscription.
type PubSubPushEnvelope struct {
	Message struct {
		Data       []byte            `json:"data,omitempty"`
		ID         string            `json:"messageId"`
		Attributes map[string]string `json:"attributes,omitempty"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

const notifyLockTTL = time.Minute

// notifyPushHandler delivers queued notification jobs. Malformed messages are
// acked with 204 so they are not redelivered; delivery failures answer 500 so
// Pub/Sub retries them.
func notifyPushHandler(app *application) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := app.logger
		if !config.EnvBoolDefault("ENABLE_NOTIFY_PUSH_ENDPOINT", true) {
			c.Status(http.StatusNoContent)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			config.LogError(logger, "notifyPush.go", "notifyPushHandler", "io.ReadAll", nil, err)
			c.Status(http.StatusNoContent)
			return
		}

		// byte slice unmarshalling handles base64 decoding.
		var envelope PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			config.LogError(logger, "notifyPush.go", "notifyPushHandler", "Unmarshal body", string(body), err)
			c.Status(http.StatusNoContent)
			return
		}

		job, err := notify.DecodeJob(envelope.Message.Data)
		if err != nil {
			config.LogError(logger, "notifyPush.go", "notifyPushHandler", "DecodeJob", envelope.Message.ID, err)
			c.Status(http.StatusNoContent)
			return
		}

		if app.deliverer == nil {
			config.LogError(logger, "notifyPush.go", "notifyPushHandler", "no mail transport configured", job.Kind, errors.New("MAIL_HOST is not set"))
			c.Status(http.StatusInternalServerError)
			return
		}

		correlationID := job.CorrelationId
		if correlationID == "" {
			correlationID = envelope.Message.ID
		}
		ctx := utils.SetCorrelationIdInContext(c.Request.Context(), correlationID)
		fields := logrus.Fields{
			"kind":           job.Kind,
			"tracking_code":  job.TrackingCode,
			"message_id":     envelope.Message.ID,
			"correlation_id": correlationID,
		}

		deliver := func(ctx context.Context) error {
			return notify.Deliver(ctx, app.deliverer, job)
		}
		// A redelivery racing an in-flight attempt is nacked.
		if envelope.Message.ID != "" && app.locker != nil && app.locker() != nil {
			err = utils.WithLock(ctx, app.locker(), "notify:"+envelope.Message.ID, notifyLockTTL, deliver)
			if errors.Is(err, utils.ErrLockNotObtained) {
				logger.WithFields(fields).Warn("[notify.push.in_flight]")
				c.Status(http.StatusConflict)
				return
			}
		} else {
			err = deliver(ctx)
		}
		app.metrics.RecordNotification(string(job.Kind)+"_push", err)
		if err != nil {
			logger.WithFields(fields).Error("[notify.push.failed] " + err.Error())
			c.Status(http.StatusInternalServerError)
			return
		}

		logger.WithFields(fields).Info("[notify.push.delivered]")
		c.Status(http.StatusNoContent)
	}
}
