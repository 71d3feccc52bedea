package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zapqual/engine/internal/domain/batch"
	"github.com/zapqual/engine/internal/domain/dedupe"
	"github.com/zapqual/engine/internal/domain/session"
	"github.com/zapqual/engine/internal/infrastructure/metrics"
	"github.com/zapqual/engine/internal/interfaces/httpserver/requests"
	"github.com/zapqual/engine/internal/interfaces/httpserver/responses"
)

// WebhookHandler is the gateway-facing intake: verification handshake,
// idempotency guard and handoff to the batch coalescer.
type WebhookHandler struct {
	guard       *dedupe.Guard
	coalescer   *batch.Coalescer
	verifyToken string
	log         zerolog.Logger
}

// NewWebhookHandler constructs the webhook handler.
func NewWebhookHandler(guard *dedupe.Guard, coalescer *batch.Coalescer, verifyToken string, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		guard:       guard,
		coalescer:   coalescer,
		verifyToken: verifyToken,
		log:         log.With().Str("handler", "webhook").Logger(),
	}
}

// Verify answers the gateway's subscription handshake: echo the challenge
// when the verify token matches.
func (h *WebhookHandler) Verify(reqCtx *gin.Context) {
	mode := reqCtx.Query("hub.mode")
	token := reqCtx.Query("hub.verify_token")
	challenge := reqCtx.Query("hub.challenge")

	if mode != "subscribe" || h.verifyToken == "" || token != h.verifyToken {
		responses.HandleError(reqCtx, http.StatusForbidden, "verification failed")
		return
	}
	reqCtx.String(http.StatusOK, challenge)
}

// Receive accepts a delivery envelope. Event types other than
// message.received are acknowledged and dropped so the gateway does not
// retry them. Each message is deduplicated independently; duplicates are
// acknowledged, never errors. Failure to answer the dedupe question at
// all yields 503 so the gateway retries.
func (h *WebhookHandler) Receive(reqCtx *gin.Context) {
	var event requests.WebhookEvent
	if err := reqCtx.ShouldBindJSON(&event); err != nil {
		responses.HandleError(reqCtx, http.StatusBadRequest, "invalid webhook payload")
		return
	}

	if event.Type != requests.EventTypeMessageReceived {
		h.log.Debug().Str("event_type", event.Type).Msg("ignoring non-message event")
		metrics.RecordInbound("ignored")
		reqCtx.JSON(http.StatusOK, responses.WebhookAccepted{Results: []responses.AcceptedMessage{}})
		return
	}
	if event.OrgID == "" || len(event.Messages) == 0 {
		responses.HandleError(reqCtx, http.StatusBadRequest, "invalid webhook payload")
		return
	}

	ctx := reqCtx.Request.Context()
	out := responses.WebhookAccepted{Results: make([]responses.AcceptedMessage, 0, len(event.Messages))}

	for _, inbound := range event.Messages {
		duplicate, err := h.guard.IsDuplicate(ctx, inbound.ID)
		if err != nil {
			h.log.Error().Err(err).
				Str("provider_message_id", inbound.ID).
				Msg("idempotency guard unavailable")
			metrics.RecordInbound("error")
			responses.HandleError(reqCtx, http.StatusServiceUnavailable, "intake temporarily unavailable")
			return
		}
		if duplicate {
			metrics.RecordInbound("duplicate")
			out.Results = append(out.Results, responses.AcceptedMessage{
				ProviderMessageID: inbound.ID,
				Duplicate:         true,
			})
			continue
		}

		sessionKey := session.Key(event.OrgID, inbound.From)
		pending := batch.PendingMessage{
			ProviderID:    inbound.ID,
			Address:       inbound.From,
			Text:          inbound.Text,
			CorrelationID: uuid.NewString(),
			Timestamp:     inboundTimestamp(inbound.Timestamp),
		}
		if err := h.coalescer.OnInboundAccepted(ctx, sessionKey, event.OrgID, pending); err != nil {
			h.log.Error().Err(err).
				Str("session_key", sessionKey).
				Str("provider_message_id", inbound.ID).
				Msg("failed to queue inbound message")
			// The message was never queued or stored; release the dedupe
			// marker so the gateway's retry is admitted.
			if forgetErr := h.guard.Forget(ctx, inbound.ID); forgetErr != nil {
				h.log.Warn().Err(forgetErr).
					Str("provider_message_id", inbound.ID).
					Msg("failed to release dedupe marker")
			}
			metrics.RecordInbound("error")
			responses.HandleError(reqCtx, http.StatusServiceUnavailable, "intake temporarily unavailable")
			return
		}

		metrics.RecordInbound("accepted")
		out.Results = append(out.Results, responses.AcceptedMessage{
			ProviderMessageID: inbound.ID,
			CorrelationID:     pending.CorrelationID,
		})
	}

	reqCtx.JSON(http.StatusAccepted, out)
}

func inboundTimestamp(unix int64) time.Time {
	if unix <= 0 {
		return time.Now()
	}
	return time.Unix(unix, 0)
}
