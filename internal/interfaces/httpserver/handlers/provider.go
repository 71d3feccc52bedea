package handlers

import (
	"github.com/rs/zerolog"

	"github.com/zapqual/engine/internal/domain/batch"
	"github.com/zapqual/engine/internal/domain/dedupe"
	"github.com/zapqual/engine/internal/domain/message"
	"github.com/zapqual/engine/internal/domain/session"
	"github.com/zapqual/engine/internal/domain/spin"
)

// Provider wires all HTTP handlers for dependency injection.
type Provider struct {
	Webhook *WebhookHandler
	Session *SessionHandler
}

// NewProvider constructs the handler provider with domain services.
func NewProvider(
	guard *dedupe.Guard,
	coalescer *batch.Coalescer,
	sessions session.Repository,
	messages message.Repository,
	machine *spin.Machine,
	verifyToken string,
	log zerolog.Logger,
) *Provider {
	return &Provider{
		Webhook: NewWebhookHandler(guard, coalescer, verifyToken, log),
		Session: NewSessionHandler(sessions, messages, machine, log),
	}
}
