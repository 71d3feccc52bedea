package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/zapqual/engine/internal/domain/message"
	"github.com/zapqual/engine/internal/domain/session"
	"github.com/zapqual/engine/internal/domain/spin"
	"github.com/zapqual/engine/internal/interfaces/httpserver/responses"
)

// SessionHandler serves read-only projections of sessions and their
// message history from the durable store.
type SessionHandler struct {
	sessions session.Repository
	messages message.Repository
	machine  *spin.Machine
	log      zerolog.Logger
}

// NewSessionHandler constructs the session handler.
func NewSessionHandler(sessions session.Repository, messages message.Repository, machine *spin.Machine, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		messages: messages,
		machine:  machine,
		log:      log.With().Str("handler", "session").Logger(),
	}
}

// Get returns the qualification state of one session.
func (h *SessionHandler) Get(reqCtx *gin.Context) {
	sessionKey := session.Key(reqCtx.Param("org_id"), reqCtx.Param("address"))

	state, err := h.sessions.GetByKey(reqCtx.Request.Context(), sessionKey)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			responses.HandleError(reqCtx, http.StatusNotFound, "session not found")
			return
		}
		h.log.Error().Err(err).Str("session_key", sessionKey).Msg("failed to load session")
		responses.HandleError(reqCtx, http.StatusInternalServerError, "failed to load session")
		return
	}

	reqCtx.JSON(http.StatusOK, responses.SessionFromDomain(state, h.machine.Qualified(state)))
}

// Messages returns the recent message history of one session in
// chronological order.
func (h *SessionHandler) Messages(reqCtx *gin.Context) {
	sessionKey := session.Key(reqCtx.Param("org_id"), reqCtx.Param("address"))

	limit := 50
	if raw := reqCtx.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			responses.HandleError(reqCtx, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = parsed
	}

	msgs, err := h.messages.ListBySession(reqCtx.Request.Context(), sessionKey, limit)
	if err != nil {
		h.log.Error().Err(err).Str("session_key", sessionKey).Msg("failed to list messages")
		responses.HandleError(reqCtx, http.StatusInternalServerError, "failed to list messages")
		return
	}

	reqCtx.JSON(http.StatusOK, responses.MessagesFromDomain(msgs))
}
