package stream

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/genie-room/backend/internal/handler/apierror"
	store "github.com/zhouzirui/genie-room/backend/internal/service/conversation"
	"github.com/zhouzirui/genie-room/backend/internal/service/events"
	"github.com/zhouzirui/genie-room/backend/pkg/utils"
)

const defaultHeartbeat = 15 * time.Second

// Handler streams turn events for one conversation as Server-Sent Events.
type Handler struct {
	store     *store.Store
	broker    *events.Broker
	heartbeat time.Duration
}

// New creates a stream handler.
func New(st *store.Store, broker *events.Broker) *Handler {
	return &Handler{store: st, broker: broker, heartbeat: defaultHeartbeat}
}

// RegisterRoutes mounts the event stream route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/conversations/{id}/events", h.handleEvents)
}

// handleEvents sends a "snapshot" event with the conversation, then one event
// per turn change until the client goes away.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	conversationID := chi.URLParam(r, "id")
	// Subscribe before reading the snapshot so no change falls in between.
	ch, cancel := h.broker.Subscribe(conversationID)
	defer cancel()

	conv, err := h.store.GetConversation(r.Context(), conversationID)
	if err != nil {
		apierror.Respond(w, r, err)
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	if err := utils.SendSSEEvent(w, flusher, "snapshot", conv); err != nil {
		return
	}

	logger := log.With().Str("conversation_id", conversationID).Logger()
	logger.Debug().Msg("event stream opened")
	defer logger.Debug().Msg("event stream closed")

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := utils.SendSSEEvent(w, flusher, string(evt.Type), evt); err != nil {
				logger.Debug().Err(err).Msg("event stream write failed")
				return
			}
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "heartbeat"); err != nil {
				return
			}
		}
	}
}
