package conversation

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/genie-room/backend/internal/handler/apierror"
	model "github.com/zhouzirui/genie-room/backend/internal/model/conversation"
	store "github.com/zhouzirui/genie-room/backend/internal/service/conversation"
	"github.com/zhouzirui/genie-room/backend/internal/service/orchestrator"
	"github.com/zhouzirui/genie-room/backend/pkg/utils"
)

// Handler exposes conversations and turns over HTTP.
type Handler struct {
	orch  *orchestrator.Orchestrator
	store *store.Store
}

// New creates the conversation handler.
func New(orch *orchestrator.Orchestrator, st *store.Store) *Handler {
	return &Handler{orch: orch, store: st}
}

// RegisterRoutes mounts the conversation routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/conversations", h.handleList)
	r.Post("/conversations", h.handleCreate)
	r.Get("/conversations/{id}", h.handleGet)
	r.Delete("/conversations/{id}", h.handleDelete)
	r.Post("/conversations/{id}/messages", h.handleAsk)
	r.Get("/conversations/{id}/turns/{turnID}", h.handleGetTurn)
	r.Post("/conversations/{id}/turns/{turnID}/feedback", h.handleFeedback)
	r.Post("/conversations/{id}/turns/{turnID}/retry", h.handleRetry)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"conversations": h.store.ListConversations(r.Context()),
	})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Question string `json:"question"`
		Replaces string `json:"replaces"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	conv, err := h.orch.StartConversation(r.Context(), payload.Question, payload.Replaces)
	if err != nil {
		apierror.Respond(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, conv)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	conv, err := h.store.GetConversation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		apierror.Respond(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, conv)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.DeleteConversation(r.Context(), chi.URLParam(r, "id")); err != nil {
		apierror.Respond(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAsk submits a question. With ?wait=true the response holds until the
// turn is completed or failed.
func (h *Handler) handleAsk(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Question string `json:"question"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	conversationID := chi.URLParam(r, "id")
	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	if !wait {
		turn, err := h.orch.Submit(r.Context(), conversationID, payload.Question)
		if err != nil {
			apierror.Respond(w, r, err)
			return
		}
		utils.RespondJSON(w, http.StatusAccepted, turn)
		return
	}

	turn, err := h.orch.Ask(r.Context(), conversationID, payload.Question)
	if err != nil {
		if turn.ID != "" && r.Context().Err() != nil {
			utils.RespondJSON(w, http.StatusAccepted, turn)
			return
		}
		apierror.Respond(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, turn)
}

func (h *Handler) handleGetTurn(w http.ResponseWriter, r *http.Request) {
	turn, err := h.store.GetTurn(r.Context(), turnHandle(r))
	if err != nil {
		apierror.Respond(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, turn)
}

func (h *Handler) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Feedback string `json:"feedback"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	feedback, ok := model.ParseFeedback(payload.Feedback)
	if !ok {
		utils.RespondError(w, http.StatusBadRequest, "feedback must be one of none, positive, negative")
		return
	}

	turn, err := h.orch.SendFeedback(r.Context(), turnHandle(r), feedback)
	if err != nil {
		apierror.Respond(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, turn)
}

func (h *Handler) handleRetry(w http.ResponseWriter, r *http.Request) {
	turn, err := h.orch.Retry(r.Context(), turnHandle(r))
	if err != nil {
		apierror.Respond(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusAccepted, turn)
}

func turnHandle(r *http.Request) model.TurnHandle {
	return model.TurnHandle{
		ConversationID: chi.URLParam(r, "id"),
		TurnID:         chi.URLParam(r, "turnID"),
	}
}
