package space

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/genie-room/backend/internal/handler/apierror"
	"github.com/zhouzirui/genie-room/backend/internal/model/space"
	"github.com/zhouzirui/genie-room/backend/pkg/utils"
)

// Provider returns the space the UI is attached to.
type Provider interface {
	Get(ctx context.Context) (space.Info, error)
}

// Handler serves the Genie space header: title, description and sample questions.
type Handler struct {
	spaces Provider
}

// New creates the space handler.
func New(spaces Provider) *Handler {
	return &Handler{spaces: spaces}
}

// RegisterRoutes mounts the space route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/space", h.handleGetSpace)
}

func (h *Handler) handleGetSpace(w http.ResponseWriter, r *http.Request) {
	info, err := h.spaces.Get(r.Context())
	if err != nil {
		apierror.Respond(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, info)
}
