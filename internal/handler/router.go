package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zhouzirui/genie-room/backend/internal/handler/conversation"
	spaceHandler "github.com/zhouzirui/genie-room/backend/internal/handler/space"
	"github.com/zhouzirui/genie-room/backend/internal/handler/stream"
	"github.com/zhouzirui/genie-room/backend/internal/handler/ws"
	"github.com/zhouzirui/genie-room/backend/internal/middleware"
	convStore "github.com/zhouzirui/genie-room/backend/internal/service/conversation"
	"github.com/zhouzirui/genie-room/backend/internal/service/events"
	"github.com/zhouzirui/genie-room/backend/internal/service/orchestrator"
	"github.com/zhouzirui/genie-room/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(orch *orchestrator.Orchestrator, store *convStore.Store, broker *events.Broker, spaces spaceHandler.Provider) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(middleware.Metrics)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		spaceHandler.New(spaces).RegisterRoutes(api)
		conversation.New(orch, store).RegisterRoutes(api)
		stream.New(store, broker).RegisterRoutes(api)
		ws.New(orch, store, broker).RegisterRoutes(api)
	})

	return r
}
