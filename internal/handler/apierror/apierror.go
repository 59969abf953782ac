// Package apierror maps service errors onto HTTP responses.
package apierror

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/genie-room/backend/internal/service/conversation"
	"github.com/zhouzirui/genie-room/backend/internal/service/genie"
	"github.com/zhouzirui/genie-room/backend/internal/service/orchestrator"
	"github.com/zhouzirui/genie-room/backend/pkg/utils"
)

// Status returns the HTTP status and client-facing message for err.
func Status(err error) (int, string) {
	switch {
	case errors.Is(err, conversation.ErrQuestionRequired):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, conversation.ErrConversationNotFound),
		errors.Is(err, conversation.ErrTurnNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, conversation.ErrConversationBusy),
		errors.Is(err, conversation.ErrTurnFinalized),
		errors.Is(err, orchestrator.ErrTurnNotRetryable),
		errors.Is(err, orchestrator.ErrFeedbackNotAllowed):
		return http.StatusConflict, err.Error()
	case errors.Is(err, orchestrator.ErrClosed):
		return http.StatusServiceUnavailable, "server is shutting down"
	}

	if kind, ok := genie.KindOf(err); ok {
		switch kind {
		case genie.KindTransient:
			return http.StatusServiceUnavailable, "Genie is temporarily unavailable"
		case genie.KindPermission:
			return http.StatusBadGateway, "access to the Genie space was denied"
		case genie.KindNotFound:
			return http.StatusBadGateway, "the Genie space could not be found"
		default:
			return http.StatusBadGateway, "Genie request failed"
		}
	}
	return http.StatusInternalServerError, "internal error"
}

// Respond writes err using Status. Server-side failures are logged.
func Respond(w http.ResponseWriter, r *http.Request, err error) {
	status, message := Status(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request failed")
	}
	utils.RespondError(w, status, message)
}
