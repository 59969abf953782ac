package apierror

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/zhouzirui/genie-room/backend/internal/service/conversation"
	"github.com/zhouzirui/genie-room/backend/internal/service/genie"
	"github.com/zhouzirui/genie-room/backend/internal/service/orchestrator"
)

func TestStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"question required", conversation.ErrQuestionRequired, http.StatusBadRequest},
		{"conversation missing", conversation.ErrConversationNotFound, http.StatusNotFound},
		{"turn missing", fmt.Errorf("lookup: %w", conversation.ErrTurnNotFound), http.StatusNotFound},
		{"busy", conversation.ErrConversationBusy, http.StatusConflict},
		{"not retryable", orchestrator.ErrTurnNotRetryable, http.StatusConflict},
		{"feedback", orchestrator.ErrFeedbackNotAllowed, http.StatusConflict},
		{"closed", orchestrator.ErrClosed, http.StatusServiceUnavailable},
		{"genie transient", &genie.Error{Kind: genie.KindTransient}, http.StatusServiceUnavailable},
		{"genie permission", &genie.Error{Kind: genie.KindPermission, StatusCode: 403}, http.StatusBadGateway},
		{"genie malformed", &genie.Error{Kind: genie.KindMalformed}, http.StatusBadGateway},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, msg := Status(tc.err)
			if got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
			if msg == "" {
				t.Fatal("expected a message")
			}
		})
	}
}
