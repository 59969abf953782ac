package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/genie-room/backend/internal/model/conversation"
	store "github.com/zhouzirui/genie-room/backend/internal/service/conversation"
	"github.com/zhouzirui/genie-room/backend/internal/service/events"
	"github.com/zhouzirui/genie-room/backend/internal/service/genie"
	"github.com/zhouzirui/genie-room/backend/internal/service/orchestrator"
)

type instantGenie struct{}

func (instantGenie) StartConversation(_ context.Context, spaceID, _ string) (genie.PollHandle, error) {
	return genie.PollHandle{SpaceID: spaceID, ConversationID: "remote", MessageID: "m1"}, nil
}

func (instantGenie) SendMessage(_ context.Context, spaceID, conversationID, _ string) (genie.PollHandle, error) {
	return genie.PollHandle{SpaceID: spaceID, ConversationID: conversationID, MessageID: "m2"}, nil
}

func (instantGenie) PollStatus(context.Context, genie.PollHandle) (genie.PollResult, error) {
	return genie.PollResult{Status: genie.StatusCompleted, Answer: "1,204 shipments"}, nil
}

func (instantGenie) SendFeedback(context.Context, genie.PollHandle, string) error { return nil }

type received struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversationId"`
	Data           map[string]any `json:"data"`
}

func setup(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	st := store.NewStore()
	broker := events.NewBroker(16)
	orch := orchestrator.New(st, instantGenie{}, broker, orchestrator.Options{
		SpaceID:         "space-1",
		PollInterval:    time.Millisecond,
		PollMaxAttempts: 3,
	})
	t.Cleanup(orch.Close)

	r := chi.NewRouter()
	New(orch, st, broker).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, st
}

func dial(t *testing.T, srv *httptest.Server, conversationID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + conversationID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(received) bool) received {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg received
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if match(msg) {
			return msg
		}
	}
}

func TestAskOverWebSocket(t *testing.T) {
	srv, st := setup(t)
	conv, err := st.CreateConversation(context.Background(), "space-1")
	if err != nil {
		t.Fatalf("CreateConversation err: %v", err)
	}

	conn := dial(t, srv, conv.ID)
	hello := readUntil(t, conn, func(m received) bool { return m.Type == "connected" })
	if hello.ConversationID != conv.ID {
		t.Fatalf("unexpected conversation %q", hello.ConversationID)
	}

	if err := conn.WriteJSON(map[string]any{"type": "ask", "data": map[string]string{"question": "How many shipments?"}}); err != nil {
		t.Fatalf("write: %v", err)
	}

	done := readUntil(t, conn, func(m received) bool {
		return m.Type == "event" && m.Data["type"] == string(events.TurnCompleted)
	})
	turn, ok := done.Data["turn"].(map[string]any)
	if !ok {
		t.Fatalf("missing turn in %+v", done.Data)
	}
	if turn["answer"] != "1,204 shipments" {
		t.Fatalf("unexpected answer %v", turn["answer"])
	}

	stored, err := st.GetConversation(context.Background(), conv.ID)
	if err != nil {
		t.Fatalf("GetConversation err: %v", err)
	}
	if len(stored.Turns) != 1 || stored.Turns[0].Status != conversation.StatusCompleted {
		t.Fatalf("unexpected stored turns %+v", stored.Turns)
	}
}

func TestWebSocketRejectsUnknownMessages(t *testing.T) {
	srv, st := setup(t)
	conv, _ := st.CreateConversation(context.Background(), "space-1")

	conn := dial(t, srv, conv.ID)
	readUntil(t, conn, func(m received) bool { return m.Type == "connected" })

	if err := conn.WriteJSON(map[string]any{"type": "shout"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := readUntil(t, conn, func(m received) bool { return m.Type == "error" })
	if !strings.Contains(msg.Data["message"].(string), "unsupported") {
		t.Fatalf("unexpected error %+v", msg.Data)
	}

	if err := conn.WriteJSON(map[string]any{"type": "ask", "data": map[string]string{"question": ""}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntil(t, conn, func(m received) bool { return m.Type == "error" })
}

func TestWebSocketUnknownConversation(t *testing.T) {
	srv, _ := setup(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/missing"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 response, got %+v", resp)
	}
}

// changingStore completes a turn right after the snapshot is read.
type changingStore struct {
	*store.Store
	broker *events.Broker
}

func (s changingStore) GetConversation(ctx context.Context, id string) (conversation.Conversation, error) {
	conv, err := s.Store.GetConversation(ctx, id)
	if err != nil {
		return conv, err
	}
	s.broker.Publish(events.Event{
		Type:           events.TurnCompleted,
		ConversationID: id,
		Turn:           conversation.Turn{ID: "t1", ConversationID: id, Status: conversation.StatusCompleted},
	})
	return conv, nil
}

func TestWebSocketKeepsEventsAfterSnapshot(t *testing.T) {
	st := store.NewStore()
	broker := events.NewBroker(16)
	orch := orchestrator.New(st, instantGenie{}, broker, orchestrator.DefaultOptions())
	t.Cleanup(orch.Close)

	r := chi.NewRouter()
	New(orch, changingStore{Store: st, broker: broker}, broker).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	conv, err := st.CreateConversation(context.Background(), "space-1")
	if err != nil {
		t.Fatalf("CreateConversation err: %v", err)
	}

	conn := dial(t, srv, conv.ID)
	first := readUntil(t, conn, func(received) bool { return true })
	if first.Type != "connected" {
		t.Fatalf("expected snapshot first, got %q", first.Type)
	}
	evt := readUntil(t, conn, func(m received) bool { return m.Type == "event" })
	if evt.Data["type"] != string(events.TurnCompleted) {
		t.Fatalf("unexpected event %+v", evt.Data)
	}
}

func TestWebSocketUnknownConversationReleasesSubscription(t *testing.T) {
	st := store.NewStore()
	broker := events.NewBroker(16)
	orch := orchestrator.New(st, instantGenie{}, broker, orchestrator.DefaultOptions())
	t.Cleanup(orch.Close)

	r := chi.NewRouter()
	New(orch, st, broker).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/missing"
	if _, _, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Fatal("expected dial to fail")
	}
	deadline := time.Now().Add(time.Second)
	for broker.Subscribers("missing") != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscription was not released")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
