package stream

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/genie-room/backend/internal/model/conversation"
	store "github.com/zhouzirui/genie-room/backend/internal/service/conversation"
	"github.com/zhouzirui/genie-room/backend/internal/service/events"
)

func setupServer(t *testing.T) (*httptest.Server, *store.Store, *events.Broker) {
	t.Helper()
	st := store.NewStore()
	broker := events.NewBroker(8)

	r := chi.NewRouter()
	New(st, broker).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, st, broker
}

// readEvent returns the next "event:" name and its data line.
func readEvent(t *testing.T, reader *bufio.Reader) (string, string) {
	t.Helper()
	var name, data string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && name != "":
			return name, data
		}
	}
}

func TestEventsStreamSnapshotThenTurnEvents(t *testing.T) {
	srv, st, broker := setupServer(t)
	conv, err := st.CreateConversation(context.Background(), "space-1")
	if err != nil {
		t.Fatalf("CreateConversation err: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/conversations/"+conv.ID+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	name, data := readEvent(t, reader)
	if name != "snapshot" || !strings.Contains(data, conv.ID) {
		t.Fatalf("expected snapshot, got %s %s", name, data)
	}

	deadline := time.Now().Add(time.Second)
	for broker.Subscribers(conv.ID) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	turn := conversation.Turn{ID: "t1", ConversationID: conv.ID, Question: "q", Status: conversation.StatusCompleted}
	broker.Publish(events.ForTurn(turn))

	name, data = readEvent(t, reader)
	if name != string(events.TurnCompleted) {
		t.Fatalf("expected turn.completed, got %s", name)
	}
	if !strings.Contains(data, `"id":"t1"`) {
		t.Fatalf("unexpected payload %s", data)
	}
}

func TestEventsStreamUnknownConversation(t *testing.T) {
	srv, _, broker := setupServer(t)

	resp, err := http.Get(srv.URL + "/conversations/missing/events")
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if n := broker.Subscribers("missing"); n != 0 {
		t.Fatalf("expected subscription to be released, got %d", n)
	}
}
