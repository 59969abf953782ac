package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/genie-room/backend/internal/handler/apierror"
	"github.com/zhouzirui/genie-room/backend/internal/model/conversation"
	"github.com/zhouzirui/genie-room/backend/internal/service/events"
	"github.com/zhouzirui/genie-room/backend/internal/service/orchestrator"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// Snapshots reads the current state of a conversation.
type Snapshots interface {
	GetConversation(ctx context.Context, id string) (conversation.Conversation, error)
}

// Handler runs a two-way channel for one conversation: clients send
// questions and feedback, the server pushes turn events.
type Handler struct {
	orch     *orchestrator.Orchestrator
	store    Snapshots
	broker   *events.Broker
	upgrader websocket.Upgrader
}

// New creates the websocket handler.
func New(orch *orchestrator.Orchestrator, st Snapshots, broker *events.Broker) *Handler {
	return &Handler{
		orch:   orch,
		store:  st,
		broker: broker,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the websocket route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{conversationID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type askMessage struct {
	Question string `json:"question"`
}

type turnMessage struct {
	TurnID   string `json:"turnId"`
	Feedback string `json:"feedback,omitempty"`
}

type outgoingMessage struct {
	Type           string      `json:"type"`
	ConversationID string      `json:"conversationId,omitempty"`
	Data           interface{} `json:"data,omitempty"`
	Timestamp      int64       `json:"timestamp"`
}

// session serialises writes; gorilla allows one concurrent writer.
type session struct {
	conn           *websocket.Conn
	conversationID string
	logger         zerolog.Logger

	mu sync.Mutex
}

func (s *session) send(msgType string, data interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	msg := outgoingMessage{
		Type:           msgType,
		ConversationID: s.conversationID,
		Data:           data,
		Timestamp:      time.Now().Unix(),
	}
	if err := s.conn.WriteJSON(msg); err != nil {
		s.logger.Debug().Err(err).Str("type", msgType).Msg("websocket write failed")
	}
}

func (s *session) sendError(message string) {
	s.send("error", map[string]string{"message": message})
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	// Subscribe before reading the snapshot so no change falls in between.
	evts, unsubscribe := h.broker.Subscribe(conversationID)
	defer unsubscribe()

	conv, err := h.store.GetConversation(r.Context(), conversationID)
	if err != nil {
		apierror.Respond(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sess := &session{
		conn:           conn,
		conversationID: conversationID,
		logger:         log.With().Str("conversation_id", conversationID).Logger(),
	}
	sess.logger.Info().Msg("websocket connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	sess.send("connected", conv)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.pingLoop(ctx, conn)
	}()
	go func() {
		defer wg.Done()
		h.forwardEvents(ctx, sess, evts)
	}()
	defer wg.Wait()
	defer cancel()

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				sess.logger.Warn().Err(err).Msg("websocket read error")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		h.handleMessage(ctx, sess, &msg)
	}
}

func (h *Handler) handleMessage(ctx context.Context, sess *session, msg *inboundMessage) {
	switch msg.Type {
	case "ask":
		var ask askMessage
		if err := json.Unmarshal(msg.Data, &ask); err != nil {
			sess.sendError("invalid ask payload")
			return
		}
		turn, err := h.orch.Submit(ctx, sess.conversationID, ask.Question)
		if err != nil {
			_, message := apierror.Status(err)
			sess.sendError(message)
			return
		}
		sess.send("accepted", turn)
	case "feedback":
		var payload turnMessage
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			sess.sendError("invalid feedback payload")
			return
		}
		feedback, ok := conversation.ParseFeedback(payload.Feedback)
		if !ok {
			sess.sendError("feedback must be one of none, positive, negative")
			return
		}
		if _, err := h.orch.SendFeedback(ctx, h.handle(sess, payload.TurnID), feedback); err != nil {
			_, message := apierror.Status(err)
			sess.sendError(message)
		}
	case "retry":
		var payload turnMessage
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			sess.sendError("invalid retry payload")
			return
		}
		turn, err := h.orch.Retry(ctx, h.handle(sess, payload.TurnID))
		if err != nil {
			_, message := apierror.Status(err)
			sess.sendError(message)
			return
		}
		sess.send("accepted", turn)
	case "ping":
		sess.send("pong", nil)
	default:
		sess.sendError("unsupported message type: " + msg.Type)
	}
}

func (h *Handler) handle(sess *session, turnID string) conversation.TurnHandle {
	return conversation.TurnHandle{ConversationID: sess.conversationID, TurnID: turnID}
}

func (h *Handler) forwardEvents(ctx context.Context, sess *session, evts <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-evts:
			if !ok {
				return
			}
			sess.send("event", evt)
		}
	}
}

func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
